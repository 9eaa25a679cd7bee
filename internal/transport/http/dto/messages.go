package dto

// PayloadReq is the message body of a send request.
type PayloadReq struct {
	Kind   string `json:"kind" validate:"required,oneof=plain formatted"`
	Text   string `json:"text" validate:"required"`
	Format string `json:"format,omitempty" validate:"omitempty,oneof=plain markdown html"`
}

type DestinationReq struct {
	Platform string `json:"platform" validate:"required,oneof=telegram vk max"`
	ChatID   string `json:"chat_id" validate:"required"`
}

type SendMessageReq struct {
	Payload      PayloadReq       `json:"payload" validate:"required"`
	Destinations []DestinationReq `json:"destinations" validate:"required,min=1,max=100,dive"`
}

type SendBatchReq struct {
	Messages []SendMessageReq `json:"messages" validate:"required,min=1,max=20,dive"`
}

type RegisterTokenReq struct {
	Platform     string  `json:"platform" validate:"required,oneof=telegram vk max"`
	AccessToken  string  `json:"access_token" validate:"required"`
	RefreshToken *string `json:"refresh_token,omitempty"`
}
