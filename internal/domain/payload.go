package domain

import (
	"fmt"
	"unicode/utf8"
)

const MaxTextLength = 4096

type PayloadKind string

const (
	PayloadPlain     PayloadKind = "plain"
	PayloadFormatted PayloadKind = "formatted"
)

type TextFormat string

const (
	FormatPlain    TextFormat = "plain"
	FormatMarkdown TextFormat = "markdown"
	FormatHTML     TextFormat = "html"
)

func (f TextFormat) Valid() bool {
	switch f {
	case FormatPlain, FormatMarkdown, FormatHTML:
		return true
	}
	return false
}

// Payload is the message body. Kind is the discriminator: a plain payload
// carries only Text, a formatted one additionally carries Format.
type Payload struct {
	Kind   PayloadKind
	Text   string
	Format TextFormat
}

func NewPlainPayload(text string) (Payload, error) {
	if err := validateText(text); err != nil {
		return Payload{}, err
	}
	return Payload{Kind: PayloadPlain, Text: text, Format: FormatPlain}, nil
}

func NewFormattedPayload(text string, format TextFormat) (Payload, error) {
	if err := validateText(text); err != nil {
		return Payload{}, err
	}
	if !format.Valid() {
		return Payload{}, ErrValidationMeta("invalid text format", map[string]string{"format": string(format)})
	}
	return Payload{Kind: PayloadFormatted, Text: text, Format: format}, nil
}

func validateText(text string) error {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return ErrValidation("text must not be empty")
	}
	if n > MaxTextLength {
		return ErrValidationMeta("text too long", map[string]string{
			"max_length": fmt.Sprintf("%d", MaxTextLength),
		})
	}
	return nil
}
