package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/application/messaging"
	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/transport/http/dto"
	"github.com/courierhq/courier/internal/transport/http/middleware"
	"github.com/courierhq/courier/internal/transport/http/response"
	"github.com/courierhq/courier/internal/transport/http/validate"
)

type MessagesHandler struct {
	svc *messaging.Service
}

func NewMessagesHandler(svc *messaging.Service) *MessagesHandler {
	return &MessagesHandler{svc: svc}
}

func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req dto.SendMessageReq
	if err := validate.DecodeJSON(r, &req); err != nil {
		response.Err(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		response.Err(w, r, err)
		return
	}

	res, err := h.svc.Send(r.Context(), dto.ToSendCmd(middleware.UserID(r), req))
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Accepted(w, dto.ToSendResp(res))
}

func (h *MessagesHandler) SendBatch(w http.ResponseWriter, r *http.Request) {
	var req dto.SendBatchReq
	if err := validate.DecodeJSON(r, &req); err != nil {
		response.Err(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		response.Err(w, r, err)
		return
	}

	userID := middleware.UserID(r)
	cmds := make([]messaging.SendCmd, 0, len(req.Messages))
	for _, m := range req.Messages {
		cmds = append(cmds, dto.ToSendCmd(userID, m))
	}
	results, err := h.svc.SendBatch(r.Context(), cmds)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	resps := make([]dto.SendResp, 0, len(results))
	for _, res := range results {
		resps = append(resps, dto.ToSendResp(res))
	}
	response.Accepted(w, resps)
}

func (h *MessagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathUUID(r, "message_id")
	if err != nil {
		response.Err(w, r, err)
		return
	}
	detail, err := h.svc.GetMessage(r.Context(), messageID, middleware.UserID(r))
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, dto.ToMessageResp(detail))
}

func (h *MessagesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	page, err := h.svc.ListMessages(r.Context(), middleware.UserID(r), limit, offset)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, dto.ToMessagePageResp(page))
}

func (h *MessagesHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathUUID(r, "message_id")
	if err != nil {
		response.Err(w, r, err)
		return
	}
	attempts, err := h.svc.GetAttempts(r.Context(), messageID, middleware.UserID(r))
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, dto.ToAttemptResps(attempts))
}

func (h *MessagesHandler) Retry(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathUUID(r, "message_id")
	if err != nil {
		response.Err(w, r, err)
		return
	}
	res, err := h.svc.RetryMessage(r.Context(), messageID, middleware.UserID(r))
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Accepted(w, dto.ToRetryResp(res))
}

func (h *MessagesHandler) RetryDestination(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathUUID(r, "message_id")
	if err != nil {
		response.Err(w, r, err)
		return
	}
	destinationID, err := pathUUID(r, "destination_id")
	if err != nil {
		response.Err(w, r, err)
		return
	}
	res, err := h.svc.RetryDestination(r.Context(), messageID, destinationID, middleware.UserID(r))
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Accepted(w, dto.ToRetryResp(res))
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, domain.ErrValidationMeta("malformed id", map[string]string{name: "must be a uuid"})
	}
	return id, nil
}
