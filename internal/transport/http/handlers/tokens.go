package handlers

import (
	"net/http"

	"github.com/courierhq/courier/internal/application/messaging"
	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/transport/http/dto"
	"github.com/courierhq/courier/internal/transport/http/middleware"
	"github.com/courierhq/courier/internal/transport/http/response"
	"github.com/courierhq/courier/internal/transport/http/validate"
)

type TokensHandler struct {
	svc *messaging.Service
}

func NewTokensHandler(svc *messaging.Service) *TokensHandler {
	return &TokensHandler{svc: svc}
}

func (h *TokensHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterTokenReq
	if err := validate.DecodeJSON(r, &req); err != nil {
		response.Err(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		response.Err(w, r, err)
		return
	}

	token, err := h.svc.RegisterToken(r.Context(), middleware.UserID(r), domain.Platform(req.Platform), req.AccessToken, req.RefreshToken)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Created(w, dto.ToTokenResp(token))
}

func (h *TokensHandler) List(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.svc.ListTokens(r.Context(), middleware.UserID(r))
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, dto.ToTokenResps(tokens))
}
