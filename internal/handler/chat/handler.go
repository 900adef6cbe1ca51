package chat

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/gemini-chat/internal/logging"
	"github.com/zhouzirui/gemini-chat/internal/presenter"
	chatService "github.com/zhouzirui/gemini-chat/internal/service/chat"
	"github.com/zhouzirui/gemini-chat/internal/service/transcript"
	"github.com/zhouzirui/gemini-chat/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc   *chatService.Service
	presenter *presenter.Presenter
	log       zerolog.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, p *presenter.Presenter) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		presenter: p,
		log:       logging.Component("chat-handler"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGetTranscript)
		r.Delete("/", h.handleCloseSession)
		r.Post("/messages", h.handleSubmit)
		r.Post("/reset", h.handleReset)
	})
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProfileID string `json:"profileId"`
	}

	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.ProfileID)
	if err != nil {
		if errors.Is(err, chatService.ErrProfileNotFound) {
			utils.RespondError(w, http.StatusBadRequest, "profile not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.presenter.Build(sessionID, ctrl.Snapshot()))
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.chatSvc.CloseSession(r.Context(), sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmit 提交用户消息，回复通过 SSE 或 WebSocket 推送
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sessionID, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := ctrl.Submit(r.Context(), payload.Text); err != nil {
		if errors.Is(err, transcript.ErrGenerationInProgress) {
			utils.RespondError(w, http.StatusConflict, err.Error())
			return
		}
		h.log.Error().Err(err).Str("session", sessionID).Msg("submit failed")
		utils.RespondError(w, http.StatusInternalServerError, "submit failed")
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, h.presenter.Build(sessionID, ctrl.Snapshot()))
}

// handleReset 开启新对话
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	if err := ctrl.Reset(r.Context()); err != nil {
		// The transcript is already cleared; the model session is retried on the next submit.
		h.log.Warn().Err(err).Str("session", sessionID).Msg("reset could not create a model session")
	}

	utils.RespondJSON(w, http.StatusOK, h.presenter.Build(sessionID, ctrl.Snapshot()))
}

func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (string, *transcript.Controller, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	ctrl, err := h.chatSvc.Controller(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return sessionID, nil, false
	}
	return sessionID, ctrl, true
}
