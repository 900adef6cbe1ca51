package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/gemini-chat/internal/logging"
	"github.com/zhouzirui/gemini-chat/internal/presenter"
	chatService "github.com/zhouzirui/gemini-chat/internal/service/chat"
	"github.com/zhouzirui/gemini-chat/pkg/utils"
)

// EventTranscript is the SSE event name carrying a rendered transcript.
const EventTranscript = "transcript"

const defaultKeepAlive = 15 * time.Second

// Handler pushes transcript snapshots to browsers via Server-Sent Events.
type Handler struct {
	chatSvc   *chatService.Service
	presenter *presenter.Presenter
	log       zerolog.Logger

	// KeepAlive is the interval between comment lines on an idle stream.
	KeepAlive time.Duration
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, p *presenter.Presenter) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		presenter: p,
		log:       logging.Component("sse"),
		KeepAlive: defaultKeepAlive,
	}
}

// RegisterRoutes 注册流式路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/events", h.handleEvents)
}

// handleEvents streams every transcript change until the client leaves or the chat closes.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctrl, err := h.chatSvc.Controller(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	snapshots, cancel := ctrl.Subscribe()
	defer cancel()

	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	h.log.Debug().Str("session", sessionID).Msg("event stream opened")
	defer h.log.Debug().Str("session", sessionID).Msg("event stream closed")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, EventTranscript, h.presenter.Build(sessionID, snap)); err != nil {
				h.log.Debug().Err(err).Str("session", sessionID).Msg("event stream write failed")
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keep-alive"); err != nil {
				return
			}
		}
	}
}
