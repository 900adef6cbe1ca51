package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/gemini-chat/internal/logging"
	"github.com/zhouzirui/gemini-chat/internal/presenter"
	chatService "github.com/zhouzirui/gemini-chat/internal/service/chat"
	"github.com/zhouzirui/gemini-chat/internal/service/transcript"
	"github.com/zhouzirui/gemini-chat/pkg/utils"
)

// 消息类型
const (
	TypeSubmit     = "submit"
	TypeReset      = "reset"
	TypeTranscript = "transcript"
	TypeError      = "error"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Handler WebSocket聊天处理器
type Handler struct {
	chatSvc   *chatService.Service
	presenter *presenter.Presenter
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

// New 创建WebSocket处理器
func New(chatSvc *chatService.Service, p *presenter.Presenter) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		presenter: p,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		log: logging.Component("websocket"),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type submitData struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *conn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctrl, err := h.chatSvc.Controller(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("session", sessionID).Msg("upgrade failed")
		return
	}
	c := &conn{ws: wsConn}
	defer wsConn.Close()

	log := h.log.With().Str("session", sessionID).Logger()
	log.Info().Msg("connection opened")
	defer log.Info().Msg("connection closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Unblocks ReadJSON once the chat closes or the writer gives up.
	stop := context.AfterFunc(ctx, func() { _ = wsConn.Close() })
	defer stop()

	_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	snapshots, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	go h.pingLoop(ctx, c)
	go func() {
		defer cancel()
		h.writeLoop(ctx, c, sessionID, snapshots)
	}()

	for {
		var msg inboundMessage
		if err := wsConn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))

		if ctx.Err() != nil {
			return
		}
		h.handleMessage(ctx, c, ctrl, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *conn, ctrl *transcript.Controller, msg *inboundMessage) {
	switch msg.Type {
	case TypeSubmit:
		var data submitData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			h.sendError(c, "invalid submit payload")
			return
		}
		if err := ctrl.Submit(ctx, data.Text); err != nil {
			h.sendError(c, err.Error())
		}
	case TypeReset:
		if err := ctrl.Reset(ctx); err != nil {
			h.log.Warn().Err(errors.WithStack(err)).Msg("reset could not create a model session")
			h.sendError(c, "new chat started, but the model session could not be created yet")
		}
	default:
		h.sendError(c, "unsupported message type: "+msg.Type)
	}
}

// writeLoop forwards transcript snapshots until the chat closes or the peer leaves.
func (h *Handler) writeLoop(ctx context.Context, c *conn, sessionID string, snapshots <-chan transcript.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "chat closed"),
					time.Now().Add(writeTimeout))
				return
			}
			msg := outgoingMessage{
				Type:      TypeTranscript,
				Data:      h.presenter.Build(sessionID, snap),
				Timestamp: time.Now().Unix(),
			}
			if err := c.writeJSON(msg); err != nil {
				h.log.Debug().Err(err).Str("session", sessionID).Msg("write transcript failed")
				return
			}
		}
	}
}

func (h *Handler) sendError(c *conn, message string) {
	msg := outgoingMessage{
		Type:      TypeError,
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := c.writeJSON(msg); err != nil {
		h.log.Debug().Err(err).Msg("write error failed")
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
