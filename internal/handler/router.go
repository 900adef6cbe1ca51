package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/gemini-chat/internal/handler/chat"
	"github.com/zhouzirui/gemini-chat/internal/handler/profile"
	"github.com/zhouzirui/gemini-chat/internal/handler/stream"
	"github.com/zhouzirui/gemini-chat/internal/handler/web"
	"github.com/zhouzirui/gemini-chat/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/gemini-chat/internal/middleware"
	profileModel "github.com/zhouzirui/gemini-chat/internal/model/profile"
	"github.com/zhouzirui/gemini-chat/internal/presenter"
	chatService "github.com/zhouzirui/gemini-chat/internal/service/chat"
	"github.com/zhouzirui/gemini-chat/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(profiles profileModel.Store, chatSvc *chatService.Service, p *presenter.Presenter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	profileHandler := profile.New(profiles)
	chatHandler := chat.New(chatSvc, p)
	streamHandler := stream.New(chatSvc, p)
	wsHandler := ws.New(chatSvc, p)

	web.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		profileHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)

		api.NotFound(func(w http.ResponseWriter, r *http.Request) {
			utils.RespondError(w, http.StatusNotFound, "not found")
		})
	})

	return r
}
