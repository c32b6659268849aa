package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dogwood/dashboard-client/internal/config"
	"github.com/dogwood/dashboard-client/internal/handler/chat"
	"github.com/dogwood/dashboard-client/internal/handler/dashboard"
	"github.com/dogwood/dashboard-client/internal/handler/session"
	middlewarePkg "github.com/dogwood/dashboard-client/internal/middleware"
	"github.com/dogwood/dashboard-client/internal/service/auth"
	chatService "github.com/dogwood/dashboard-client/internal/service/chat"
	dashboardService "github.com/dogwood/dashboard-client/internal/service/dashboard"
	"github.com/dogwood/dashboard-client/internal/service/gate"
	sessionService "github.com/dogwood/dashboard-client/internal/service/session"
	"github.com/dogwood/dashboard-client/pkg/utils"
)

// loadWait bounds how long a protected request waits for the session to load.
const loadWait = 2 * time.Second

// Dependencies are the services the shell routes to.
type Dependencies struct {
	Config       *config.Config
	Sessions     *sessionService.Store
	Auth         *auth.Service
	Chat         *chatService.Service
	Conversation *chatService.Conversation
	Dashboard    *dashboardService.Client
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.Config.Server.AllowedOrigin))

	sessionHandler := session.New(deps.Auth)
	dashboardHandler := dashboard.New(deps.Dashboard, deps.Sessions)
	chatHandler := chat.New(deps.Chat, deps.Conversation, deps.Config.Chat)
	requireSession := middlewarePkg.RequireSession(deps.Sessions, loadWait)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"sessionLoaded": deps.Sessions.Loaded(),
		})
	})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, gate.DefaultLandingPath, http.StatusFound)
	})
	r.Get(gate.LoginPath, sessionHandler.HandleLoginPage)

	r.Group(func(protected chi.Router) {
		protected.Use(requireSession)
		protected.Get(gate.DefaultLandingPath, dashboardHandler.HandlePage)
	})

	r.Route("/api", func(api chi.Router) {
		sessionHandler.RegisterRoutes(api)

		api.Group(func(protected chi.Router) {
			protected.Use(requireSession)
			dashboardHandler.RegisterRoutes(protected)
			chatHandler.RegisterRoutes(protected)
		})
	})

	return r
}
