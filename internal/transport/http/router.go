package http

import (
	"net/http"

	"github.com/go-api-notify/internal/config"
	"github.com/go-api-notify/internal/domain"
	"github.com/go-api-notify/internal/transport/http/handler"
	appmiddleware "github.com/go-api-notify/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"authentication is not configured"}`, http.StatusServiceUnavailable)
			})
		}
	}

	// 5 requests/second, burst of 10, for endpoints that write on behalf of other users.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	healthH := handler.NewHealthHandler(deps.Cache)
	notifH := handler.NewNotificationHandler(deps.Notifications)
	prefH := handler.NewPreferenceHandler(deps.Preferences)
	pushH := handler.NewPushHandler(deps.Push, cfg.VAPIDPublicKey)
	rtH := handler.NewRealtimeHandler(deps.Realtime)
	interviewH := handler.NewInterviewHandler(cfg.InterviewJoinBefore, cfg.InterviewDefaultDuration)
	adminH := handler.NewAdminHandler(deps.Dispatcher, deps.Reminders)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Get("/notifications/push/vapid-public-key", pushH.PublicKey)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/notifications", notifH.List)
			r.Get("/notifications/unread-count", notifH.UnreadCount)
			r.Patch("/notifications/mark-all-read", notifH.MarkAllRead)
			r.Patch("/notifications/{id}/read", notifH.MarkRead)
			r.Delete("/notifications/{id}", notifH.Delete)

			r.Get("/notifications/preferences", prefH.Get)
			r.Put("/notifications/preferences", prefH.Update)

			r.Get("/notifications/push/subscriptions", pushH.List)
			r.With(sensitiveRL.Limit).Post("/notifications/push/subscribe", pushH.Subscribe)
			r.Post("/notifications/push/unsubscribe", pushH.Unsubscribe)

			r.Get("/realtime", rtH.Connect)
			r.Get("/video-interviews/join-status", interviewH.JoinStatus)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))
				r.Use(sensitiveRL.Limit)

				r.Post("/admin/notifications", adminH.Dispatch)
				r.Post("/admin/reminders", adminH.ScheduleReminder)
				r.Delete("/admin/reminders/{id}", adminH.CancelReminder)
			})
		})
	})

	return r
}
