package http

import (
	"github.com/go-api-notify/internal/application/notification"
	"github.com/go-api-notify/internal/application/preference"
	"github.com/go-api-notify/internal/application/push"
	jwtinfra "github.com/go-api-notify/internal/infrastructure/jwt"
	"github.com/go-api-notify/internal/transport/http/handler"
)

// Deps holds the application services the router exposes.
type Deps struct {
	Notifications notification.Service
	Preferences   preference.Service
	Push          push.Service
	Dispatcher    handler.Dispatcher
	Reminders     handler.ReminderScheduler
	Realtime      handler.SocketServer
	Cache         handler.Pinger
	JWTProvider   *jwtinfra.Provider
}
