package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/go-calendar-nosql/internal/application/approval"
	"github.com/go-calendar-nosql/internal/application/auth"
	"github.com/go-calendar-nosql/internal/application/calendar"
	"github.com/go-calendar-nosql/internal/application/event"
	"github.com/go-calendar-nosql/internal/application/user"
	"github.com/go-calendar-nosql/internal/config"
	jwtinfra "github.com/go-calendar-nosql/internal/infrastructure/jwt"
	"github.com/go-calendar-nosql/internal/transport/http/handler"
	appmiddleware "github.com/go-calendar-nosql/internal/transport/http/middleware"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	UserRepo           UserRepository
	CalendarRepo       CalendarRepository
	CalendarMemberRepo CalendarMemberRepository
	EventRepo          EventRepository
	EventMemberRepo    EventMemberRepository
	TokenRepo          TokenRepository
	ObjectStore        ObjectStore
	Notifier           Notifier
	JWTProvider        *jwtinfra.Provider
	// Ready reports whether storage is reachable. Nil means always ready.
	Ready func(context.Context) error
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	// 5 requests/second, burst of 10, applied to sensitive public endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	approvalSvc := approval.NewService(approval.ServiceDeps{TokenRepo: deps.TokenRepo, Now: now})
	calendarSvc := calendar.NewService(calendar.ServiceDeps{
		UserRepo:        deps.UserRepo,
		CalendarRepo:    deps.CalendarRepo,
		MemberRepo:      deps.CalendarMemberRepo,
		EventRepo:       deps.EventRepo,
		EventMemberRepo: deps.EventMemberRepo,
		Approvals:       approvalSvc,
		Notifier:        deps.Notifier,
		InviteTTL:       cfg.CalendarInviteTTL,
		Now:             now,
	})
	eventSvc := event.NewService(event.ServiceDeps{
		UserRepo:           deps.UserRepo,
		CalendarRepo:       deps.CalendarRepo,
		CalendarMemberRepo: deps.CalendarMemberRepo,
		EventRepo:          deps.EventRepo,
		EventMemberRepo:    deps.EventMemberRepo,
		Approvals:          approvalSvc,
		Notifier:           deps.Notifier,
		InviteTTL:          cfg.EventInviteTTL,
		Now:                now,
	})
	authSvc := auth.NewService(auth.ServiceDeps{
		UserRepo:       deps.UserRepo,
		Calendars:      calendarSvc,
		Approvals:      approvalSvc,
		Notifier:       deps.Notifier,
		JWTProvider:    deps.JWTProvider,
		VerifyTTL:      cfg.EmailVerifyTTL,
		ResendCooldown: cfg.VerifyResendCooldown,
		Now:            now,
	})
	userSvc := user.NewService(user.ServiceDeps{UserRepo: deps.UserRepo, ObjectStore: deps.ObjectStore})

	healthH := handler.NewHealthHandler(deps.Ready)
	authH := handler.NewAuthHandler(authSvc)
	userH := handler.NewUserHandler(userSvc)
	calendarH := handler.NewCalendarHandler(calendarSvc)
	eventH := handler.NewEventHandler(eventSvc)

	authMw := appmiddleware.Auth(deps.JWTProvider)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/auth/register", authH.Register)
		r.With(sensitiveRL.Limit).Post("/auth/login", authH.Login)
		r.Get("/verify-email", authH.VerifyEmail)
		r.With(sensitiveRL.Limit, appmiddleware.OptionalAuth(deps.JWTProvider)).
			Post("/verify-email/resend", authH.ResendVerification)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/users/me", userH.GetMe)
			r.Put("/users/me", userH.UpdateMe)
			r.Put("/users/me/avatar", userH.UploadAvatar)
			r.Get("/users/mail/{email}", userH.GetByEmail)
			r.Get("/users/{id}", userH.Get)
			r.Get("/users/{id}/avatar", userH.Avatar)

			r.Get("/calendars", calendarH.List)
			r.Post("/calendars", calendarH.Create)
			r.Route("/calendars/{calendarId}", func(r chi.Router) {
				r.Get("/", calendarH.Get)
				r.Patch("/", calendarH.Update)
				r.Delete("/", calendarH.Delete)
				r.Get("/export.ics", eventH.Export)

				r.Get("/members", calendarH.ListMembers)
				r.Post("/members", calendarH.Invite)
				r.Put("/members/{userId}", calendarH.UpdateMemberRole)
				r.Delete("/members/{userId}", calendarH.RemoveMember)

				r.Get("/events", eventH.List)
				r.Post("/events", eventH.Create)
				r.Get("/events/{eventId}", eventH.Get)
				r.Patch("/events/{eventId}", eventH.Update)
				r.Delete("/events/{eventId}", eventH.Delete)
				r.Get("/events/{eventId}/members", eventH.ListMembers)
				r.Post("/events/{eventId}/members", eventH.Invite)
				r.Delete("/events/{eventId}/members/{userId}", eventH.RemoveMember)
			})

			r.Post("/calendar-invites/{action}", calendarH.InviteAction)
			r.Post("/event-invites/{action}", eventH.InviteAction)
			r.Get("/events/shared", eventH.ListShared)
		})
	})

	return r
}
