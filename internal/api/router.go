package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/medai-portal/internal/auth"
	"github.com/hackgods/medai-portal/internal/logger"
	"github.com/hackgods/medai-portal/internal/metrics"
	"github.com/hackgods/medai-portal/internal/profile"
	"github.com/hackgods/medai-portal/internal/session"
)

type RouterConfig struct {
	Accounts *auth.Service
	Profiles profile.Store
	Sessions *session.Manager
	Tokens   *session.TokenIssuer
	Log      *logger.Logger
	Metrics  metrics.Recorder

	// MetricsHandler is mounted on /metrics when set.
	MetricsHandler http.Handler

	PostgresPing PingFunc
	RedisPing    PingFunc

	SignInRatePerMin int
	// SignInLimiter is used for the auth routes when set, so the caller can
	// run its cleanup loop. Otherwise one is built from SignInRatePerMin.
	SignInLimiter *IPRateLimiter
	SecureCookies    bool
	Env              string
	Version          string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(RecoveryMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PostgresPing, cfg.RedisPing, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	h := NewHandlers(cfg.Accounts, cfg.Profiles, cfg.Log, cfg.Metrics)
	r.Get("/departments", h.Departments)

	limiter := cfg.SignInLimiter
	if limiter == nil {
		limiter = NewIPRateLimiter(cfg.SignInRatePerMin)
	}

	r.Group(func(r chi.Router) {
		r.Use(SessionMiddleware(cfg.Sessions, cfg.Tokens, cfg.SecureCookies))

		r.With(limiter.Middleware).Post("/auth/signin", h.SignIn)
		r.With(limiter.Middleware).Post("/auth/signup", h.SignUp)
		r.Post("/auth/logout", h.Logout)

		r.Get("/session", h.Session)
		r.Post("/session/navigate", h.Navigate)
		r.Post("/session/back", h.Back)
		r.Post("/session/specialization", h.SelectSpecialization)

		r.Get("/profile", h.Profile)
		r.Post("/profile/records", h.AppendRecord)

		r.Get("/portal/patients", h.PortalPatients)
		r.Post("/portal/patients", h.RegisterPatient)
		r.Post("/patients/{id}/records", h.AppendPatientRecord)
	})

	return r
}
