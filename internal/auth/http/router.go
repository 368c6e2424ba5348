package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/metrics"
	"github.com/aussiebroadwan/sessionguard/internal/auth/service"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
	"github.com/aussiebroadwan/sessionguard/pkg/authsdk"
	"github.com/aussiebroadwan/sessionguard/pkg/httpx"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/aussiebroadwan/sessionguard/pkg/throttle"

	_ "github.com/aussiebroadwan/sessionguard/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// SessionCookie is the legacy cookie some browser clients still send the
// access credential in. The Authorization header wins when both are present.
const SessionCookie = "sg_access"

// Pinger is implemented by throttle backends that live out of process.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store    store.Store
	guard    throttle.Guard
	policies throttle.Policies
	metrics  *metrics.Metrics

	SessionService *service.SessionService
}

func NewRouter(
	svc *service.SessionService,
	buildVersion string,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:            http.NewServeMux(),
		buildVersion:   buildVersion,
		startTime:      time.Now(),
		logger:         logger,
		store:          svc.Store,
		guard:          svc.Guard,
		policies:       svc.Policies,
		metrics:        svc.Metrics,
		SessionService: svc,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

// TrustProxies lets the listed proxies report the client address. Without it
// the peer address is used for throttling keys and session descriptors.
func (r *Router) TrustProxies(trusted httpx.TrustedProxies) {
	if len(trusted) == 0 {
		return
	}
	r.middlewares = append([]httpx.Middleware{httpx.RealIP(trusted)}, r.middlewares...)
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerSessions()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			SessionGuard Authentication Service API
//	@version		0.1.0
//	@description	Issues short-lived access credentials and single-use renewal credentials,
//	@description	detects renewal reuse and lets users manage their device sessions.
//	@description
//	@description				Credentials are HS256 JWTs. Each kind is signed with its own secret.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/sessionguard
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Access credential. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// throttled wraps h in a per-IP throttle when a guard is configured. Login
// and renew are throttled inside the service with their own keys.
func (r *Router) throttled(h http.Handler, p throttle.Policy, bySubject bool) http.Handler {
	if r.guard == nil {
		return h
	}
	if bySubject {
		return httpx.Chain(h, httpx.ThrottleBySubject(r.guard, p, r.writeLimited))
	}
	return httpx.Chain(h, httpx.ThrottleByIP(r.guard, p, r.writeLimited))
}

// authenticated runs RequireAuth and then the per-subject throttle.
func (r *Router) authenticated(h http.Handler) http.Handler {
	return httpx.Chain(r.throttled(h, r.policies.Sessions, true),
		httpx.RequireAuth(r.SessionService, writeServiceError),
	)
}

func (r *Router) writeLimited(w http.ResponseWriter, _ *http.Request, retryAfter time.Duration) {
	authsdk.ErrRateLimited.WithRetryAfter(retryAfter).WriteError(w)
}

func (r *Router) registerAuth() {
	login := &LoginHandler{Service: r.SessionService}
	renew := &RenewHandler{Service: r.SessionService}
	logout := &LogoutHandler{Service: r.SessionService}
	me := &MeHandler{Service: r.SessionService}

	r.Mux.Handle("POST /auth/login", login)
	r.Mux.Handle("POST /auth/renew", renew)

	// Logout answers 204 whatever it is given, so it does not sit behind
	// RequireAuth.
	r.Mux.Handle("POST /auth/logout", r.throttled(logout, r.policies.Default, false))

	// /auth/me resolves bearer or cookie itself.
	r.Mux.Handle("GET /auth/me", r.throttled(me, r.policies.Default, false))
}

func (r *Router) registerSessions() {
	h := &SessionsHandler{Service: r.SessionService}

	r.Mux.Handle("GET /auth/sessions", r.authenticated(http.HandlerFunc(h.HandleList)))
	r.Mux.Handle("DELETE /auth/sessions/{id}", r.authenticated(http.HandlerFunc(h.HandleRevoke)))
	r.Mux.Handle("DELETE /auth/sessions", r.authenticated(http.HandlerFunc(h.HandleRevokeOthers)))
}

func (r *Router) registerSystem() {
	var pinger Pinger
	if p, ok := r.guard.(Pinger); ok {
		pinger = p
	}

	// Health check endpoints - lenient policy (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez", r.throttled(LivezHandler(r.startTime, r.buildVersion), r.policies.Default, false))
	r.Mux.Handle("GET /readyz", r.throttled(ReadyzHandler(r.startTime, r.buildVersion, r.store, pinger), r.policies.Default, false))
	r.Mux.Handle("GET /metrics", r.metrics.Handler())
}

// deviceContext describes the caller for the session list and audit trail.
func deviceContext(r *http.Request) service.DeviceContext {
	return service.DeviceContext{
		Device:  httpx.DeviceName(r),
		Network: httpx.ClientIP(r),
	}
}
