// Package http is the JSON API boundary: routing, auth middleware, rate
// limiting and the mapping from domain errors to status codes.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"trasferte/internal/auth"
	"trasferte/internal/core"
	"trasferte/internal/services"
)

// Service ports consumed by the handlers. Concrete implementations live in
// internal/services; the tests swap in fakes.
type (
	UserAccounts interface {
		Register(ctx context.Context, username, password string, role core.Role) error
		Authenticate(ctx context.Context, username, password string) (core.User, error)
	}

	Ledger interface {
		Submit(ctx context.Context, id auth.Identity, in services.SubmitInput) (core.Expense, error)
		ListMine(ctx context.Context, id auth.Identity) ([]core.EnrichedExpense, error)
	}

	Approvals interface {
		Approve(ctx context.Context, id auth.Identity, expenseID uuid.UUID) (core.Expense, error)
		Reject(ctx context.Context, id auth.Identity, expenseID uuid.UUID) (core.Expense, error)
		ListPending(ctx context.Context, id auth.Identity) ([]core.Expense, error)
	}

	Reports interface {
		AnalyticsByCategory(ctx context.Context, id auth.Identity) ([]core.CategoryAnalytics, error)
		MonthlySummary(ctx context.Context, id auth.Identity, ref time.Time) (core.MonthlySummary, error)
		Report(ctx context.Context, id auth.Identity, f core.ReportFilter) ([]core.ReportRow, error)
	}
)

type Server struct {
	http.Server

	tokens    *auth.Tokens
	accounts  UserAccounts
	ledger    Ledger
	approvals Approvals
	reports   Reports

	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// Simple in-memory rate limiter
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// startCleanup runs periodic cleanup to remove stale client entries
func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, tokens *auth.Tokens, accounts UserAccounts, ledger Ledger, approvals Approvals, reports Reports) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		tokens:      tokens,
		accounts:    accounts,
		ledger:      ledger,
		approvals:   approvals,
		reports:     reports,
		rateLimiter: newRateLimiter(),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /api/auth/register", s.withSecurityHeaders(s.handleRegister))
	mux.HandleFunc("POST /api/auth/login", s.withSecurityHeaders(s.handleLogin))

	mux.HandleFunc("POST /api/expenses/submit", s.withSecurityHeaders(s.withAuth(s.handleSubmit)))
	mux.HandleFunc("GET /api/expenses/my", s.withSecurityHeaders(s.withAuth(s.handleListMine)))
	mux.HandleFunc("GET /api/expenses", s.withSecurityHeaders(s.withAuth(s.handleListPending)))
	mux.HandleFunc("POST /api/expenses/approve", s.withSecurityHeaders(s.withAuth(s.handleApprove)))
	mux.HandleFunc("POST /api/expenses/reject", s.withSecurityHeaders(s.withAuth(s.handleReject)))
	mux.HandleFunc("GET /api/expenses/report", s.withSecurityHeaders(s.withAuth(s.handleReport)))
	mux.HandleFunc("GET /api/expenses/analytics", s.withSecurityHeaders(s.withAuth(s.handleAnalytics)))
	mux.HandleFunc("GET /api/expenses/analytics/monthly", s.withSecurityHeaders(s.withAuth(s.handleMonthlyAnalytics)))

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and request
// logging to responses
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ip := clientIP(r)
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", ip,
			"user_agent", r.Header.Get("User-Agent"))

		// Apply rate limiting to POST requests (writes and auth attempts)
		if r.Method == http.MethodPost && !s.rateLimiter.allow(ip) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", ip, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"client_ip", ip)
	}
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	identityKey  contextKey = "identity"
)

// withAuth verifies the bearer token and stores the resulting Identity in
// the request context. Handlers behind it can assume identityFrom succeeds.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}
		id, err := s.tokens.Verify(raw)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next(w, r.WithContext(ctx))
	}
}

// identityFrom retrieves the verified identity placed by withAuth.
func identityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
