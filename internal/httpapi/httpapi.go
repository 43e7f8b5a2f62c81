package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"financeiro/backend/internal/closing"
	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/report"
	"financeiro/backend/internal/sales"
	"financeiro/backend/internal/service"
	"financeiro/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		logger:        logger,
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})

	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/login", a.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", a.requireAuth(a.handleMe)).Methods(http.MethodGet)
	api.HandleFunc("/auth/switch-store", a.requireAuth(a.handleSwitchStore)).Methods(http.MethodPost)

	api.HandleFunc("/users", a.requireAuth(a.handleListUsers, domain.RoleAdmin)).Methods(http.MethodGet)
	api.HandleFunc("/users", a.requireAuth(a.handleCreateUser, domain.RoleAdmin)).Methods(http.MethodPost)

	api.HandleFunc("/categories", a.requireAuth(a.handleListCategories)).Methods(http.MethodGet)
	api.HandleFunc("/categories", a.requireAuth(a.handleCreateCategory)).Methods(http.MethodPost)
	api.HandleFunc("/categories/{id:[0-9]+}", a.requireAuth(a.handleUpdateCategory)).Methods(http.MethodPut)
	api.HandleFunc("/categories/{id:[0-9]+}", a.requireAuth(a.handleDeleteCategory)).Methods(http.MethodDelete)

	api.HandleFunc("/suppliers", a.requireAuth(a.handleListSuppliers)).Methods(http.MethodGet)
	api.HandleFunc("/suppliers", a.requireAuth(a.handleCreateSupplier)).Methods(http.MethodPost)

	api.HandleFunc("/payables/{id:[0-9]+}", a.requireAuth(a.handleGetPayable)).Methods(http.MethodGet)
	api.HandleFunc("/payables/{id:[0-9]+}", a.requireAuth(a.handleUpdatePayable)).Methods(http.MethodPut)
	api.HandleFunc("/payables/{id:[0-9]+}", a.requireAuth(a.handleDeletePayable)).Methods(http.MethodDelete)
	api.HandleFunc("/payables/{id:[0-9]+}/status", a.requireAuth(a.handlePayableStatus)).Methods(http.MethodPatch)

	api.HandleFunc("/fee-profiles/{id:[0-9]+}", a.requireAuth(a.handleToggleFeeProfile, domain.RoleAdmin)).Methods(http.MethodPatch)

	st := api.PathPrefix("/stores/{storeID:[0-9]+}").Subrouter()
	st.HandleFunc("/payables", a.requireAuth(a.handleListPayables)).Methods(http.MethodGet)
	st.HandleFunc("/payables", a.requireAuth(a.handleCreatePayable)).Methods(http.MethodPost)
	st.HandleFunc("/fee-profiles", a.requireAuth(a.handleListFeeProfiles)).Methods(http.MethodGet)
	st.HandleFunc("/fee-profiles", a.requireAuth(a.handleCreateFeeProfile, domain.RoleAdmin)).Methods(http.MethodPost)
	st.HandleFunc("/bank-accounts", a.requireAuth(a.handleListBankAccounts)).Methods(http.MethodGet)
	st.HandleFunc("/bank-accounts", a.requireAuth(a.handleCreateBankAccount, domain.RoleAdmin)).Methods(http.MethodPost)
	st.HandleFunc("/closings", a.requireAuth(a.handleListClosings)).Methods(http.MethodGet)
	st.HandleFunc("/closings/{year:[0-9]+}/{month:[0-9]+}", a.requireAuth(a.handleGetClosing)).Methods(http.MethodGet)
	st.HandleFunc("/closings/{year:[0-9]+}/{month:[0-9]+}", a.requireAuth(a.handleExecuteClosing)).Methods(http.MethodPost)
	st.HandleFunc("/closings/{year:[0-9]+}/{month:[0-9]+}/conclude", a.requireAuth(a.handleConcludeClosing)).Methods(http.MethodPost)
	st.HandleFunc("/closings/{year:[0-9]+}/{month:[0-9]+}/reopen", a.requireAuth(a.handleReopenClosing)).Methods(http.MethodPost)
	st.HandleFunc("/closings/{year:[0-9]+}/{month:[0-9]+}/export.xlsx", a.requireAuth(a.handleExportClosing)).Methods(http.MethodGet)
	st.HandleFunc("/periods/{year:[0-9]+}/{month:[0-9]+}/lock", a.requireAuth(a.handlePeriodLock)).Methods(http.MethodGet)
	st.HandleFunc("/dashboard/{year:[0-9]+}/{month:[0-9]+}", a.requireAuth(a.handleDashboard)).Methods(http.MethodGet)
	st.HandleFunc("/audit-logs", a.requireAuth(a.handleAuditLogs)).Methods(http.MethodGet)

	return a.withMiddleware(r)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         600,
	})

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		rec := &statusRecorder{ResponseWriter: w}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("elapsed", time.Since(startedAt)),
		)
	})
	return corsHandler.Handler(inner)
}

// writeServiceError maps service errors onto HTTP status codes.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidReference):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrPeriodLocked), errors.Is(err, store.ErrInvalidInput), errors.Is(err, closing.ErrInvalidPeriod):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrInUse), errors.Is(err, report.ErrNoSnapshot):
		status = http.StatusConflict
	case errors.Is(err, closing.ErrMissingFeeRule):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, sales.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		a.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func pathInt64(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 1 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return value, nil
}

// pathPeriod reads {storeID}, {year} and {month} from the route.
func pathPeriod(r *http.Request) (int64, int, int, error) {
	storeID, err := pathInt64(r, "storeID")
	if err != nil {
		return 0, 0, 0, err
	}
	vars := mux.Vars(r)
	year, err := strconv.Atoi(vars["year"])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid year %q", vars["year"])
	}
	month, err := strconv.Atoi(vars["month"])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid month %q", vars["month"])
	}
	return storeID, month, year, nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry the underlying error text.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
		if status == http.StatusServiceUnavailable {
			msg = "sales data source unavailable"
		}
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
