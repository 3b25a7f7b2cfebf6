package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/erasure/internal/compose"
	"github.com/JakeFAU/erasure/internal/config"
	"github.com/JakeFAU/erasure/internal/crawler"
	"github.com/JakeFAU/erasure/internal/domaincache"
	"github.com/JakeFAU/erasure/internal/ledger"
	"github.com/JakeFAU/erasure/internal/mail"
	"github.com/JakeFAU/erasure/internal/metrics"
)

const maxBodyBytes = 1 << 20

// TaskView is the read side of the task ledger.
type TaskView interface {
	Entries() map[string]ledger.TrackedTask
	Status(website, email string) (ledger.TrackedTask, bool)
}

// Crawler runs one contact crawl.
type Crawler interface {
	Crawl(ctx context.Context, seedURL string) crawler.CrawlResult
}

// Deps are the collaborators behind the handlers. Cache, Mail and Ready are
// optional.
type Deps struct {
	Tasks   TaskView
	Crawler Crawler
	Cache   *domaincache.Cache
	Mail    mail.Sender
	Ready   func(ctx context.Context) error
	Now     func() time.Time
	Logger  *zap.Logger
}

// Server wires HTTP handlers to the ledger, crawler and composer.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if cfg.Metrics.Enabled {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{website}/{email}", s.getTask)
		r.Post("/crawl", s.crawlSite)
		r.Post("/compose", s.composeEmail)
		r.Post("/send", s.sendEmail)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type taskView struct {
	Key            string          `json:"key"`
	Status         ledger.Status   `json:"status"`
	CompletionDate time.Time       `json:"completion_date"`
	Details        json.RawMessage `json:"details,omitempty"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	filter := ledger.Status(r.URL.Query().Get("status"))
	entries := s.deps.Tasks.Entries()
	tasks := make([]taskView, 0, len(entries))
	for key, task := range entries {
		if filter != "" && task.Status != filter {
			continue
		}
		tasks = append(tasks, taskView{
			Key:            key,
			Status:         task.Status,
			CompletionDate: task.CompletionDate,
			Details:        task.Details,
		})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Key < tasks[j].Key })
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	website := chi.URLParam(r, "website")
	email := chi.URLParam(r, "email")
	task, ok := s.deps.Tasks.Status(website, email)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, taskView{
		Key:            ledger.Key(website, email),
		Status:         task.Status,
		CompletionDate: task.CompletionDate,
		Details:        task.Details,
	})
}

type crawlRequest struct {
	URL string `json:"url"`
}

type crawlResponse struct {
	Seed       string              `json:"seed"`
	Result     crawler.CrawlResult `json:"result"`
	Report     string              `json:"report"`
	Mailto     []string            `json:"mailto"`
	Recipients []string            `json:"recipients"`
}

func (s *Server) crawlSite(w http.ResponseWriter, r *http.Request) {
	if s.deps.Crawler == nil {
		writeError(w, http.StatusServiceUnavailable, "crawler not configured")
		return
	}
	var req crawlRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	seed, err := crawler.NormalizeSeed(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := s.deps.Crawler.Crawl(r.Context(), seed)
	mailto := crawler.CollectMailto(result)
	writeJSON(w, http.StatusOK, crawlResponse{
		Seed:       seed,
		Result:     result,
		Report:     crawler.FormatResults(result),
		Mailto:     mailto,
		Recipients: compose.RankRecipients(mailto),
	})
}

// composeRequest pairs an optional delegation envelope with the request
// fields. Contacts are discovered addresses the caller already holds.
type composeRequest struct {
	Delegation json.RawMessage `json:"delegation,omitempty"`
	Request    compose.Context `json:"request"`
	Contacts   []string        `json:"contacts,omitempty"`
}

type composeResponse struct {
	Delegation *compose.Delegation `json:"delegation,omitempty"`
	Recipient  string              `json:"recipient,omitempty"`
	Email      compose.Request     `json:"email"`
}

func (s *Server) composeEmail(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var resp composeResponse
	if len(req.Delegation) > 0 {
		d, err := compose.DecodeDelegation(req.Delegation)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp.Delegation = &d
	}

	c := req.Request
	if c.PrivacyLaw == "" {
		c.PrivacyLaw = s.cfg.Workflow.PrivacyLaw
	}
	if c.ResponseDays == 0 {
		c.ResponseDays = s.cfg.Workflow.ResponseDays
	}
	if c.Date.IsZero() {
		c.Date = s.deps.Now()
	}
	var curated []string
	if s.deps.Cache != nil && c.Website != "" {
		if entry, ok := s.deps.Cache.Get(c.Website); ok {
			curated = entry.ContactEmails
			if c.Instructions == "" {
				c.Instructions = entry.Instructions
			}
		}
	}

	email, err := compose.Render(c)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp.Email = email
	recipient, err := compose.SelectRecipient(curated, req.Contacts)
	if err != nil && !errors.Is(err, compose.ErrNoRecipient) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Recipient = recipient
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) sendEmail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Mail == nil {
		writeError(w, http.StatusServiceUnavailable, "mail not configured")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	in, err := compose.DecodeSendInput(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.deps.Mail.Send(r.Context(), mail.Outgoing{
		From:    s.cfg.Mail.Sender,
		To:      in.To,
		Subject: in.Subject,
		Text:    in.Body,
		HTML:    in.HTMLContent,
	})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, mail.ErrMailServiceInit) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("send failed", zap.Strings("to", in.To), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": id})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
