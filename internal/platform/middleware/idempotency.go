package middleware

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hrmonitor/hrmonitor/internal/platform/auth"
)

const (
	IdempotencyKeyHeader      = "Idempotency-Key"
	IdempotencyReplayedHeader = "X-Idempotency-Replayed"

	DefaultIdempotencyTTL = 24 * time.Hour
	// pendingTTL bounds how long a crashed request can hold its key.
	pendingTTL = time.Minute
)

// IdempotentResponse is a completed write replayed for retries that carry
// the same Idempotency-Key.
type IdempotentResponse struct {
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
}

// IdempotencyStore persists idempotency keys. Implementations must be safe
// for concurrent use and Reserve must be atomic.
type IdempotencyStore interface {
	// Reserve claims key for an in-flight request. It returns the stored
	// response when the key already completed, reserved=true when the caller
	// now owns the key, and neither when another request holds it.
	Reserve(ctx context.Context, key string) (existing *IdempotentResponse, reserved bool, err error)
	// Complete stores the final response under a key previously reserved.
	Complete(ctx context.Context, key string, resp *IdempotentResponse) error
	// Release drops a reservation whose request failed, so a retry can run.
	Release(ctx context.Context, key string) error
}

// Idempotency makes POST handlers safe to retry. Keys are scoped to the
// authenticated user so two callers cannot collide. Only 2xx responses are
// stored; failed requests release their key.
func Idempotency(store IdempotencyStore, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			header := req.Header.Get(IdempotencyKeyHeader)
			if req.Method != http.MethodPost || header == "" {
				return next(c)
			}
			if len(header) > 255 {
				return echo.NewHTTPError(http.StatusBadRequest, "Idempotency-Key is too long")
			}

			ctx := req.Context()
			key := header
			if p, ok := auth.PrincipalFromContext(ctx); ok {
				key = p.UserID + ":" + header
			}

			existing, reserved, err := store.Reserve(ctx, key)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "idempotency store unavailable").SetInternal(err)
			}
			if existing != nil {
				if existing.Method != req.Method || existing.Path != req.URL.Path {
					return echo.NewHTTPError(http.StatusUnprocessableEntity,
						"Idempotency-Key was already used for a different operation")
				}
				return replay(c, existing)
			}
			if !reserved {
				return echo.NewHTTPError(http.StatusConflict,
					"a request with this Idempotency-Key is still in progress")
			}

			origWriter := c.Response().Writer
			rec := &responseRecorder{header: make(http.Header), body: &bytes.Buffer{}, statusCode: http.StatusOK}
			c.Response().Writer = rec
			err = next(c)
			c.Response().Writer = origWriter

			if err != nil || rec.statusCode < 200 || rec.statusCode > 299 {
				if relErr := store.Release(ctx, key); relErr != nil {
					logger.Warn().Err(relErr).Str("idempotency_key", header).Msg("release idempotency key")
				}
				if err != nil {
					return err
				}
			} else {
				resp := &IdempotentResponse{
					Method:     req.Method,
					Path:       req.URL.Path,
					StatusCode: rec.statusCode,
					Header:     rec.header.Clone(),
					Body:       bytes.Clone(rec.body.Bytes()),
					CreatedAt:  time.Now().UTC(),
				}
				if cErr := store.Complete(ctx, key, resp); cErr != nil {
					logger.Warn().Err(cErr).Str("idempotency_key", header).Msg("store idempotent response")
				}
			}

			for k, vals := range rec.header {
				origWriter.Header()[k] = vals
			}
			origWriter.WriteHeader(rec.statusCode)
			_, err = origWriter.Write(rec.body.Bytes())
			return err
		}
	}
}

func replay(c echo.Context, cached *IdempotentResponse) error {
	resp := c.Response()
	for k, vals := range cached.Header {
		resp.Header()[k] = vals
	}
	resp.Header().Set(IdempotencyReplayedHeader, "true")
	resp.WriteHeader(cached.StatusCode)
	_, err := resp.Write(cached.Body)
	return err
}

type responseRecorder struct {
	header     http.Header
	body       *bytes.Buffer
	statusCode int
	wroteHead  bool
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(code int) {
	if r.wroteHead {
		return
	}
	r.statusCode = code
	r.wroteHead = true
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wroteHead {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}

// MemoryIdempotencyStore keeps keys in process memory. Suitable for a
// single instance; use RedisIdempotencyStore when running several.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	nowFunc func() time.Time
}

type memoryEntry struct {
	resp      *IdempotentResponse // nil while the request is in flight
	expiresAt time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &MemoryIdempotencyStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key string) (*IdempotentResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return e.resp, false, nil
	}
	s.entries[key] = memoryEntry{expiresAt: now.Add(pendingTTL)}
	s.evictExpiredLocked(now)
	return nil, true, nil
}

func (s *MemoryIdempotencyStore) Complete(_ context.Context, key string, resp *IdempotentResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{resp: resp, expiresAt: s.nowFunc().Add(s.ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// evictExpiredLocked sweeps a bounded number of entries per call so the map
// cannot grow without limit and no background goroutine is needed.
func (s *MemoryIdempotencyStore) evictExpiredLocked(now time.Time) {
	n := 0
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
		if n++; n >= 64 {
			return
		}
	}
}
