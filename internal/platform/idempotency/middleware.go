package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mediashop/api/internal/platform/auth"
	"github.com/mediashop/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "Idempotent-Replayed"
	maxKeyLength      = 255
	maxBodyBytes      = 1 << 20
)

// Logger receives persistence failures. It matches the event hook used by the services.
type Logger func(ctx context.Context, event string, fields map[string]any)

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	clock      func() time.Time
	logger     Logger
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithLogger injects the event logger.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.logger = logger }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware makes the wrapped handler safe to retry. The router mounts it only on order
// placement and payment start, so every request it sees must carry a key. The first request for
// a key runs the handler; later requests with the same key and body replay the stored response,
// and requests with the same key but a different body are rejected. 5xx responses release the
// key so the client can retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		clock:      time.Now,
		logger:     func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			switch {
			case key == "":
				respond(ctx, w, http.StatusBadRequest, "idempotency_key_required", "missing "+cfg.headerName+" header")
				return
			case len(key) > maxKeyLength:
				respond(ctx, w, http.StatusBadRequest, "idempotency_key_invalid", cfg.headerName+" is too long")
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				respond(ctx, w, http.StatusBadRequest, "invalid_body", "unable to read request body")
				return
			}

			requester := requesterID(ctx)
			scoped := requester + "|" + key
			fingerprint := requestFingerprint(r, body, requester)

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					respond(ctx, w, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key already used for a different request")
					return
				}
				cfg.logger(ctx, "idempotency.reserve.failed", map[string]any{"error": err})
				respond(ctx, w, http.StatusServiceUnavailable, "idempotency_unavailable", "unable to process idempotency key")
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				replay(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict).WithRetryAfter(time.Second))
				return
			}

			recorder := &responseRecorder{header: make(http.Header)}
			next.ServeHTTP(recorder, r)

			if recorder.Status() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped, fingerprint); err != nil {
					cfg.logger(ctx, "idempotency.release.failed", map[string]any{"error": err})
				}
				recorder.flush(w)
				return
			}

			resp := Response{Status: recorder.Status(), Headers: recorder.header, Body: recorder.body.Bytes()}
			if err := store.Complete(ctx, scoped, fingerprint, resp, cfg.clock().UTC(), cfg.ttl); err != nil {
				// The handler already committed its side effects, so the response still goes out.
				cfg.logger(ctx, "idempotency.complete.failed", map[string]any{"error": err, "status": resp.Status})
				if releaseErr := store.Release(ctx, scoped, fingerprint); releaseErr != nil {
					cfg.logger(ctx, "idempotency.release.failed", map[string]any{"error": releaseErr})
				}
			}
			recorder.flush(w)
		})
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, requester string) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('|')
	b.WriteString(r.URL.Path)
	b.WriteByte('|')
	b.WriteString(r.URL.RawQuery)
	b.WriteByte('|')
	b.WriteString(requester)
	b.WriteByte('|')
	if len(body) > 0 {
		b.WriteString(sha256Hex(body))
	}
	return sha256Hex([]byte(b.String()))
}

func requesterID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc != nil && svc.Subject != "" {
		return svc.Subject
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

func respond(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// responseRecorder buffers the handler output so it can be stored before it reaches the client.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.Status())
	_, _ = w.Write(r.body.Bytes())
}
