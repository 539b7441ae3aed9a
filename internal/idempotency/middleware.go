package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
)

// maxKeyLen bounds client supplied keys.
const maxKeyLen = 255

// ErrorWriter renders an error response.
type ErrorWriter func(w http.ResponseWriter, status int, msg string)

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Middleware makes requests carrying Header replay their first response for
// ttl. Keys are scoped to the authenticated caller. Server errors release the
// key so the client can retry.
func Middleware(store Store, ttl time.Duration, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(Header)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLen {
				writeErr(w, http.StatusBadRequest, "Idempotency-Key is too long")
				return
			}

			scope := "anonymous"
			if id, ok := auth.FromContext(r.Context()); ok {
				scope = id.UserID.String()
			}
			key = scope + ":" + r.Method + ":" + r.URL.Path + ":" + key

			ctx := r.Context()
			lg := zctx.From(ctx)

			stored, err := store.Reserve(ctx, key, ttl)
			switch {
			case errors.Is(err, ErrInProgress):
				writeErr(w, http.StatusConflict, "A request with this Idempotency-Key is already in progress")
				return
			case err != nil:
				// The key store is an optimization; fall through to the handler.
				lg.Warn("Idempotency store unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			case stored != nil:
				if stored.ContentType != "" {
					w.Header().Set("Content-Type", stored.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			release := func() {
				if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
					lg.Warn("Release idempotency key", zap.Error(err))
				}
			}
			// A panicking handler ends up as a 500 further out, so the key
			// must be freed before the panic continues.
			defer func() {
				if p := recover(); p != nil {
					release()
					panic(p)
				}
			}()

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status == 0 || rec.status >= http.StatusInternalServerError {
				release()
				return
			}
			if err := store.Save(ctx, key, Response{
				Status:      rec.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}, ttl); err != nil {
				lg.Warn("Save idempotent response", zap.Error(err))
			}
		})
	}
}
