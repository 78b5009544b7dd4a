package correlation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const Header = "X-Correlation-Id"

type ctxKey string

const (
	ctxCorrelationID ctxKey = "correlation_id"
	ctxCausationID   ctxKey = "causation_id"
)

// Middleware accepts an incoming X-Correlation-Id or mints one, echoes it on the response
// and stores it in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(Header)
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set(Header, cid)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), cid)))
	})
}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxCorrelationID, id)
}

func ID(ctx context.Context) string {
	s, _ := ctx.Value(ctxCorrelationID).(string)
	return s
}

// WithCausation records the id of the message that triggered the current work.
func WithCausation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxCausationID, id)
}

func Causation(ctx context.Context) string {
	s, _ := ctx.Value(ctxCausationID).(string)
	return s
}
