package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"flaggate/pkg/requestcontext"
)

const requestIDHeader = "X-Request-ID"

// RequestID tags every request with an ID for log correlation. An inbound
// header wins so IDs survive proxies; otherwise we mint one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), id)))
	})
}
