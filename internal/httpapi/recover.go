package httpapi

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/apierr"
)

// withRecover guards handlers against panics and returns a 500 response.
// Panics are forwarded to Sentry when a client is configured.
func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.log.Error("panic", "panic", v, "path", r.URL.Path, "request_id", requestID(r.Context()), "stack", string(debug.Stack()))
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(r)
				hub.Scope().SetTag("request_id", requestID(r.Context()))
				hub.RecoverWithContext(r.Context(), v)
				hub.Flush(2 * time.Second)
				s.writeError(w, r, apierr.Internal(fmt.Errorf("panic: %v", v)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
