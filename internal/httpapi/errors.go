package httpapi

import (
	"net/http"
	"time"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/apierr"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/db"
)

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
	RequestID  string `json:"request_id,omitempty"`
	Code       string `json:"code,omitempty"`
}

func badRequest(title, msg string) *apierr.Error {
	return &apierr.Error{Kind: apierr.KindValidation, Status: http.StatusBadRequest, Title: title, Message: msg}
}

// writeError renders err in the standard error shape. Server errors are
// logged with their cause; internal details reach the client only in debug mode.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apierr.From(err)
	if e.Kind == apierr.KindInternal && db.IsBusy(e.Err) {
		e = &apierr.Error{
			Kind: apierr.KindInternal, Status: http.StatusServiceUnavailable,
			Title: "Service Unavailable", Message: "The service is temporarily unavailable", Err: e.Err,
		}
		w.Header().Set("Retry-After", "1")
	}

	msg := e.Message
	if e.Status >= 500 {
		s.log.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "status", e.Status,
			"code", e.Code, "request_id", requestID(r.Context()), "err", err)
		if s.opt.Debug && e.Kind == apierr.KindInternal && e.Err != nil {
			msg = e.Err.Error()
		}
	}

	writeJSON(w, e.Status, errorBody{
		Error:      e.Title,
		Message:    msg,
		StatusCode: e.Status,
		Timestamp:  time.Now().UTC().Format("2006-01-02T15:04:05.000000Z"),
		Path:       r.URL.Path,
		RequestID:  requestID(r.Context()),
		Code:       e.Code,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, &apierr.Error{
		Kind: apierr.KindNotFound, Status: http.StatusNotFound,
		Title: "Not Found", Message: "The requested resource was not found",
	})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, &apierr.Error{
		Kind: apierr.KindValidation, Status: http.StatusMethodNotAllowed,
		Title: "Method Not Allowed", Message: "The HTTP method is not allowed for this endpoint",
	})
}
