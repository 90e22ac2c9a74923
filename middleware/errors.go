package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	goGuard "github.com/MrEthical07/goGuard"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as {message, code}. Errors that are not part of
// normal operation are logged, reported to Sentry and shown as a generic 500.
func (g *Guard) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	e := goGuard.AsError(err)
	if e == nil {
		return
	}
	if !e.Expected() {
		g.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		hubFor(r).CaptureException(err)
	}
	WriteJSON(w, e.Status(), ErrorBody{Message: e.Message, Code: e.Code()})
}

func hubFor(r *http.Request) *sentry.Hub {
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

// Recover turns a panic into a 500 response and reports it.
func (g *Guard) Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := string(debug.Stack())
				hub := hubFor(r)
				hub.WithScope(func(scope *sentry.Scope) {
					scope.SetExtra("panic", fmt.Sprint(rec))
					scope.SetExtra("stack", stack)
					hub.CaptureMessage("panic in request")
				})
				g.log.Error("panic recovered",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.String("stack", stack),
				)
				WriteJSON(w, http.StatusInternalServerError, ErrorBody{
					Message: "Internal server error",
					Code:    goGuard.KindServerError.Code(),
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
