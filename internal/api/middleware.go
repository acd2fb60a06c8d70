package api

import (
	"fmt"
	"net/http"

	"github.com/parlorchat/parlor/internal/server"
)

func (a *ParlorApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				a.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				a.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// adminMiddleware gates the admin review endpoints behind the shared admin
// secret, supplied as an X-Admin-Pass header or a pass query parameter.
func (a *ParlorApp) adminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pass := r.Header.Get("X-Admin-Pass")
		if pass == "" {
			pass = r.URL.Query().Get("pass")
		}

		if !server.VerifyAdminSecret(a.adminSecret, pass) {
			errResp := NewForbiddenError()
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r)
	}
}
