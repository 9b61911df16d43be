package middleware

import (
	"net/http"
	"time"
)

// RequestObserver receives request start and completion.
type RequestObserver interface {
	Begin()
	Done(d time.Duration, status int)
}

// RequestMetrics feeds every request's latency and status into observer.
func RequestMetrics(observer RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			observer.Begin()

			defer func() {
				status := rw.statusCode
				if rec := recover(); rec != nil {
					observer.Done(time.Since(start), http.StatusInternalServerError)
					panic(rec)
				}
				observer.Done(time.Since(start), status)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
