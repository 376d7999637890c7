package worker

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter builds the worker's routes. Unknown paths get mux's default
// 404 handler.
func NewRouter(pid int, middleware ...mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/", Greeting(pid)).Methods("GET")
	for _, mw := range middleware {
		r.Use(mw)
	}
	return r
}

// Greeting answers with the serving process's pid
func Greeting(pid int) http.Handler {
	body := []byte(fmt.Sprintf("Hello World! %d", pid))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})
}
