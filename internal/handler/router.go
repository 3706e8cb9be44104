package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	middlewarePkg "github.com/parlorchat/parlor/internal/middleware"
)

// NewRouter wires the HTTP surface: transport endpoints plus the
// operational routes.
func NewRouter(sock *Sock, stats *Stats) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sock.RegisterRoutes(r)
	stats.RegisterRoutes(r)

	return r
}
