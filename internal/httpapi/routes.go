package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SetupRoutes builds the status router. moves may be nil when no journal
// is configured.
func SetupRoutes(src StatusSource, moves MoveLister, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Route("/status", func(r chi.Router) {
		r.Get("/", GetStatus(src, log))
		r.Get("/board", GetBoard(src))
		r.Get("/moves", GetMoves(src, moves, log))
	})
	return r
}
