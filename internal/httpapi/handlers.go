package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/DoyleJ11/flamebridge/internal/journal"
	"github.com/DoyleJ11/flamebridge/internal/session"
)

const (
	defaultMovesLimit = 20
	maxMovesLimit     = 200
)

// StatusSource is what the handlers read from; *session.Session satisfies it.
type StatusSource interface {
	Status() session.Status
}

// MoveLister reads the move journal; *journal.Postgres satisfies it.
type MoveLister interface {
	Recent(ctx context.Context, boardID int64, limit int) ([]journal.Move, error)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func GetStatus(src StatusSource, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, src.Status())
	}
}

// GetBoard returns the last processed board in compact form.
func GetBoard(src StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		last := src.Status().LastBoard
		if last == "" {
			http.Error(w, "no board processed yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(last + "\n"))
	}
}

// GetMoves lists the journal's latest moves for the session's board.
func GetMoves(src StatusSource, moves MoveLister, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if moves == nil {
			http.Error(w, "move journal not configured", http.StatusNotFound)
			return
		}
		boardID := src.Status().BoardID
		if boardID == 0 {
			http.Error(w, "no board yet", http.StatusNotFound)
			return
		}

		limit := defaultMovesLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxMovesLimit)
		}

		list, err := moves.Recent(r.Context(), boardID, limit)
		if err != nil {
			log.Error("list moves", zap.Error(err), zap.Int64("board_id", boardID))
			http.Error(w, "failed to list moves", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []journal.Move{}
		}
		writeJSON(w, log, list)
	}
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("encode response", zap.Error(err))
	}
}
