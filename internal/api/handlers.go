package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hyperengineering/decksync/internal/multistore"
	"github.com/hyperengineering/decksync/internal/snapshot"
	decksync "github.com/hyperengineering/decksync/internal/sync"
	"github.com/hyperengineering/decksync/internal/types"
	"github.com/hyperengineering/decksync/internal/wire"
)

// BackupLinker issues download links for uploaded deck backups.
type BackupLinker interface {
	PresignedURL(ctx context.Context, deckKey string) (url string, expiry time.Time, err error)
}

// Handler implements the sync server's HTTP handlers.
type Handler struct {
	decks   *multistore.DeckManager
	users   Authenticator
	backups BackupLinker
	version string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithBackups serves backup download links from b.
func WithBackups(b BackupLinker) HandlerOption {
	return func(h *Handler) {
		h.backups = b
	}
}

// NewHandler creates a Handler serving decks from manager. Without
// WithBackups the backupURL verb reports that storage is not configured.
func NewHandler(decks *multistore.DeckManager, users Authenticator, version string, opts ...HandlerOption) *Handler {
	h := &Handler{
		decks:   decks,
		users:   users,
		backups: &snapshot.NoopUploader{},
		version: version,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:          "healthy",
		Version:         h.version,
		ProtocolVersion: decksync.ProtocolVersion,
		OpenDecks:       len(h.decks.Loaded()),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeMessage writes v in the sync wire encoding.
func writeMessage(w http.ResponseWriter, r *http.Request, v any) {
	data, err := wire.Encode(v)
	if err != nil {
		slog.Error("encode sync response", "path", r.URL.Path, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// decodeParam decodes the wire-encoded form parameter name into v.
func decodeParam(r *http.Request, name string, v any) error {
	return wire.Decode([]byte(r.PostForm.Get(name)), v)
}

// parseForm parses the request form, writing a problem response and
// returning false if the body is oversized or malformed.
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
		} else {
			WriteProblem(w, r, http.StatusBadRequest, "Invalid form body")
		}
		return false
	}
	return true
}
