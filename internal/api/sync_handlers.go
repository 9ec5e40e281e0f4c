package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperengineering/decksync/internal/multistore"
	"github.com/hyperengineering/decksync/internal/snapshot"
	decksync "github.com/hyperengineering/decksync/internal/sync"
	"github.com/hyperengineering/decksync/internal/types"
)

// GetDecks handles POST /sync/getDecks. Bad credentials are reported as
// status invalidUserPass in a 200 response.
func (h *Handler) GetDecks(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	user := r.PostForm.Get("u")

	if err := h.users.Authenticate(user, r.PostForm.Get("p")); err != nil {
		slog.Warn("auth failure",
			"component", "api",
			"action", "get_decks",
			"user", user,
			"remote_ip", r.RemoteAddr,
		)
		writeMessage(w, r, types.DeckList{Status: types.StatusInvalidUserPass})
		return
	}

	infos, err := h.decks.ListDecks(r.Context(), user)
	if err != nil {
		MapSyncError(w, r, err)
		return
	}

	decks := make(map[string]types.DeckTimes, len(infos))
	for _, info := range infos {
		decks[info.Name] = types.DeckTimes{info.Modified, info.LastSync}
	}

	slog.Info("decks listed",
		"component", "api",
		"action", "get_decks",
		"user", user,
		"decks", len(decks),
		"libanki", r.PostForm.Get("libanki"),
		"client", r.PostForm.Get("client"),
	)

	writeMessage(w, r, types.DeckList{
		Status:          types.StatusOK,
		ProtocolVersion: decksync.ProtocolVersion,
		Decks:           decks,
	})
}

// CreateDeck handles POST /sync/createDeck.
func (h *Handler) CreateDeck(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	name := r.PostForm.Get("name")

	if _, err := h.decks.CreateDeck(r.Context(), user, name, ""); err != nil {
		if !errors.Is(err, multistore.ErrDeckExists) && !errors.Is(err, multistore.ErrInvalidName) {
			slog.Error("create deck failed", "user", user, "deck", name, "error", err)
		}
		MapSyncError(w, r, err)
		return
	}

	slog.Info("deck created",
		"component", "api",
		"action", "create_deck",
		"user", user,
		"deck", name,
	)
	writeMessage(w, r, types.StatusReply{Status: types.StatusOK})
}

// Summary handles POST /sync/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	d := MustDeckFromContext(r.Context())

	var since float64
	if err := decodeParam(r, "lastSync", &since); err != nil {
		MapSyncError(w, r, err)
		return
	}

	d.Lock()
	summary, err := d.Engine.BuildSummary(r.Context(), since)
	d.Unlock()
	if err != nil {
		slog.Error("summary failed", "deck", d.Key(), "error", err)
		MapSyncError(w, r, err)
		return
	}

	writeMessage(w, r, summary)

	slog.Info("summary served",
		"component", "api",
		"action", "summary",
		"deck", d.Key(),
		"since", since,
		"request_id", middleware.GetReqID(r.Context()),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// ApplyPayload handles POST /sync/applyPayload.
func (h *Handler) ApplyPayload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	d := MustDeckFromContext(r.Context())

	var payload types.Payload
	if err := decodeParam(r, "payload", &payload); err != nil {
		MapSyncError(w, r, err)
		return
	}

	d.Lock()
	reply, err := d.Engine.ApplyPayload(r.Context(), &payload)
	d.Unlock()
	if err != nil {
		if !errors.Is(err, decksync.ErrProtocol) {
			slog.Error("apply payload failed",
				"component", "api",
				"action", "apply_payload_failed",
				"deck", d.Key(),
				"error", err,
			)
		}
		MapSyncError(w, r, err)
		return
	}

	writeMessage(w, r, reply)

	slog.Info("payload applied",
		"component", "api",
		"action", "apply_payload",
		"deck", d.Key(),
		"received_cards", payload.Count(types.KindCards),
		"sent_cards", reply.Count(types.KindCards),
		"sent_deck", reply.HasDeck(),
		"request_id", middleware.GetReqID(r.Context()),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// BackupURL handles POST /sync/backupURL: a pre-signed link to the deck's
// latest uploaded backup.
func (h *Handler) BackupURL(w http.ResponseWriter, r *http.Request) {
	d := MustDeckFromContext(r.Context())

	link, expiry, err := h.backups.PresignedURL(r.Context(), d.Key())
	if err != nil {
		if !errors.Is(err, snapshot.ErrNotConfigured) {
			slog.Error("backup link failed", "deck", d.Key(), "error", err)
		}
		MapSyncError(w, r, err)
		return
	}

	slog.Info("backup link issued",
		"component", "api",
		"action", "backup_url",
		"deck", d.Key(),
	)
	writeMessage(w, r, types.BackupLink{
		Status:  types.StatusOK,
		URL:     link,
		Expires: float64(expiry.Unix()),
	})
}
