package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/decksync/internal/multistore"
	"github.com/hyperengineering/decksync/internal/snapshot"
	"github.com/hyperengineering/decksync/internal/store"
	decksync "github.com/hyperengineering/decksync/internal/sync"
	"github.com/hyperengineering/decksync/internal/validation"
	"github.com/hyperengineering/decksync/internal/wire"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusUnauthorized: {
		typeURI: "https://decksync.dev/errors/unauthorized",
		title:   "Unauthorized",
	},
	http.StatusBadRequest: {
		typeURI: "https://decksync.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: "https://decksync.dev/errors/not-found",
		title:   "Not Found",
	},
	http.StatusConflict: {
		typeURI: "https://decksync.dev/errors/conflict",
		title:   "Conflict",
	},
	http.StatusRequestEntityTooLarge: {
		typeURI: "https://decksync.dev/errors/too-large",
		title:   "Request Entity Too Large",
	},
	http.StatusUnprocessableEntity: {
		typeURI: "https://decksync.dev/errors/validation-error",
		title:   "Validation Error",
	},
	http.StatusInternalServerError: {
		typeURI: "https://decksync.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblem(w, status, problemFor(r, status, detail))
}

func problemFor(r *http.Request, status int, detail string) Problem {
	pt, ok := problemTypes[status]
	if !ok {
		pt.typeURI = "https://decksync.dev/errors/unknown"
		pt.title = http.StatusText(status)
	}
	return Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

func writeProblem(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	writeProblem(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: problemFor(r, http.StatusUnprocessableEntity, detail),
		Errors:  errs,
	})
}

// MapSyncError converts sync, store and deck errors to Problem Details
// responses.
func MapSyncError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		WriteProblemWithErrors(w, r, "Sync message is incomplete or inconsistent", verr.Errors)
	case errors.Is(err, wire.ErrMalformed), errors.Is(err, decksync.ErrProtocol):
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, multistore.ErrInvalidName):
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, multistore.ErrDeckNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Deck not found")
	case errors.Is(err, multistore.ErrDeckExists):
		WriteProblem(w, r, http.StatusConflict, "Deck already exists")
	case errors.Is(err, snapshot.ErrNotConfigured):
		WriteProblem(w, r, http.StatusNotFound, "Backup storage not configured")
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Entity not found")
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, store.ErrEmptyField):
		WriteProblem(w, r, http.StatusConflict, err.Error())
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
