package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/watchsync/internal/remote"
	"github.com/hyperengineering/watchsync/internal/sync"
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
	http.StatusBadRequest: {
		typeURI: "https://watchsync.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusConflict: {
		typeURI: "https://watchsync.dev/errors/conflict",
		title:   "Conflict",
	},
	http.StatusTooManyRequests: {
		typeURI: "https://watchsync.dev/errors/rate-limit",
		title:   "Too Many Requests",
	},
	http.StatusForbidden: {
		typeURI: "https://watchsync.dev/errors/forbidden",
		title:   "Forbidden",
	},
	http.StatusBadGateway: {
		typeURI: "https://watchsync.dev/errors/remote-unavailable",
		title:   "Remote Unavailable",
	},
	http.StatusInternalServerError: {
		typeURI: "https://watchsync.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: "https://watchsync.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapSyncError converts sync-layer errors to Problem Details responses.
func MapSyncError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sync.ErrSyncInFlight):
		WriteProblem(w, r, http.StatusConflict, "A sync cycle is already running")
	case errors.Is(err, sync.ErrThrottled):
		WriteProblem(w, r, http.StatusTooManyRequests, "Sync was attempted too soon after the previous cycle")
	case errors.Is(err, remote.ErrPermissionDenied):
		WriteProblem(w, r, http.StatusForbidden, "Remote store denied access")
	case errors.Is(err, remote.ErrUnavailable):
		WriteProblem(w, r, http.StatusBadGateway, "Remote store is unreachable")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
