// Package handlers implements the versioned HTTP surface of the messaging
// service. Handlers translate between wire shapes and the core packages
// (composer, history, inbox, live feed) and map the shared error taxonomy
// onto HTTP statuses.
package handlers

import (
	"errors"
	"net/http"

	"commshub/pkg/auth"
	"commshub/pkg/directory"
	"commshub/pkg/errs"
	"commshub/pkg/feed"
	"commshub/pkg/history"
	"commshub/pkg/inbox"
	"commshub/pkg/utils"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

var (
	broker    *feed.Broker
	loader    *history.Loader
	inboxView *inbox.Builder
)

// Configure wires the handler package to the running broker and the
// participant directory. Must be called before serving requests.
func Configure(b *feed.Broker, r directory.Resolver) {
	broker = b
	loader = history.NewLoader(r)
	inboxView = &inbox.Builder{Resolver: r}
}

// callerID extracts the verified member id, writing a 401 when absent.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := auth.MemberIDFromContext(r.Context())
	if id == "" {
		utils.JSONError(w, http.StatusUnauthorized, "member identity required")
		return "", false
	}
	return id, true
}

// writeErr maps core errors onto HTTP statuses. Multi-step write failures
// carry the interrupted step and the thread id so callers can resume.
func writeErr(w http.ResponseWriter, err error) {
	var we *errs.WriteError
	switch {
	case errors.As(err, &we):
		detail := map[string]string{"step": string(we.Step)}
		if we.Thread != "" {
			detail["thread_id"] = we.Thread
		}
		utils.JSONErrorDetail(w, http.StatusBadGateway, we.Error(), detail)
	case errors.Is(err, errs.ErrValidationFailed):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrWriteFailed):
		utils.JSONError(w, http.StatusBadGateway, err.Error())
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}
