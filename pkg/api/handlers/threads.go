package handlers

import (
	"net/http"

	"commshub/pkg/auth"
	"commshub/pkg/composer"
	"commshub/pkg/errs"
	"commshub/pkg/inbox"
	"commshub/pkg/models"
	"commshub/pkg/store"
	"commshub/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterThreads registers thread lifecycle and inbox routes.
func RegisterThreads(r *mux.Router) {
	r.HandleFunc("/threads", createThread).Methods(http.MethodPost)
	r.HandleFunc("/threads/{id}/resume", resumeThread).Methods(http.MethodPost)
	r.HandleFunc("/threads/{id}", getThread).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}", archiveThread).Methods(http.MethodDelete)
	r.HandleFunc("/inbox", getInbox).Methods(http.MethodGet)
}

type composeBody struct {
	Subject     string   `json:"subject"`
	Kind        string   `json:"kind"`
	Recipients  []string `json:"recipients"`
	Body        string   `json:"body"`
	ExternalRef string   `json:"external_ref,omitempty"`
}

func (b composeBody) request(initiator string) composer.Request {
	return composer.Request{
		Initiator:   initiator,
		Recipients:  b.Recipients,
		Subject:     b.Subject,
		Body:        b.Body,
		Kind:        models.ThreadKind(b.Kind),
		ExternalRef: b.ExternalRef,
	}
}

// createThread handles POST /threads: validate, then create the thread
// row, membership rows and first message. A partial failure returns 502
// with the interrupted step and the thread id to resume with.
func createThread(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var body composeBody
	if err := utils.DecodeJSON(r, &body, maxBodyBytes); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := composer.Compose(r.Context(), body.request(caller))
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, res)
}

// resumeThread handles POST /threads/{id}/resume: continue a creation
// that failed partway, skipping steps that already completed.
func resumeThread(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var body composeBody
	if err := utils.DecodeJSON(r, &body, maxBodyBytes); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := composer.Resume(r.Context(), mux.Vars(r)["id"], body.request(caller))
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, res)
}

// getThread handles GET /threads/{id}: thread metadata plus the caller's
// membership row. Archived threads and threads the caller does not belong
// to answer 404 alike.
func getThread(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	th, m, err := visibleThread(id, caller)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, struct {
		Thread models.Thread       `json:"thread"`
		Member models.ThreadMember `json:"member"`
	}{th, m})
}

// archiveThread handles DELETE /threads/{id}: soft-archive. Only the
// creator, a thread admin, or a backend caller may archive.
func archiveThread(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	th, m, err := visibleThread(id, caller)
	if err != nil {
		writeErr(w, err)
		return
	}
	allowed := auth.IsBackend(r.Context()) || th.CreatedBy == caller || m.Role == models.RoleAdmin
	if !allowed {
		utils.JSONError(w, http.StatusForbidden, "not allowed to archive this thread")
		return
	}
	if err := store.ArchiveThread(id, caller); err != nil {
		writeErr(w, err)
		return
	}
	// force live viewers off the archived thread
	broker.DropThread(id)
	_ = utils.JSONWrite(w, 0, map[string]string{"status": "archived", "thread_id": id})
}

// getInbox handles GET /inbox: the caller's active threads ordered by
// recency, with previews, member counts and unread flags.
func getInbox(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	entries, err := inboxView.Build(r.Context(), caller)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, struct {
		Inbox []inbox.Entry `json:"inbox"`
	}{Inbox: entries})
}

// visibleThread loads a thread and the caller's active membership,
// answering ErrNotFound for archived threads, missing threads and
// non-members without distinguishing.
func visibleThread(threadID, memberID string) (models.Thread, models.ThreadMember, error) {
	th, err := store.GetThread(threadID)
	if err != nil {
		return models.Thread{}, models.ThreadMember{}, err
	}
	if th.Archived {
		return models.Thread{}, models.ThreadMember{}, errs.ErrNotFound
	}
	m, err := store.GetMember(threadID, memberID)
	if err != nil {
		return models.Thread{}, models.ThreadMember{}, err
	}
	if m.Removed {
		return models.Thread{}, models.ThreadMember{}, errs.ErrNotFound
	}
	return th, m, nil
}
