package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"commshub/pkg/errs"
	"commshub/pkg/ids"
	"commshub/pkg/models"
	"commshub/pkg/readstate"
	"commshub/pkg/store"
	"commshub/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterMessages registers message history and read-state routes.
func RegisterMessages(r *mux.Router) {
	r.HandleFunc("/threads/{id}/messages", listMessages).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}/messages", postMessage).Methods(http.MethodPost)
	r.HandleFunc("/threads/{id}/messages/tail", tailMessages).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}/read", markRead).Methods(http.MethodPost)
}

// listMessages handles GET /threads/{id}/messages: the full ordered
// history. Loading also advances the caller's read watermark, so the
// thread reads as caught-up afterwards.
func listMessages(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	snap, err := loader.Load(r.Context(), mux.Vars(r)["id"], caller)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, snap)
}

// tailMessages handles GET /threads/{id}/messages/tail?after_ts=&after_id=:
// messages strictly after the (after_ts, after_id) position. Used by
// reconnecting clients to close notification gaps; does not touch read
// state.
func tailMessages(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var afterTS int64
	if v := r.URL.Query().Get("after_ts"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid after_ts")
			return
		}
		afterTS = n
	}
	afterID := r.URL.Query().Get("after_id")
	msgs, err := loader.Tail(r.Context(), mux.Vars(r)["id"], caller, afterTS, afterID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, struct {
		Messages []models.Message `json:"messages"`
	}{Messages: msgs})
}

// postMessage handles POST /threads/{id}/messages: append one message to
// an existing thread the caller actively belongs to.
func postMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if _, _, err := visibleThread(id, caller); err != nil {
		writeErr(w, err)
		return
	}
	var body struct {
		Body string `json:"body"`
	}
	if err := utils.DecodeJSON(r, &body, maxBodyBytes); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Body) == "" {
		writeErr(w, errs.Validation("body", "must not be empty"))
		return
	}
	msg := models.Message{
		ID:        ids.GenMsgID(),
		Thread:    id,
		Sender:    caller,
		Body:      body.Body,
		CreatedTS: time.Now().UTC().UnixNano(),
	}
	saved, err := store.AppendMessage(msg)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, saved)
}

// markRead handles POST /threads/{id}/read: advance the caller's read
// watermark. An omitted or zero ts means "now". Stale timestamps are
// clamped, not applied; the response reports whether the watermark moved.
func markRead(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	var body struct {
		TS int64 `json:"ts"`
	}
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &body, maxBodyBytes); err != nil {
			utils.JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	ts := body.TS
	if ts == 0 {
		ts = time.Now().UTC().UnixNano()
	}
	advanced, err := readstate.MarkRead(id, caller, ts)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, struct {
		Advanced bool  `json:"advanced"`
		TS       int64 `json:"ts"`
	}{Advanced: advanced, TS: ts})
}
