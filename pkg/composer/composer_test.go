package composer

import (
	"context"
	"errors"
	"testing"

	"commshub/pkg/errs"
	"commshub/pkg/ids"
	"commshub/pkg/models"
	"commshub/pkg/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func groupReq() Request {
	return Request{
		Initiator:  "u_a",
		Recipients: []string{"u_b", "u_c"},
		Subject:    "Order #1234",
		Body:       "please take a look",
		Kind:       models.KindGroup,
	}
}

func TestComposeCreatesThreadMembersAndFirstMessage(t *testing.T) {
	openTestStore(t)

	res, err := Compose(context.Background(), groupReq())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	th := res.Thread
	if th.ID == "" || th.CreatedBy != "u_a" || th.Kind != models.KindGroup {
		t.Fatalf("bad thread: %+v", th)
	}

	ms, err := store.ListMembers(th.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(ms) != 3 {
		t.Fatalf("expected 3 members, got %d", len(ms))
	}

	// the creator never sees their own fresh thread as unread: their
	// watermark covers the first message, which is stamped after the
	// thread row
	creator, err := store.GetMember(th.ID, "u_a")
	if err != nil {
		t.Fatalf("GetMember creator: %v", err)
	}
	if creator.Role != models.RoleAdmin {
		t.Fatalf("creator row not primed: %+v", creator)
	}
	if creator.LastReadTS != res.Message.CreatedTS {
		t.Fatalf("creator watermark %d does not cover first message at %d", creator.LastReadTS, res.Message.CreatedTS)
	}
	// recipients start unread
	rcpt, _ := store.GetMember(th.ID, "u_b")
	if rcpt.LastReadTS != 0 || rcpt.Role != models.RoleMember {
		t.Fatalf("recipient row wrong: %+v", rcpt)
	}

	msgs, _ := store.ListMessages(th.ID)
	if len(msgs) != 1 || msgs[0].ID != res.Message.ID || msgs[0].Sender != "u_a" {
		t.Fatalf("first message wrong: %+v", msgs)
	}
	if msgs[0].CreatedTS < th.CreatedTS {
		t.Fatalf("first message precedes thread creation")
	}
}

func TestComposeValidation(t *testing.T) {
	openTestStore(t)

	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"empty subject", func(r *Request) { r.Subject = " " }},
		{"empty body", func(r *Request) { r.Body = "" }},
		{"no recipients", func(r *Request) { r.Recipients = nil }},
		{"unknown kind", func(r *Request) { r.Kind = "broadcast" }},
		{"empty recipient id", func(r *Request) { r.Recipients = []string{"u_b", " "} }},
		{"direct with three members", func(r *Request) { r.Kind = models.KindDirect }},
		{"group with two members", func(r *Request) { r.Recipients = []string{"u_b"} }},
		{"ticket without ref", func(r *Request) { r.Kind = models.KindTicketContext }},
		{"ref on group", func(r *Request) { r.ExternalRef = "tk_9" }},
	}
	for _, c := range cases {
		req := groupReq()
		c.mutate(&req)
		_, err := Compose(context.Background(), req)
		if !errors.Is(err, errs.ErrValidationFailed) {
			t.Fatalf("%s: expected validation failure, got %v", c.name, err)
		}
	}

	// nothing was written by any failed attempt
	keys, _ := store.ListKeys("thread:")
	if len(keys) != 0 {
		t.Fatalf("failed validations left rows behind: %v", keys)
	}
}

func TestComposeDirectAllowsExactlyTwo(t *testing.T) {
	openTestStore(t)

	req := Request{
		Initiator:  "u_a",
		Recipients: []string{"u_b"},
		Subject:    "dm",
		Body:       "hey",
		Kind:       models.KindDirect,
	}
	if _, err := Compose(context.Background(), req); err != nil {
		t.Fatalf("direct compose: %v", err)
	}

	// a second identical direct pair is allowed; pairs are not unique
	if _, err := Compose(context.Background(), req); err != nil {
		t.Fatalf("second direct compose: %v", err)
	}
}

func TestComposeTicketContextCarriesRef(t *testing.T) {
	openTestStore(t)

	req := groupReq()
	req.Kind = models.KindTicketContext
	req.ExternalRef = "ticket-4711"
	res, err := Compose(context.Background(), req)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if res.Thread.ExternalRef != "ticket-4711" {
		t.Fatalf("external ref lost: %+v", res.Thread)
	}
}

func TestResumeCompletesPartialCreation(t *testing.T) {
	openTestStore(t)

	// simulate a crash after step 1: only the thread row exists
	th := models.Thread{
		ID:        ids.GenThreadID(),
		Subject:   "Order #1234",
		Kind:      models.KindGroup,
		CreatedBy: "u_a",
		CreatedTS: 100,
		UpdatedTS: 100,
	}
	if err := store.SaveThread(th); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}

	res, err := Resume(context.Background(), th.ID, groupReq())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	ms, _ := store.ListMembers(th.ID)
	if len(ms) != 3 {
		t.Fatalf("resume did not fill members: %d", len(ms))
	}
	msgs, _ := store.ListMessages(th.ID)
	if len(msgs) != 1 {
		t.Fatalf("resume did not write first message: %d", len(msgs))
	}
	if res.Message.ID != msgs[0].ID {
		t.Fatalf("result message mismatch")
	}
	creator, _ := store.GetMember(th.ID, "u_a")
	if creator.LastReadTS != msgs[0].CreatedTS {
		t.Fatalf("resume left the creator behind the first message: %+v", creator)
	}
}

func TestResumeIsIdempotentOnCompleteThread(t *testing.T) {
	openTestStore(t)

	req := groupReq()
	first, err := Compose(context.Background(), req)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	// patch one member's watermark to prove resume does not rewrite rows
	if _, err := store.AdvanceLastRead(first.Thread.ID, "u_b", 9999); err != nil {
		t.Fatalf("AdvanceLastRead: %v", err)
	}

	again, err := Resume(context.Background(), first.Thread.ID, req)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if again.Message.ID != first.Message.ID {
		t.Fatalf("resume minted a second first message")
	}
	msgs, _ := store.ListMessages(first.Thread.ID)
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(msgs))
	}
	m, _ := store.GetMember(first.Thread.ID, "u_b")
	if m.LastReadTS != 9999 {
		t.Fatalf("resume clobbered an existing member row: %+v", m)
	}
}

func TestResumeRejectsWrongCallerAndArchived(t *testing.T) {
	openTestStore(t)

	res, err := Compose(context.Background(), groupReq())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	req := groupReq()
	req.Initiator = "u_b"
	req.Recipients = []string{"u_a", "u_c"}
	if _, err := Resume(context.Background(), res.Thread.ID, req); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-creator, got %v", err)
	}

	if err := store.ArchiveThread(res.Thread.ID, "u_a"); err != nil {
		t.Fatalf("ArchiveThread: %v", err)
	}
	if _, err := Resume(context.Background(), res.Thread.ID, groupReq()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for archived, got %v", err)
	}

	if _, err := Resume(context.Background(), "th_missing", groupReq()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown thread, got %v", err)
	}
}

func TestComposeStepErrorNamesStepAndThread(t *testing.T) {
	openTestStore(t)

	// close the store under the composer to force the first write to fail
	_ = store.Close()
	_, err := Compose(context.Background(), groupReq())
	if err == nil {
		t.Fatalf("expected write failure")
	}
	var we *errs.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected WriteError, got %v", err)
	}
	if we.Step != errs.StepThread {
		t.Fatalf("wrong step: %v", we.Step)
	}
	// reopen so cleanup can close without error
	if oerr := store.Open(t.TempDir()); oerr != nil {
		t.Fatalf("reopen: %v", oerr)
	}
}
