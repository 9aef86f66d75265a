// Package composer orchestrates multi-step thread creation: thread row,
// then membership rows, then the first message. The steps are separate
// durable writes with no transaction across them; a failure partway
// leaves a recoverable intermediate state that Resume continues from. No
// step is ever rolled back; another session may already be observing the
// partially created thread.
package composer

import (
	"context"
	"strings"
	"time"

	"commshub/pkg/errs"
	"commshub/pkg/ids"
	"commshub/pkg/logger"
	"commshub/pkg/models"
	"commshub/pkg/store"
)

// Request describes one user-facing "start a conversation" action.
type Request struct {
	Initiator   string
	Recipients  []string
	Subject     string
	Body        string
	Kind        models.ThreadKind
	ExternalRef string
}

// Result is the created (or completed) thread with its first message.
type Result struct {
	Thread  models.Thread
	Message models.Message
}

// Compose validates the request, then runs the three creation steps. On a
// step failure the returned *errs.WriteError names the step and carries
// the thread id already created, so the caller can Resume rather than
// abandon. Validation failures happen before any write.
func Compose(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC().UnixNano()
	th := models.Thread{
		ID:          ids.GenThreadID(),
		Subject:     strings.TrimSpace(req.Subject),
		Kind:        req.Kind,
		ExternalRef: req.ExternalRef,
		CreatedBy:   req.Initiator,
		CreatedTS:   now,
		UpdatedTS:   now,
	}

	// step 1: thread row
	if err := store.SaveThread(th); err != nil {
		return nil, &errs.WriteError{Step: errs.StepThread, Err: err}
	}
	logger.Info("compose_thread_created", "thread", th.ID, "kind", string(th.Kind), "initiator", req.Initiator)

	return finish(ctx, th, req)
}

// Resume continues creation of a partially created thread: it detects
// which rows already exist and re-runs only the missing steps. Resuming a
// complete thread is a no-op that returns the existing first message, so
// a retry never produces a second "first" message.
func Resume(ctx context.Context, threadID string, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	th, err := store.GetThread(threadID)
	if err != nil {
		return nil, err
	}
	if th.Archived {
		return nil, errs.ErrNotFound
	}
	if th.CreatedBy != req.Initiator {
		return nil, errs.ErrNotFound
	}
	logger.Info("compose_resume", "thread", th.ID, "initiator", req.Initiator)
	return finish(ctx, th, req)
}

// finish runs steps 2 and 3 idempotently against an existing thread row.
func finish(ctx context.Context, th models.Thread, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// step 2: membership rows. The creator's watermark starts at the
	// thread's creation instant; step 3 advances it to the first message
	// so a fresh thread never shows unread to its own creator.
	members := make([]models.ThreadMember, 0, len(req.Recipients)+1)
	members = append(members, models.ThreadMember{
		Thread:     th.ID,
		UserID:     req.Initiator,
		Role:       models.RoleAdmin,
		JoinedTS:   th.CreatedTS,
		LastReadTS: th.CreatedTS,
	})
	for _, r := range req.Recipients {
		members = append(members, models.ThreadMember{
			Thread:   th.ID,
			UserID:   r,
			Role:     models.RoleMember,
			JoinedTS: th.CreatedTS,
		})
	}
	for _, m := range members {
		if _, err := store.GetMember(th.ID, m.UserID); err == nil {
			continue // row already written by an earlier attempt
		}
		if err := store.PutMember(m); err != nil {
			return nil, &errs.WriteError{Step: errs.StepMembers, Thread: th.ID, Err: err}
		}
	}

	// step 3: first message. If any message already exists the thread is
	// complete and this attempt appends nothing.
	existing, err := store.ListMessages(th.ID)
	if err != nil {
		return nil, &errs.WriteError{Step: errs.StepMessage, Thread: th.ID, Err: err}
	}
	if len(existing) > 0 {
		catchUpInitiator(th.ID, req.Initiator, existing[0].CreatedTS)
		return &Result{Thread: th, Message: existing[0]}, nil
	}
	msg := models.Message{
		ID:     ids.GenMsgID(),
		Thread: th.ID,
		Sender: req.Initiator,
		Body:   req.Body,
	}
	msg, err = store.AppendMessage(msg)
	if err != nil {
		return nil, &errs.WriteError{Step: errs.StepMessage, Thread: th.ID, Err: err}
	}
	catchUpInitiator(th.ID, req.Initiator, msg.CreatedTS)

	logger.Info("compose_complete", "thread", th.ID, "members", len(members), "msg_id", msg.ID)
	return &Result{Thread: th, Message: msg}, nil
}

// catchUpInitiator advances the creator's read watermark to the first
// message's timestamp, which is stamped at append time and so lands after
// the membership row's primed value. The monotonic clamp makes this a
// no-op when the creator has read further already. Best-effort: a failure
// here leaves the thread complete, and a Resume retries the advance.
func catchUpInitiator(threadID, initiator string, ts int64) {
	if _, err := store.AdvanceLastRead(threadID, initiator, ts); err != nil {
		logger.Warn("compose_read_catchup_failed", "thread", threadID, "initiator", initiator, "error", err)
	}
}

func validate(req Request) error {
	if strings.TrimSpace(req.Initiator) == "" {
		return errs.Validation("initiator", "is required")
	}
	if strings.TrimSpace(req.Subject) == "" {
		return errs.Validation("subject", "must not be empty")
	}
	if strings.TrimSpace(req.Body) == "" {
		return errs.Validation("body", "must not be empty")
	}
	if len(req.Recipients) == 0 {
		return errs.Validation("recipients", "must not be empty")
	}
	if !req.Kind.Valid() {
		return errs.Validation("kind", "is not a known thread kind")
	}

	distinct := make(map[string]struct{}, len(req.Recipients)+1)
	distinct[req.Initiator] = struct{}{}
	for _, r := range req.Recipients {
		if strings.TrimSpace(r) == "" {
			return errs.Validation("recipients", "contains an empty id")
		}
		distinct[r] = struct{}{}
	}

	switch req.Kind {
	case models.KindDirect:
		if len(distinct) != 2 {
			return errs.Validation("recipients", "direct thread needs exactly two distinct members")
		}
	case models.KindGroup:
		if len(distinct) < 3 {
			return errs.Validation("recipients", "group thread needs at least three distinct members")
		}
	case models.KindTicketContext:
		if len(distinct) < 2 {
			return errs.Validation("recipients", "thread needs at least two distinct members")
		}
		if strings.TrimSpace(req.ExternalRef) == "" {
			return errs.Validation("external_ref", "is required for ticket_context threads")
		}
	}
	if req.Kind != models.KindTicketContext && req.ExternalRef != "" {
		return errs.Validation("external_ref", "is only allowed on ticket_context threads")
	}
	return nil
}
