// Package history loads point-in-time snapshots of a thread's message
// list for a detail view. A snapshot does not stay current by itself;
// keeping it current is the live bridge's job.
package history

import (
	"context"
	"time"

	"commshub/pkg/directory"
	"commshub/pkg/errs"
	"commshub/pkg/logger"
	"commshub/pkg/models"
	"commshub/pkg/store"
)

// Snapshot is one loaded view of a thread.
type Snapshot struct {
	Thread   models.Thread
	Messages []models.Message
	// SenderNames maps every distinct sender id in Messages to a display
	// name or an opaque placeholder.
	SenderNames map[string]string
	// LoadedTS is the read-state watermark the load advanced to (ns).
	LoadedTS int64
}

// Loader fetches snapshots and advances the caller's read state.
type Loader struct {
	Resolver directory.Resolver
	// now is swappable for tests
	now func() int64
}

func NewLoader(r directory.Resolver) *Loader {
	return &Loader{Resolver: r, now: func() int64 { return time.Now().UTC().UnixNano() }}
}

// Load fetches the thread's ordered history for an active member and, on
// success, advances that member's last-read watermark to now. The
// advancement is monotonic, so loading twice with no new messages is a
// no-op on read state. Archived threads and non-members get ErrNotFound;
// the caller learns nothing about threads they cannot see.
func (l *Loader) Load(ctx context.Context, threadID, memberID string) (*Snapshot, error) {
	snap, err := l.fetch(ctx, threadID, memberID)
	if err != nil {
		return nil, err
	}

	// read-state side effect; never blocks or reorders the snapshot
	ts := l.now()
	if _, err := store.AdvanceLastRead(threadID, memberID, ts); err != nil {
		// the snapshot is still valid; surface the read-state failure in
		// logs only
		logger.Warn("history_read_advance_failed", "thread", threadID, "member", memberID, "error", err)
	} else {
		snap.LoadedTS = ts
	}
	return snap, nil
}

// Tail fetches the non-archived messages strictly after (afterTS, afterID)
// without touching read state. It is the gap-fill read the live bridge
// issues after a subscription reconnect; passive receipt must not mark a
// thread read.
func (l *Loader) Tail(ctx context.Context, threadID, memberID string, afterTS int64, afterID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := checkAccess(threadID, memberID); err != nil {
		return nil, err
	}
	return store.TailMessages(threadID, afterTS, afterID)
}

func (l *Loader) fetch(ctx context.Context, threadID, memberID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	th, err := checkAccess(threadID, memberID)
	if err != nil {
		return nil, err
	}
	msgs, err := store.ListMessages(threadID)
	if err != nil {
		return nil, err
	}

	senders := distinctSenders(msgs)
	names := directory.ResolveOrPlaceholder(ctx, l.Resolver, senders)

	return &Snapshot{Thread: th, Messages: msgs, SenderNames: names}, nil
}

// checkAccess returns the thread when memberID is an active member of a
// live thread, so callers needing the meta do not re-read it.
func checkAccess(threadID, memberID string) (models.Thread, error) {
	th, err := store.GetThread(threadID)
	if err != nil {
		return models.Thread{}, err
	}
	if th.Archived {
		return models.Thread{}, errs.ErrNotFound
	}
	m, err := store.GetMember(threadID, memberID)
	if err != nil {
		return models.Thread{}, errs.ErrNotFound
	}
	if m.Removed {
		return models.Thread{}, errs.ErrNotFound
	}
	return th, nil
}

func distinctSenders(msgs []models.Message) []string {
	seen := make(map[string]struct{}, 8)
	var out []string
	for _, m := range msgs {
		if _, ok := seen[m.Sender]; ok {
			continue
		}
		seen[m.Sender] = struct{}{}
		out = append(out, m.Sender)
	}
	return out
}
