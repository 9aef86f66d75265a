// Package readstate derives per-member unread flags from read-state
// watermarks. The watermark itself is stored on the membership row and
// advanced through store.AdvanceLastRead; this package holds the predicate
// logic so inbox and history agree on what "unread" means.
package readstate

import (
	"commshub/pkg/models"
	"commshub/pkg/store"
)

// UnreadAgainst reports whether latest leaves the member with unread
// messages. A zero LastReadTS means the member has never read the thread,
// so any visible message counts as unread.
func UnreadAgainst(m models.ThreadMember, latest models.Message) bool {
	if latest.ID == "" || latest.Archived {
		return false
	}
	if m.LastReadTS == 0 {
		return true
	}
	return latest.CreatedTS > m.LastReadTS
}

// Unread computes the unread flag for (thread, member) from persisted
// state. It scans only as far as the latest visible message.
func Unread(threadID, userID string) (bool, error) {
	m, err := store.GetMember(threadID, userID)
	if err != nil {
		return false, err
	}
	latest, err := store.LatestMessageByThread([]string{threadID})
	if err != nil {
		return false, err
	}
	return UnreadAgainst(m, latest[threadID]), nil
}

// MarkRead advances the member's watermark to now-equivalent ts. It is a
// thin alias kept so callers express intent; regressions are clamped by
// the store.
func MarkRead(threadID, userID string, ts int64) (bool, error) {
	return store.AdvanceLastRead(threadID, userID, ts)
}
