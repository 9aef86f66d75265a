package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"commshub/pkg/errs"
	"commshub/pkg/logger"
	"commshub/pkg/models"

	"github.com/cockroachdb/pebble"
)

var db *pebble.DB
var dbPath string

// notify, when set, is invoked after every successful message append. The
// app wires this to the live feed broker so subscribers observe inserts.
var notify func(models.Message)

// SetNotifier installs the post-append hook. Pass nil to detach.
func SetNotifier(fn func(models.Message)) { notify = fn }

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

// SaveThread stores thread metadata under its reserved key.
func SaveThread(th models.Thread) error {
	if db == nil {
		return notOpened()
	}
	b, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("failed to marshal thread: %w", err)
	}
	if err := db.Set(threadMetaKey(th.ID), b, pebble.Sync); err != nil {
		logger.Error("save_thread_failed", "thread", th.ID, "error", err)
		return fmt.Errorf("%w: %v", errs.ErrWriteFailed, err)
	}
	mThreadWrites.Inc()
	logger.Info("thread_saved", "thread", th.ID, "kind", string(th.Kind))
	return nil
}

// GetThread returns the stored thread metadata for a given thread ID.
// Missing threads map to errs.ErrNotFound.
func GetThread(threadID string) (models.Thread, error) {
	var th models.Thread
	if db == nil {
		return th, notOpened()
	}
	v, closer, err := db.Get(threadMetaKey(threadID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return th, errs.ErrNotFound
		}
		return th, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &th); err != nil {
		return th, fmt.Errorf("invalid thread metadata: %w", err)
	}
	mThreadReads.Inc()
	return th, nil
}

// ArchiveThread soft-removes a thread. Archived threads drop out of the
// inbox and live delivery but keep all rows in place.
func ArchiveThread(threadID, actor string) error {
	if db == nil {
		return notOpened()
	}
	th, err := GetThread(threadID)
	if err != nil {
		return err
	}
	if th.Archived {
		return nil
	}
	th.Archived = true
	th.ArchivedTS = time.Now().UTC().UnixNano()
	if err := SaveThread(th); err != nil {
		logger.Error("archive_thread_failed", "thread", threadID, "error", err)
		return err
	}
	mArchives.Inc()
	logger.Info("thread_archived", "thread", threadID, "actor", actor)
	return nil
}

// PutMember upserts a membership row and its inbox index entry.
func PutMember(m models.ThreadMember) error {
	if db == nil {
		return notOpened()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal member: %w", err)
	}
	if err := db.Set(memberKey(m.Thread, m.UserID), b, pebble.Sync); err != nil {
		logger.Error("save_member_failed", "thread", m.Thread, "user", m.UserID, "error", err)
		return fmt.Errorf("%w: %v", errs.ErrWriteFailed, err)
	}
	if err := db.Set(memberIndexKey(m.UserID, m.Thread), []byte(m.Thread), pebble.Sync); err != nil {
		logger.Error("save_member_index_failed", "thread", m.Thread, "user", m.UserID, "error", err)
		return fmt.Errorf("%w: %v", errs.ErrWriteFailed, err)
	}
	logger.Info("member_saved", "thread", m.Thread, "user", m.UserID, "role", string(m.Role))
	return nil
}

// GetMember returns the membership row for (thread, user); errs.ErrNotFound
// when absent.
func GetMember(threadID, userID string) (models.ThreadMember, error) {
	var m models.ThreadMember
	if db == nil {
		return m, notOpened()
	}
	v, closer, err := db.Get(memberKey(threadID, userID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return m, errs.ErrNotFound
		}
		return m, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid member row: %w", err)
	}
	return m, nil
}

// ListMembers returns all membership rows for a thread, removed ones
// included; callers filter as needed.
func ListMembers(threadID string) ([]models.ThreadMember, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := memberPrefix(threadID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.ThreadMember
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.ThreadMember
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skip_invalid_member_row", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// RemoveMember soft-removes a membership. The member keeps their read
// history but stops seeing new messages; the inbox index entry is deleted.
func RemoveMember(threadID, userID string) error {
	m, err := GetMember(threadID, userID)
	if err != nil {
		return err
	}
	if m.Removed {
		return nil
	}
	m.Removed = true
	m.RemovedTS = time.Now().UTC().UnixNano()
	b, _ := json.Marshal(m)
	if err := db.Set(memberKey(threadID, userID), b, pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrWriteFailed, err)
	}
	if err := db.Delete(memberIndexKey(userID, threadID), pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrWriteFailed, err)
	}
	logger.Info("member_removed", "thread", threadID, "user", userID)
	return nil
}

// AdvanceLastRead moves a member's read-state watermark forward to ts. The
// watermark never regresses: advancing to a ts at or below the current value
// is a no-op. Returns whether the watermark moved.
func AdvanceLastRead(threadID, userID string, ts int64) (bool, error) {
	m, err := GetMember(threadID, userID)
	if err != nil {
		return false, err
	}
	if ts <= m.LastReadTS {
		mReadStateClamped.Inc()
		return false, nil
	}
	m.LastReadTS = ts
	b, _ := json.Marshal(m)
	if err := db.Set(memberKey(threadID, userID), b, pebble.Sync); err != nil {
		logger.Error("advance_last_read_failed", "thread", threadID, "user", userID, "error", err)
		return false, fmt.Errorf("%w: %v", errs.ErrWriteFailed, err)
	}
	mReadStateAdvances.Inc()
	logger.Debug("last_read_advanced", "thread", threadID, "user", userID, "ts", ts)
	return true, nil
}

// AppendMessage appends a message to its thread. The message timestamp is
// clamped so it never precedes the thread's CreatedTS, and the thread's
// UpdatedTS is bumped afterwards. The two writes are individually atomic;
// a missed UpdatedTS bump is repaired by the next append.
func AppendMessage(msg models.Message) (models.Message, error) {
	if db == nil {
		return msg, notOpened()
	}
	th, err := GetThread(msg.Thread)
	if err != nil {
		return msg, err
	}
	if msg.CreatedTS == 0 {
		msg.CreatedTS = time.Now().UTC().UnixNano()
	}
	if msg.CreatedTS < th.CreatedTS {
		msg.CreatedTS = th.CreatedTS
	}
	key, err := MsgKey(msg.Thread, msg.CreatedTS, msg.ID)
	if err != nil {
		return msg, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return msg, fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("append_message_failed", "thread", msg.Thread, "key", key, "error", err)
		return msg, fmt.Errorf("%w: %v", errs.ErrWriteFailed, err)
	}
	mAppends.Inc()
	logger.Info("message_appended", "thread", msg.Thread, "msg_id", msg.ID)

	// bump thread activity for inbox ordering; best-effort
	if msg.CreatedTS > th.UpdatedTS {
		th.UpdatedTS = msg.CreatedTS
		if err := SaveThread(th); err != nil {
			logger.Warn("bump_updated_ts_failed", "thread", th.ID, "error", err)
		}
	}

	if notify != nil {
		notify(msg)
	}
	return msg, nil
}

// ListMessages returns all non-archived messages for a thread in
// (created_ts, id) order.
func ListMessages(threadID string) ([]models.Message, error) {
	return scanMessages(threadID, func(m models.Message) bool { return !m.Archived })
}

// TailMessages returns the non-archived messages strictly after (afterTS,
// afterID) in (created_ts, id) order. It is the gap-fill read used after a
// live subscription reconnect.
func TailMessages(threadID string, afterTS int64, afterID string) ([]models.Message, error) {
	return scanMessages(threadID, func(m models.Message) bool {
		return !m.Archived && m.After(afterTS, afterID)
	})
}

func scanMessages(threadID string, keep func(models.Message) bool) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := msgPrefix(threadID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skip_invalid_message_row", "key", string(iter.Key()), "error", err)
			continue
		}
		if keep(m) {
			out = append(out, m)
		}
	}
	mMessageReads.Inc()
	return out, iter.Error()
}

// ArchiveMessage soft-removes a single message. The row keeps its key so
// the sequence is never renumbered or compacted.
func ArchiveMessage(threadID, msgID string) error {
	if db == nil {
		return notOpened()
	}
	prefix := msgPrefix(threadID)
	suffix := []byte("-" + msgID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), suffix) {
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return fmt.Errorf("invalid message row: %w", err)
		}
		if m.Archived {
			return nil
		}
		m.Archived = true
		b, _ := json.Marshal(m)
		k := append([]byte(nil), iter.Key()...)
		if err := db.Set(k, b, pebble.Sync); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrWriteFailed, err)
		}
		mArchives.Inc()
		logger.Info("message_archived", "thread", threadID, "msg_id", msgID)
		return nil
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return errs.ErrNotFound
}

// ListThreadIDsForMember returns the thread ids the user has an active
// membership in, via the member index.
func ListThreadIDsForMember(userID string) ([]string, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := memberIndexPrefix(userID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, string(iter.Value()))
	}
	return out, iter.Error()
}

// LatestMessageByThread returns the most recent non-archived message per
// thread in a single iterator pass per thread (no per-message round trips).
// Threads with no visible messages are absent from the result.
func LatestMessageByThread(threadIDs []string) (map[string]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := make(map[string]models.Message, len(threadIDs))
	for _, tid := range threadIDs {
		prefix := msgPrefix(tid)
		// message keys sort ascending; walk backwards from the end of the
		// prefix range to find the newest non-archived entry
		upper := append(append([]byte(nil), prefix...), 0xff)
		if !iter.SeekLT(upper) {
			continue
		}
		for ; iter.Valid(); iter.Prev() {
			if !bytes.HasPrefix(iter.Key(), prefix) {
				break
			}
			var m models.Message
			if err := json.Unmarshal(iter.Value(), &m); err != nil {
				continue
			}
			if m.Archived {
				continue
			}
			out[tid] = m
			break
		}
	}
	mMessageReads.Inc()
	return out, iter.Error()
}

// MemberCountByThread returns the count of current (non-removed) members
// per thread using one shared iterator.
func MemberCountByThread(threadIDs []string) (map[string]int, error) {
	if db == nil {
		return nil, notOpened()
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := make(map[string]int, len(threadIDs))
	for _, tid := range threadIDs {
		prefix := memberPrefix(tid)
		n := 0
		for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
			if !bytes.HasPrefix(iter.Key(), prefix) {
				break
			}
			var m models.ThreadMember
			if err := json.Unmarshal(iter.Value(), &m); err != nil {
				continue
			}
			if !m.Removed {
				n++
			}
		}
		out[tid] = n
	}
	return out, iter.Error()
}

// PurgeThread hard-deletes every row belonging to a thread: metadata,
// memberships, messages and inbox index entries. Used by housekeeping only;
// user-facing removal is ArchiveThread.
func PurgeThread(threadID string) error {
	if db == nil {
		return notOpened()
	}
	members, err := ListMembers(threadID)
	if err != nil {
		return err
	}
	prefix := threadPrefix(threadID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	var keys [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Close(); err != nil {
		return err
	}
	for _, k := range keys {
		if err := db.Delete(k, pebble.Sync); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrWriteFailed, err)
		}
	}
	for _, m := range members {
		if err := db.Delete(memberIndexKey(m.UserID, threadID), pebble.Sync); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrWriteFailed, err)
		}
	}
	logger.Info("thread_purged", "thread", threadID, "rows", len(keys))
	return nil
}

// ListKeys returns all keys (as strings) that start with the given prefix.
// If prefix is empty it returns all keys in the DB.
func ListKeys(prefix string) ([]string, error) {
	if db == nil {
		return nil, notOpened()
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	if prefix == "" {
		for iter.First(); iter.Valid(); iter.Next() {
			out = append(out, string(iter.Key()))
		}
		return out, iter.Error()
	}
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(iter.Key()))
	}
	return out, iter.Error()
}

// DBSet writes a raw key (bytes) into the DB. Low-level helper used by
// tests and maintenance tooling.
func DBSet(key, value []byte) error {
	if db == nil {
		return notOpened()
	}
	return db.Set(key, value, pebble.Sync)
}
