package store

import (
	"fmt"
	"strings"
)

// Key layout. Message keys sort by (created_ts, id) within a thread because
// the timestamp is zero-padded and the id is appended as a tie-break suffix.
//
//	thread:<tid>:meta                thread metadata JSON
//	thread:<tid>:member:<uid>        membership JSON
//	thread:<tid>:msg:<ts20>-<id>     message JSON
//	member:<uid>:thread:<tid>        membership index (value: thread id)

func threadMetaKey(threadID string) []byte {
	return []byte("thread:" + threadID + ":meta")
}

func memberKey(threadID, userID string) []byte {
	return []byte("thread:" + threadID + ":member:" + userID)
}

func memberPrefix(threadID string) []byte {
	return []byte("thread:" + threadID + ":member:")
}

func memberIndexKey(userID, threadID string) []byte {
	return []byte("member:" + userID + ":thread:" + threadID)
}

func memberIndexPrefix(userID string) []byte {
	return []byte("member:" + userID + ":thread:")
}

// MsgKey builds the ordered message key for a thread. Callers must pass the
// final (clamped) timestamp.
func MsgKey(threadID string, ts int64, msgID string) (string, error) {
	if threadID == "" || msgID == "" {
		return "", fmt.Errorf("msg key needs thread and message ids")
	}
	if strings.ContainsAny(threadID+msgID, ":") {
		return "", fmt.Errorf("ids must not contain ':'")
	}
	return fmt.Sprintf("thread:%s:msg:%020d-%s", threadID, ts, msgID), nil
}

func msgPrefix(threadID string) []byte {
	return []byte("thread:" + threadID + ":msg:")
}

func threadPrefix(threadID string) []byte {
	return []byte("thread:" + threadID + ":")
}
