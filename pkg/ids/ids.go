// Package ids generates opaque identifiers for threads and messages.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// GenThreadID returns a new opaque thread id.
func GenThreadID() string {
	return "th_" + compact()
}

// GenMsgID returns a new opaque message id.
func GenMsgID() string {
	return "msg_" + compact()
}

func compact() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Short returns an abbreviated form of an id suitable for placeholder
// display labels. It keeps the prefix and the first few hex chars.
func Short(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
