package models

// Role is a member's privilege level inside a thread.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ThreadMember is a participant's relationship to a thread, keyed by
// (thread, user). It carries the member's read-state watermark.
type ThreadMember struct {
	Thread string `json:"thread"`
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	// Joined timestamp (ns)
	JoinedTS int64 `json:"joined_ts,omitempty"`
	// LastReadTS is the read-state watermark (ns). Zero means "never read".
	// It is monotonically non-decreasing; the store clamps regressions.
	LastReadTS int64 `json:"last_read_ts,omitempty"`
	// Removed ends the member's visibility of new messages but keeps their
	// read history in place.
	Removed   bool  `json:"removed,omitempty"`
	RemovedTS int64 `json:"removed_ts,omitempty"`
}
