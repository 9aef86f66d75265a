package models

// ThreadKind classifies how a thread came to exist and who it may contain.
type ThreadKind string

const (
	// KindDirect is an ad-hoc two-party conversation.
	KindDirect ThreadKind = "direct"
	// KindGroup holds three or more members.
	KindGroup ThreadKind = "group"
	// KindTicketContext is bound to an external record reference.
	KindTicketContext ThreadKind = "ticket_context"
)

// Valid reports whether k is one of the known thread kinds.
func (k ThreadKind) Valid() bool {
	switch k {
	case KindDirect, KindGroup, KindTicketContext:
		return true
	}
	return false
}

type Thread struct {
	ID      string     `json:"id"`
	Subject string     `json:"subject"`
	Kind    ThreadKind `json:"kind"`
	// ExternalRef points at the bound record when Kind == ticket_context;
	// empty otherwise.
	ExternalRef string `json:"external_ref,omitempty"`
	// CreatedBy is the member id of the creator.
	CreatedBy string `json:"created_by"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
	// Updated timestamp (ns) - advances on every appended message; never < CreatedTS
	UpdatedTS int64 `json:"updated_ts,omitempty"`
	// Archived marks a thread as soft-removed; ArchivedTS records when (ns).
	// Archived threads are excluded from the inbox and from live delivery.
	Archived   bool  `json:"archived,omitempty"`
	ArchivedTS int64 `json:"archived_ts,omitempty"`
}
