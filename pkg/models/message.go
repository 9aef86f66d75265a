package models

type Message struct {
	ID     string `json:"id"`
	Thread string `json:"thread"`
	Sender string `json:"sender"`
	// Body is non-empty message text.
	Body string `json:"body"`
	// Created timestamp (ns); clamped to >= the thread's CreatedTS on append.
	CreatedTS int64 `json:"created_ts"`
	// Archived excludes the message from history and previews. Messages are
	// append-only otherwise; archived entries keep their position.
	Archived bool `json:"archived,omitempty"`
}

// After reports whether m sorts after (ts, id) in the canonical
// (created_ts, id) message order.
func (m Message) After(ts int64, id string) bool {
	if m.CreatedTS != ts {
		return m.CreatedTS > ts
	}
	return m.ID > id
}

// Before reports whether m sorts before o in (created_ts, id) order.
func (m Message) Before(o Message) bool {
	if m.CreatedTS != o.CreatedTS {
		return m.CreatedTS < o.CreatedTS
	}
	return m.ID < o.ID
}
