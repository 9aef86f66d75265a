// Package inbox assembles a member's thread directory view: every thread
// they actively belong to, with a last-message preview, member count and
// unread flag.
package inbox

import (
	"context"
	"sort"

	"commshub/pkg/directory"
	"commshub/pkg/logger"
	"commshub/pkg/models"
	"commshub/pkg/readstate"
	"commshub/pkg/store"
)

// snippetMax caps the preview body length in runes.
const snippetMax = 120

// Entry is one inbox row.
type Entry struct {
	Thread      models.Thread `json:"thread"`
	Preview     string        `json:"preview,omitempty"`
	PreviewTS   int64         `json:"preview_ts,omitempty"`
	PreviewFrom string        `json:"preview_from,omitempty"`
	MemberCount int           `json:"member_count"`
	Unread      bool          `json:"unread"`
}

// Builder produces inbox views. Sender resolution for previews is
// best-effort; a nil resolver renders placeholders.
type Builder struct {
	Resolver directory.Resolver
}

// Build lists the member's non-archived threads ordered by UpdatedTS
// descending (ties broken by thread id ascending), each with preview,
// member count and unread flag.
//
// The latest-message and member-count lookups are grouped scans, one
// pass each over the candidate threads, so inbox latency does not grow a
// round trip per thread.
func (b *Builder) Build(ctx context.Context, memberID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tids, err := store.ListThreadIDsForMember(memberID)
	if err != nil {
		return nil, err
	}

	threads := make([]models.Thread, 0, len(tids))
	memberships := make(map[string]models.ThreadMember, len(tids))
	visible := make([]string, 0, len(tids))
	for _, tid := range tids {
		th, err := store.GetThread(tid)
		if err != nil {
			// index row without metadata: a half-created thread another
			// session abandoned; skip it
			logger.Debug("inbox_skip_thread", "thread", tid, "error", err)
			continue
		}
		if th.Archived {
			continue
		}
		m, err := store.GetMember(tid, memberID)
		if err != nil || m.Removed {
			continue
		}
		threads = append(threads, th)
		memberships[tid] = m
		visible = append(visible, tid)
	}

	latest, err := store.LatestMessageByThread(visible)
	if err != nil {
		return nil, err
	}
	counts, err := store.MemberCountByThread(visible)
	if err != nil {
		return nil, err
	}

	// best-effort sender labels for previews
	var senders []string
	for _, m := range latest {
		senders = append(senders, m.Sender)
	}
	names := directory.ResolveOrPlaceholder(ctx, b.Resolver, senders)

	out := make([]Entry, 0, len(threads))
	for _, th := range threads {
		e := Entry{Thread: th, MemberCount: counts[th.ID]}
		if last, ok := latest[th.ID]; ok {
			e.Preview = snippet(last.Body)
			e.PreviewTS = last.CreatedTS
			e.PreviewFrom = names[last.Sender]
			e.Unread = readstate.UnreadAgainst(memberships[th.ID], last)
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		a, c := out[i].Thread, out[j].Thread
		if a.UpdatedTS != c.UpdatedTS {
			return a.UpdatedTS > c.UpdatedTS
		}
		return a.ID < c.ID
	})
	return out, nil
}

func snippet(body string) string {
	r := []rune(body)
	if len(r) <= snippetMax {
		return body
	}
	return string(r[:snippetMax]) + "…"
}
