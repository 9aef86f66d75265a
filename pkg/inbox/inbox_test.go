package inbox

import (
	"context"
	"strings"
	"testing"

	"commshub/pkg/composer"
	"commshub/pkg/directory"
	"commshub/pkg/models"
	"commshub/pkg/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func mkThread(t *testing.T, id string, created int64, members ...string) models.Thread {
	t.Helper()
	th := models.Thread{ID: id, Subject: "s-" + id, Kind: models.KindGroup, CreatedBy: members[0], CreatedTS: created, UpdatedTS: created}
	if err := store.SaveThread(th); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}
	for _, u := range members {
		if err := store.PutMember(models.ThreadMember{Thread: id, UserID: u}); err != nil {
			t.Fatalf("PutMember: %v", err)
		}
	}
	return th
}

func say(t *testing.T, tid, id, sender, body string, ts int64) {
	t.Helper()
	if _, err := store.AppendMessage(models.Message{ID: id, Thread: tid, Sender: sender, Body: body, CreatedTS: ts}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
}

func TestBuildOrdersByActivityWithPreviews(t *testing.T) {
	openTestStore(t)

	mkThread(t, "th_old", 100, "u_me", "u_a")
	mkThread(t, "th_new", 100, "u_me", "u_b")
	say(t, "th_old", "msg_1", "u_a", "older activity", 500)
	say(t, "th_new", "msg_2", "u_b", "newer activity", 900)

	b := &Builder{Resolver: directory.Static{"u_b": "Bela"}}
	entries, err := b.Build(context.Background(), "u_me")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Thread.ID != "th_new" || entries[1].Thread.ID != "th_old" {
		t.Fatalf("wrong order: %s, %s", entries[0].Thread.ID, entries[1].Thread.ID)
	}
	e := entries[0]
	if e.Preview != "newer activity" || e.PreviewTS != 900 || e.PreviewFrom != "Bela" {
		t.Fatalf("wrong preview: %+v", e)
	}
	if e.MemberCount != 2 {
		t.Fatalf("wrong member count: %d", e.MemberCount)
	}
	// unknown sender renders a placeholder
	if entries[1].PreviewFrom != directory.Placeholder("u_a") {
		t.Fatalf("placeholder missing: %q", entries[1].PreviewFrom)
	}
}

func TestBuildTiesBreakByThreadID(t *testing.T) {
	openTestStore(t)
	mkThread(t, "th_b", 100, "u_me", "u_a")
	mkThread(t, "th_a", 100, "u_me", "u_a")

	b := &Builder{}
	entries, err := b.Build(context.Background(), "u_me")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if entries[0].Thread.ID != "th_a" || entries[1].Thread.ID != "th_b" {
		t.Fatalf("tie-break wrong: %s, %s", entries[0].Thread.ID, entries[1].Thread.ID)
	}
}

func TestBuildUnreadFlags(t *testing.T) {
	openTestStore(t)
	mkThread(t, "th_u", 100, "u_me", "u_a")
	say(t, "th_u", "msg_1", "u_a", "hello", 500)

	b := &Builder{}
	entries, _ := b.Build(context.Background(), "u_me")
	if !entries[0].Unread {
		t.Fatalf("expected unread before reading")
	}

	if _, err := store.AdvanceLastRead("th_u", "u_me", 600); err != nil {
		t.Fatalf("AdvanceLastRead: %v", err)
	}
	entries, _ = b.Build(context.Background(), "u_me")
	if entries[0].Unread {
		t.Fatalf("expected read after watermark advance")
	}

	say(t, "th_u", "msg_2", "u_a", "again", 700)
	entries, _ = b.Build(context.Background(), "u_me")
	if !entries[0].Unread {
		t.Fatalf("expected unread after newer message")
	}
}

func TestFreshThreadReadsForCreatorOnly(t *testing.T) {
	openTestStore(t)

	res, err := composer.Compose(context.Background(), composer.Request{
		Initiator:  "u_me",
		Recipients: []string{"u_a"},
		Subject:    "dm",
		Body:       "hi",
		Kind:       models.KindDirect,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	b := &Builder{}
	mine, err := b.Build(context.Background(), "u_me")
	if err != nil {
		t.Fatalf("Build creator: %v", err)
	}
	if len(mine) != 1 || mine[0].Thread.ID != res.Thread.ID {
		t.Fatalf("creator inbox wrong: %+v", mine)
	}
	if mine[0].Unread {
		t.Fatalf("fresh thread shows unread to its own creator")
	}

	theirs, err := b.Build(context.Background(), "u_a")
	if err != nil {
		t.Fatalf("Build recipient: %v", err)
	}
	if len(theirs) != 1 || !theirs[0].Unread {
		t.Fatalf("recipient should start unread: %+v", theirs)
	}
}

func TestBuildExcludesArchivedAndRemoved(t *testing.T) {
	openTestStore(t)
	mkThread(t, "th_keep", 100, "u_me", "u_a")
	arch := mkThread(t, "th_gone", 100, "u_me", "u_a")
	left := mkThread(t, "th_left", 100, "u_me", "u_a")

	if err := store.ArchiveThread(arch.ID, "u_me"); err != nil {
		t.Fatalf("ArchiveThread: %v", err)
	}
	if err := store.RemoveMember(left.ID, "u_me"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}

	b := &Builder{}
	entries, err := b.Build(context.Background(), "u_me")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(entries) != 1 || entries[0].Thread.ID != "th_keep" {
		t.Fatalf("filtering wrong: %+v", entries)
	}
}

func TestBuildMessagelessThreadHasEmptyPreview(t *testing.T) {
	openTestStore(t)
	mkThread(t, "th_empty", 100, "u_me", "u_a")

	b := &Builder{}
	entries, _ := b.Build(context.Background(), "u_me")
	e := entries[0]
	if e.Preview != "" || e.PreviewTS != 0 || e.Unread {
		t.Fatalf("empty thread entry wrong: %+v", e)
	}
}

func TestSnippetTruncatesLongBodies(t *testing.T) {
	long := strings.Repeat("å", snippetMax+40)
	got := snippet(long)
	r := []rune(got)
	if len(r) != snippetMax+1 {
		t.Fatalf("wrong snippet length: %d", len(r))
	}
	if r[len(r)-1] != '…' {
		t.Fatalf("snippet missing ellipsis")
	}
	if snippet("short") != "short" {
		t.Fatalf("short body modified")
	}
}
