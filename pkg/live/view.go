// Package live keeps an open conversation view current. A View owns a
// history snapshot plus a feed subscription and merges the two streams
// into one ordered message list, with no duplicates and no permanent
// gaps: duplicate notifications are dropped by id, out-of-order arrivals
// are placed by sorted insert, and a lost subscription is healed by
// resubscribing with backoff and re-fetching the tail since the last
// merged message.
package live

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"commshub/pkg/errs"
	"commshub/pkg/feed"
	"commshub/pkg/history"
	"commshub/pkg/logger"
	"commshub/pkg/models"
	"commshub/pkg/readstate"
)

// Options tunes a view's reconnect behavior.
type Options struct {
	// BackoffInitial is the first reconnect delay; doubles up to BackoffMax.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (o *Options) fill() {
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 100 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 5 * time.Second
	}
}

// View is one open conversation session.
type View struct {
	ThreadID string
	MemberID string

	loader *history.Loader
	broker *feed.Broker
	opts   Options

	mu     sync.Mutex
	msgs   []models.Message
	byID   map[string]struct{}
	lastTS int64
	lastID string
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Open loads the thread's snapshot (which advances the caller's read
// state; opening a conversation is an explicit read), then subscribes to
// the live feed and starts the merge loop. The subscription is
// established after the snapshot; any message created in between is
// covered by feed delivery plus dedup.
func Open(ctx context.Context, broker *feed.Broker, loader *history.Loader, threadID, memberID string, opts Options) (*View, error) {
	opts.fill()
	snap, err := loader.Load(ctx, threadID, memberID)
	if err != nil {
		return nil, err
	}

	vctx, cancel := context.WithCancel(ctx)
	v := &View{
		ThreadID: threadID,
		MemberID: memberID,
		loader:   loader,
		broker:   broker,
		opts:     opts,
		byID:     make(map[string]struct{}, len(snap.Messages)),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	v.merge(snap.Messages...)

	sub := broker.Subscribe(threadID)
	go v.run(vctx, sub)
	return v, nil
}

// Messages returns a copy of the current ordered message list.
func (v *View) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Message, len(v.msgs))
	copy(out, v.msgs)
	return out
}

// MarkRead explicitly advances the member's read state to now. Passive
// receipt of live messages never does this; only an explicit open or
// mark-read moves the watermark.
func (v *View) MarkRead() error {
	_, err := readstate.MarkRead(v.ThreadID, v.MemberID, time.Now().UTC().UnixNano())
	return err
}

// Close tears the view down: the subscription is cancelled and any
// in-flight event or tail response is discarded rather than applied.
// Safe to call more than once.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()
	v.cancel()
	<-v.done
}

func (v *View) run(ctx context.Context, sub *feed.Subscription) {
	defer close(v.done)
	defer func() { sub.Cancel() }()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				// subscription lost (cancelled upstream or lapsed);
				// resubscribe and close the gap
				next, rerr := v.reconnect(ctx)
				if rerr != nil {
					return
				}
				sub.Cancel()
				sub = next
				continue
			}
			v.merge(ev.Message)
		}
	}
}

// reconnect re-establishes the feed subscription with exponential backoff
// and then re-fetches the thread tail since the last merged message, so
// an outage never leaves a permanent gap. The subscription is opened
// before the tail fetch: anything created in between arrives on both
// paths and dedup keeps it single.
func (v *View) reconnect(ctx context.Context) (*feed.Subscription, error) {
	delay := v.opts.BackoffInitial
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		sub := v.broker.Subscribe(v.ThreadID)
		afterTS, afterID := v.lastMerged()
		tail, err := v.loader.Tail(ctx, v.ThreadID, v.MemberID, afterTS, afterID)
		if err != nil {
			sub.Cancel()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, errs.ErrNotFound) {
				// the thread was archived or access was revoked while
				// disconnected; the view is over
				logger.Info("live_thread_gone", "thread", v.ThreadID)
				return nil, err
			}
			logger.Warn("live_reconnect_tail_failed", "thread", v.ThreadID, "attempt", attempt, "error", err)
			if delay *= 2; delay > v.opts.BackoffMax {
				delay = v.opts.BackoffMax
			}
			continue
		}
		if ctx.Err() != nil {
			// view closed while the tail was in flight; discard it
			sub.Cancel()
			return nil, ctx.Err()
		}
		v.merge(tail...)
		logger.Info("live_reconnected", "thread", v.ThreadID, "attempt", attempt, "tail", len(tail))
		return sub, nil
	}
}

func (v *View) lastMerged() (int64, string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastTS, v.lastID
}

// merge inserts messages at their (created_ts, id) position, dropping any
// id already present. Appending is the common case since notifications
// arrive roughly in creation order, but placement never assumes it.
func (v *View) merge(msgs ...models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	for _, m := range msgs {
		if _, dup := v.byID[m.ID]; dup {
			continue
		}
		v.byID[m.ID] = struct{}{}
		i := sort.Search(len(v.msgs), func(i int) bool { return !v.msgs[i].Before(m) })
		v.msgs = append(v.msgs, models.Message{})
		copy(v.msgs[i+1:], v.msgs[i:])
		v.msgs[i] = m
		if m.After(v.lastTS, v.lastID) {
			v.lastTS, v.lastID = m.CreatedTS, m.ID
		}
	}
}
