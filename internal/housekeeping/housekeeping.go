// Package housekeeping runs the background sweeps the composer's
// partial-failure policy relies on: threads abandoned half-created are
// archived after a grace period, and archived threads past retention are
// hard-purged. Runs are scheduled by cron expression and batched so a
// sweep never monopolizes the store.
package housekeeping

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"commshub/pkg/config"
	"commshub/pkg/logger"
	"commshub/pkg/state"
	"commshub/pkg/store"
)

var storedEff *config.EffectiveConfigResult

// SetEffectiveConfig stores the effective config so tests (or admin
// triggers) can invoke sweeps on-demand.
func SetEffectiveConfig(eff config.EffectiveConfigResult) {
	storedEff = &eff
}

// RunImmediate triggers a single sweep using the stored effective config.
func RunImmediate() error {
	if storedEff == nil {
		return fmt.Errorf("no effective config registered for housekeeping run")
	}
	return runOnce(context.Background(), *storedEff)
}

// Start starts the housekeeping scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, eff config.EffectiveConfigResult) (context.CancelFunc, error) {
	hk := eff.Config.Housekeeping

	if !hk.Enabled {
		logger.Info("housekeeping_disabled")
		return func() {}, nil
	}

	runPath := state.PathsVar.Housekeeping
	if err := os.MkdirAll(runPath, 0o700); err != nil {
		logger.Error("housekeeping_path_create_failed", "path", runPath, "error", err)
		return nil, err
	}

	cronExpr := hk.Cron
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("housekeeping_invalid_cron", "cron", hk.Cron)
		return nil, fmt.Errorf("invalid housekeeping cron expression: %s", hk.Cron)
	}

	logger.Info("housekeeping_enabled", "cron", cronExpr, "abandoned_after", hk.AbandonedAfter, "purge_after", hk.PurgeAfter)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, eff, cronExpr)
	return cancel, nil
}

// runScheduler computes the next cron tick and sleeps until it, then
// fires a sweep. gronx gives full cron syntax support.
func runScheduler(ctx context.Context, eff config.EffectiveConfigResult, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("housekeeping_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("housekeeping_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait < 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := runOnce(ctx, eff); err != nil {
				logger.Error("housekeeping_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("housekeeping_scheduler_stopping")
			return
		}
	}
}

// runOnce performs one sweep under a lock file so overlapping runs (two
// processes sharing a db path) skip instead of colliding.
func runOnce(ctx context.Context, eff config.EffectiveConfigResult) error {
	runPath := state.PathsVar.Housekeeping
	if runPath != "" {
		lock := filepath.Join(runPath, "sweep.lock")
		f, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			logger.Warn("housekeeping_lock_busy", "path", lock)
			return nil
		}
		fmt.Fprintf(f, "pid=%d time=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
		f.Close()
		defer os.Remove(lock)
	}

	hk := eff.Config.Housekeeping
	now := time.Now().UTC().UnixNano()

	abandonedAfter := 24 * time.Hour
	if hk.AbandonedAfter != "" {
		d, err := config.ParsePeriod(hk.AbandonedAfter)
		if err != nil {
			return err
		}
		abandonedAfter = d
	}

	var purgeAfter time.Duration
	if hk.PurgeAfter != "" {
		d, err := config.ParsePeriod(hk.PurgeAfter)
		if err != nil {
			return err
		}
		purgeAfter = d
	}

	batch := hk.BatchSize
	if batch <= 0 {
		batch = 100
	}
	sleep := time.Duration(hk.BatchSleepMs) * time.Millisecond

	archived, purged, err := sweep(ctx, now, abandonedAfter, purgeAfter, batch, sleep, hk.DryRun)
	logger.Info("housekeeping_run_complete", "archived", archived, "purged", purged, "dry_run", hk.DryRun)
	return err
}

// sweep walks all thread metadata once and applies both policies.
func sweep(ctx context.Context, now int64, abandonedAfter, purgeAfter time.Duration, batch int, sleep time.Duration, dryRun bool) (archived, purged int, err error) {
	keys, err := store.ListKeys("thread:")
	if err != nil {
		return 0, 0, err
	}
	inBatch := 0
	for _, k := range keys {
		if ctx.Err() != nil {
			return archived, purged, ctx.Err()
		}
		tid, ok := threadIDFromMetaKey(k)
		if !ok {
			continue
		}
		th, gerr := store.GetThread(tid)
		if gerr != nil {
			continue
		}

		if th.Archived {
			if purgeAfter > 0 && th.ArchivedTS > 0 && now-th.ArchivedTS > int64(purgeAfter) {
				if dryRun {
					logger.Info("housekeeping_would_purge", "thread", tid)
				} else if perr := store.PurgeThread(tid); perr != nil {
					logger.Error("housekeeping_purge_failed", "thread", tid, "error", perr)
					continue
				}
				purged++
				inBatch++
			}
		} else if now-th.CreatedTS > int64(abandonedAfter) {
			incomplete, cerr := isIncomplete(tid)
			if cerr != nil {
				continue
			}
			if incomplete {
				if dryRun {
					logger.Info("housekeeping_would_archive_abandoned", "thread", tid)
				} else if aerr := store.ArchiveThread(tid, "housekeeping"); aerr != nil {
					logger.Error("housekeeping_archive_failed", "thread", tid, "error", aerr)
					continue
				}
				archived++
				inBatch++
			}
		}

		if inBatch >= batch {
			inBatch = 0
			if sleep > 0 {
				select {
				case <-time.After(sleep):
				case <-ctx.Done():
					return archived, purged, ctx.Err()
				}
			}
		}
	}
	return archived, purged, nil
}

// isIncomplete reports whether a thread never finished creation: fewer
// than two current members, or no message at all.
func isIncomplete(threadID string) (bool, error) {
	counts, err := store.MemberCountByThread([]string{threadID})
	if err != nil {
		return false, err
	}
	if counts[threadID] < 2 {
		return true, nil
	}
	latest, err := store.LatestMessageByThread([]string{threadID})
	if err != nil {
		return false, err
	}
	_, hasMsg := latest[threadID]
	return !hasMsg, nil
}

func threadIDFromMetaKey(k string) (string, bool) {
	const pfx = "thread:"
	const sfx = ":meta"
	if len(k) <= len(pfx)+len(sfx) {
		return "", false
	}
	if k[:len(pfx)] != pfx || k[len(k)-len(sfx):] != sfx {
		return "", false
	}
	tid := k[len(pfx) : len(k)-len(sfx)]
	for i := 0; i < len(tid); i++ {
		if tid[i] == ':' {
			return "", false
		}
	}
	return tid, true
}
