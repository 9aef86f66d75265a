package store

import (
	"io/fs"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mAppends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commshub_store_message_appends_total",
		Help: "Messages appended to the store.",
	})
	mMessageReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commshub_store_message_scans_total",
		Help: "Message scan operations (history, tail, grouped latest).",
	})
	mThreadWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commshub_store_thread_writes_total",
		Help: "Thread metadata writes.",
	})
	mThreadReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commshub_store_thread_reads_total",
		Help: "Thread metadata reads.",
	})
	mArchives = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commshub_store_archive_ops_total",
		Help: "Soft-archive operations on threads and messages.",
	})
	mReadStateAdvances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commshub_readstate_advances_total",
		Help: "Read-state watermark advances that moved forward.",
	})
	mReadStateClamped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commshub_readstate_clamped_total",
		Help: "Read-state advances clamped as no-ops (already current).",
	})
)

// DiskUsageBytes reports the on-disk size of the store directory,
// best-effort. Exposed for the readiness/ops surface.
func DiskUsageBytes() uint64 {
	if dbPath == "" {
		return 0
	}
	var total uint64
	_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += uint64(fi.Size())
		}
		return nil
	})
	return total
}
