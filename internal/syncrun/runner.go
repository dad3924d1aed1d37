// Package syncrun runs sync sessions: list a folder, filter eligible files, download
// each into a sink and record the session in a log.
package syncrun

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jun/gophsync/internal/adapter"
	"github.com/jun/gophsync/internal/model"
)

// ErrChecksumMismatch is returned when downloaded content does not match the
// provider-reported SHA-256.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Summary describes one run.
type Summary struct {
	Listed    int
	Eligible  int
	Processed int
	Skipped   int // listed items that were folders or had an excluded extension
	Deferred  int // eligible files left behind by the batch cap
	Bytes     int64
	Duration  time.Duration
}

// Runner executes sync sessions. A Runner may be reused; runs must not overlap.
type Runner struct {
	tree    adapter.RemoteTree
	sink    Sink
	log     *Log
	logger  *slog.Logger
	cap     int
	retries uint64
	backoff time.Duration
}

type Option func(*Runner)

// WithBatchCap limits the files processed per run. 0 processes everything.
func WithBatchCap(n int) Option {
	return func(r *Runner) { r.cap = n }
}

// WithRetries retries transport failures of each step n times with exponential backoff from base.
func WithRetries(n uint64, base time.Duration) Option {
	return func(r *Runner) {
		r.retries = n
		if base > 0 {
			r.backoff = base
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func NewRunner(tree adapter.RemoteTree, sink Sink, log *Log, opts ...Option) *Runner {
	r := &Runner{
		tree:    tree,
		sink:    sink,
		log:     log,
		logger:  slog.Default(),
		backoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sink == nil {
		r.sink = DiscardSink{}
	}
	if r.log == nil {
		r.log = NewLog(nil, nil)
	}
	return r
}

// Log returns the runner's session log.
func (r *Runner) Log() *Log {
	return r.log
}

// Run syncs the files of folderID whose extension is in extensions. On failure the
// run stops, an error entry is logged and entries already written remain.
func (r *Runner) Run(ctx context.Context, folderID string, extensions []string) (Summary, error) {
	start := time.Now()
	var sum Summary
	r.log.Append(model.SyncLogEntry{Kind: model.LogInfo, Message: "Sync started", Details: "Folder " + folderID})
	r.logger.Info("sync started", "folder", folderID)

	var items []model.RemoteItem
	err := r.retry(ctx, func(ctx context.Context) error {
		var err error
		items, err = r.tree.ListChildren(ctx, folderID)
		return err
	})
	if err != nil {
		return sum, r.fail(&sum, start, fmt.Errorf("failed to list folder: %w", err))
	}

	sum.Listed = len(items)
	eligible := Eligible(items, extensions)
	sum.Eligible = len(eligible)
	sum.Skipped = sum.Listed - sum.Eligible

	batch := eligible
	if r.cap > 0 && len(batch) > r.cap {
		batch = batch[:r.cap]
		sum.Deferred = len(eligible) - r.cap
	}

	for _, item := range batch {
		r.log.Append(model.SyncLogEntry{
			Kind:    model.LogInfo,
			Message: "Processing " + item.Name,
			Details: FormatSize(item.Size),
			ItemID:  item.ID,
		})

		var n int64
		err := r.retry(ctx, func(ctx context.Context) error {
			var err error
			n, err = r.transfer(ctx, item)
			return err
		})
		if err != nil {
			return sum, r.fail(&sum, start, fmt.Errorf("%s: %w", item.Name, err))
		}
		sum.Processed++
		sum.Bytes += n
		r.logger.Debug("file ingested", "item", item.ID, "bytes", n)
	}

	if sum.Deferred > 0 {
		r.log.Append(model.SyncLogEntry{
			Kind:    model.LogWarning,
			Message: "Batch limit reached",
			Details: fmt.Sprintf("%d of %d eligible files deferred to the next run", sum.Deferred, sum.Eligible),
		})
	}

	sum.Duration = time.Since(start)
	processed, skipped := sum.Processed, sum.Skipped
	r.log.Append(model.SyncLogEntry{
		Kind:           model.LogSuccess,
		Message:        "Sync completed",
		Details:        fmt.Sprintf("Processed %d files, skipped %d", processed, skipped),
		FilesProcessed: &processed,
		FilesSkipped:   &skipped,
	})
	r.logger.Info("sync completed", "folder", folderID, "processed", processed, "skipped", skipped, "deferred", sum.Deferred)
	return sum, nil
}

func (r *Runner) fail(sum *Summary, start time.Time, err error) error {
	sum.Duration = time.Since(start)
	processed, skipped := sum.Processed, sum.Skipped
	r.log.Append(model.SyncLogEntry{
		Kind:           model.LogError,
		Message:        "Sync failed",
		Details:        err.Error(),
		FilesProcessed: &processed,
		FilesSkipped:   &skipped,
		Errors:         []string{err.Error()},
	})
	r.logger.Error("sync failed", "processed", processed, "error", err)
	return err
}

func (r *Runner) transfer(ctx context.Context, item model.RemoteItem) (int64, error) {
	rc, err := r.tree.Download(ctx, item.ID)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	vr := &verifyingReader{r: rc, h: sha256.New(), want: strings.ToLower(item.SHA256)}
	if err := r.sink.Ingest(ctx, item, vr); err != nil {
		return vr.n, err
	}
	if !vr.done {
		// the sink stopped early; drain so the checksum still covers the whole file
		if _, err := io.Copy(io.Discard, vr); err != nil {
			return vr.n, err
		}
	}
	return vr.n, nil
}

func (r *Runner) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(r.retries, retry.NewExponential(r.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if adapter.IsRetryable(err) {
			if r.retries > 0 {
				r.logger.Warn("transport error, retrying", "error", err)
			}
			return retry.RetryableError(err)
		}
		return err
	})
}

// verifyingReader hashes what it reads and turns EOF into ErrChecksumMismatch when
// the digest differs from want.
type verifyingReader struct {
	r    io.Reader
	h    hash.Hash
	want string
	n    int64
	done bool
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	v.h.Write(p[:n])
	v.n += int64(n)
	if errors.Is(err, io.EOF) {
		v.done = true
		if v.want != "" {
			if got := hex.EncodeToString(v.h.Sum(nil)); got != v.want {
				return n, fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, v.want)
			}
		}
	}
	return n, err
}

// Eligible returns the files of items whose lower-cased extension is in extensions,
// preserving order.
func Eligible(items []model.RemoteItem, extensions []string) []model.RemoteItem {
	allowed := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		allowed[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	var out []model.RemoteItem
	for _, it := range items {
		if it.IsFolder() || it.Deleted {
			continue
		}
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(it.Name), "."))
		if ext != "" && allowed[ext] {
			out = append(out, it)
		}
	}
	return out
}

// FormatSize renders a byte count for humans: 0 B, 512 B, 1.5 KB, 2.0 MB.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTP"[exp])
}
