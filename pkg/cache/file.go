package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	valueExt = ".cache"
	metaExt  = ".meta"
)

var errFileTierClosed = errors.New("file tier closed")

// WriteHandle tracks one durable write moving through the file tier's
// worker pool. The handle completes once both the value file and its
// sidecar have been atomically renamed into place, or once the write has
// failed.
type WriteHandle struct {
	done chan struct{}
	err  error
}

func newWriteHandle() *WriteHandle {
	return &WriteHandle{done: make(chan struct{})}
}

// Done returns a channel closed when the write has completed.
func (h *WriteHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the write outcome. It returns nil until Done is closed.
func (h *WriteHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the write completes or ctx is done, returning the
// write error or the context error.
func (h *WriteHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *WriteHandle) complete(err error) {
	h.err = err
	close(h.done)
}

// fileMeta is the JSON sidecar stored next to each value file.
type fileMeta struct {
	Key        string    `json:"key"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
	TTLSeconds int64     `json:"ttl_seconds"`
	SizeBytes  int64     `json:"size_bytes"`
	Compressed bool      `json:"compressed"`
}

func (m *fileMeta) expired(now time.Time) bool {
	if m.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(m.CreatedAt) > time.Duration(m.TTLSeconds)*time.Second
}

// writeJob is one unit of work for the pool. Touch jobs rewrite only the
// sidecar's accessed_at.
type writeJob struct {
	key    string
	data   []byte
	meta   fileMeta
	handle *WriteHandle
	touch  bool
}

// fileTier is the durable L3 cache. Reads are synchronous; writes flow
// through a fixed pool of workers fed by a bounded queue and report
// completion through WriteHandle futures. Payloads at or above the
// compression threshold are zstd-encoded, kept compressed only when
// smaller. Every I/O failure degrades to a miss or no-op.
type fileTier struct {
	dir         string
	minCompress int
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	logger      *zap.Logger

	jobs     chan writeJob
	workerWg sync.WaitGroup

	janitorStop chan struct{}
	janitorWg   sync.WaitGroup

	// mu serializes enqueues (read side) against close (write side) so no
	// job is ever sent on a closed queue.
	mu     sync.RWMutex
	closed bool

	// onEvict reports janitor removals, when set.
	onEvict func(n int)

	now func() time.Time
}

func newFileTier(config *L3Config, logger *zap.Logger, onEvict func(n int)) (*fileTier, error) {
	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	level := zstd.EncoderLevelFromZstd(config.CompressionLevel)
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	t := &fileTier{
		dir:         config.Directory,
		minCompress: config.MinCompressBytes,
		encoder:     encoder,
		decoder:     decoder,
		logger:      logger,
		jobs:        make(chan writeJob, config.QueueSize),
		onEvict:     onEvict,
		now:         time.Now,
	}

	for i := 0; i < config.WorkerPoolSize; i++ {
		t.workerWg.Add(1)
		go t.worker()
	}

	if config.CleanupInterval > 0 {
		t.janitorStop = make(chan struct{})
		t.janitorWg.Add(1)
		go t.janitor(config.CleanupInterval)
	}

	return t, nil
}

// get reads the sidecar, then the value file. Expired or damaged pairs are
// removed and report absent. Hits queue an accessed_at sidecar touch that
// never blocks.
func (t *fileTier) get(ctx context.Context, key string) ([]byte, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	rawMeta, err := os.ReadFile(t.metaPath(key))
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warn("sidecar unreadable", zap.String("key", key), zap.Error(err))
			t.removePair(key)
		}
		return nil, false
	}

	var meta fileMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		t.logger.Warn("sidecar corrupt", zap.String("key", key), zap.Error(err))
		t.removePair(key)
		return nil, false
	}

	if meta.expired(t.now()) {
		t.removePair(key)
		return nil, false
	}

	data, err := os.ReadFile(t.valuePath(key))
	if err != nil {
		t.logger.Warn("value unreadable", zap.String("key", key), zap.Error(err))
		t.removePair(key)
		return nil, false
	}

	if meta.Compressed {
		data, err = t.decoder.DecodeAll(data, nil)
		if err != nil {
			t.logger.Warn("decompression failed", zap.String("key", key), zap.Error(err))
			t.removePair(key)
			return nil, false
		}
	}

	t.queueTouch(key, meta)
	return data, true
}

// set enqueues a durable write and returns its handle immediately. A full
// queue applies backpressure bounded by ctx.
func (t *fileTier) set(ctx context.Context, key string, data []byte, ttl time.Duration) *WriteHandle {
	handle := newWriteHandle()

	payload := data
	compressed := false
	if t.minCompress > 0 && len(data) >= t.minCompress {
		if c := t.encoder.EncodeAll(data, make([]byte, 0, len(data))); len(c) < len(data) {
			payload = c
			compressed = true
		}
	}

	now := t.now()
	job := writeJob{
		key:  key,
		data: payload,
		meta: fileMeta{
			Key:        key,
			CreatedAt:  now,
			AccessedAt: now,
			TTLSeconds: int64(ttl / time.Second),
			SizeBytes:  int64(len(data)),
			Compressed: compressed,
		},
		handle: handle,
	}

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		handle.complete(errFileTierClosed)
		return handle
	}
	select {
	case t.jobs <- job:
		t.mu.RUnlock()
	case <-ctx.Done():
		t.mu.RUnlock()
		handle.complete(ctx.Err())
	}
	return handle
}

// delete removes the value file and its sidecar, reporting whether the
// value existed.
func (t *fileTier) delete(ctx context.Context, key string) bool {
	if ctx.Err() != nil {
		return false
	}

	existed := false
	if err := os.Remove(t.valuePath(key)); err == nil {
		existed = true
	} else if !os.IsNotExist(err) {
		t.logger.Warn("delete failed", zap.String("key", key), zap.Error(err))
	}
	if err := os.Remove(t.metaPath(key)); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("sidecar delete failed", zap.String("key", key), zap.Error(err))
	}
	return existed
}

// clear sweeps every value file and sidecar in the directory.
func (t *fileTier) clear(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		t.logger.Warn("clear failed", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, valueExt) || strings.HasSuffix(name, metaExt) {
			_ = os.Remove(filepath.Join(t.dir, name))
		}
	}
}

// probe verifies the cache directory is still writable.
func (t *fileTier) probe() error {
	f, err := os.CreateTemp(t.dir, ".probe-")
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Remove(name)
}

// entryCount reports how many value files currently exist.
func (t *fileTier) entryCount() int {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), valueExt) {
			count++
		}
	}
	return count
}

// close stops the janitor, closes the queue, and drains the workers.
// Pending handles complete before close returns.
func (t *fileTier) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if t.janitorStop != nil {
		close(t.janitorStop)
		t.janitorWg.Wait()
	}

	close(t.jobs)
	t.workerWg.Wait()

	_ = t.encoder.Close()
	t.decoder.Close()
}

func (t *fileTier) worker() {
	defer t.workerWg.Done()

	for job := range t.jobs {
		if job.touch {
			if err := t.writeSidecar(job.key, job.meta); err != nil {
				t.logger.Debug("sidecar touch failed", zap.String("key", job.key), zap.Error(err))
			}
			continue
		}

		err := t.persist(job)
		if err != nil {
			t.logger.Warn("write failed", zap.String("key", job.key), zap.Error(err))
		}
		job.handle.complete(err)
	}
}

// persist writes the value file first, then the sidecar, each atomically.
func (t *fileTier) persist(job writeJob) error {
	if err := t.writeAtomic(t.valuePath(job.key), job.data); err != nil {
		return err
	}
	return t.writeSidecar(job.key, job.meta)
}

func (t *fileTier) writeSidecar(key string, meta fileMeta) error {
	raw, err := json.Marshal(&meta)
	if err != nil {
		return err
	}
	return t.writeAtomic(t.metaPath(key), raw)
}

// writeAtomic writes through a uniquely named temp file and renames it
// into place. Unique names keep concurrent workers off each other's
// temp files.
func (t *fileTier) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(t.dir, filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// queueTouch enqueues an accessed_at sidecar rewrite. Drops the touch when
// the queue is full rather than blocking a read.
func (t *fileTier) queueTouch(key string, meta fileMeta) {
	meta.AccessedAt = t.now()
	job := writeJob{key: key, meta: meta, touch: true}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.jobs <- job:
	default:
	}
}

func (t *fileTier) janitor(interval time.Duration) {
	defer t.janitorWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.janitorStop:
			return
		case <-ticker.C:
			t.sweepExpired()
		}
	}
}

// sweepExpired removes every pair whose sidecar says it has expired.
func (t *fileTier) sweepExpired() {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		t.logger.Warn("sweep failed", zap.Error(err))
		return
	}

	now := t.now()
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, metaExt) {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(t.dir, name))
		if err != nil {
			continue
		}
		var meta fileMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		if !meta.expired(now) {
			continue
		}

		base := strings.TrimSuffix(name, metaExt)
		_ = os.Remove(filepath.Join(t.dir, base+valueExt))
		_ = os.Remove(filepath.Join(t.dir, base+metaExt))
		removed++
	}

	if removed > 0 {
		t.logger.Debug("removed expired entries", zap.Int("count", removed))
		if t.onEvict != nil {
			t.onEvict(removed)
		}
	}
}

func (t *fileTier) removePair(key string) {
	_ = os.Remove(t.valuePath(key))
	_ = os.Remove(t.metaPath(key))
}

func (t *fileTier) valuePath(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])[:16]
	return filepath.Join(t.dir, name+valueExt)
}

func (t *fileTier) metaPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])[:16]
	return filepath.Join(t.dir, name+metaExt)
}
