package biz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ConnectorLane/internal/conf"
	"ConnectorLane/internal/metrics"
	pkglog "ConnectorLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// ErrQueuePersist wraps failures to write the queue to its store.
var ErrQueuePersist = errors.New("offline queue persist failed")

const (
	DefaultQueueKey        = "autorepai:offline_queue"
	DefaultQueueMaxRetries = 3
	DefaultQueueRetryDelay = 5 * time.Second
)

// QueueStatus is the lifecycle state of a queued operation.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueuedOperation is a connector call deferred until the provider recovers.
type QueuedOperation struct {
	ID         string          `json:"id"`
	Connector  string          `json:"connector"`
	Operation  string          `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Retries    int             `json:"retries"`
	MaxRetries int             `json:"maxRetries"`
	Status     QueueStatus     `json:"status"`
	Error      string          `json:"error,omitempty"`
}

// QueueStore persists the serialized queue under a single key.
// Load returns nil data and a nil error when nothing has been stored yet.
type QueueStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// OperationExecutor replays one queued operation. It receives a copy.
type OperationExecutor func(ctx context.Context, op QueuedOperation) error

// DrainResult summarizes one Process pass.
type DrainResult struct {
	// Skipped is set when another pass was already running.
	Skipped bool `json:"skipped"`
	// Interrupted is set when the context ended before every item was visited.
	Interrupted bool          `json:"interrupted"`
	Processed   int           `json:"processed"`
	Completed   int           `json:"completed"`
	Retried     int           `json:"retried"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
}

// QueueStats counts queued operations by status.
type QueueStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// OfflineQueue holds operations that could not be delivered. The in-memory
// list is authoritative and is written through to the store after every
// mutation. Stored state is read once; until a read succeeds nothing is
// written back so a transient outage cannot overwrite the stored queue.
type OfflineQueue struct {
	store      QueueStore
	maxRetries int
	retryDelay time.Duration
	surface    bool
	collector  metrics.Collector
	logger     *pkglog.LogHelper

	mu     sync.Mutex
	items  []*QueuedOperation
	loaded bool

	processing atomic.Bool
	// sleep waits between retries; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOfflineQueue creates a queue backed by store.
func NewOfflineQueue(c *conf.Queue, store QueueStore, collector metrics.Collector, logger log.Logger) *OfflineQueue {
	q := &OfflineQueue{
		store:      store,
		maxRetries: DefaultQueueMaxRetries,
		retryDelay: DefaultQueueRetryDelay,
		collector:  collector,
		logger:     pkglog.NewLogHelper(logger),
		items:      make([]*QueuedOperation, 0),
		sleep:      sleepContext,
	}
	if c != nil {
		if c.MaxRetries > 0 {
			q.maxRetries = c.MaxRetries
		}
		if c.RetryDelay >= 0 {
			q.retryDelay = c.RetryDelay
		}
		q.surface = c.SurfacePersistErrors
	}
	if q.collector == nil {
		q.collector = metrics.NewNoopCollector()
	}
	return q
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Enqueue appends a pending operation and returns its id. payload may be a
// json.RawMessage, a []byte holding JSON, or any JSON-encodable value.
// On a persist error the operation stays queued in memory.
func (q *OfflineQueue) Enqueue(ctx context.Context, connector, operation string, payload interface{}) (string, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload for %s.%s: %w", connector, operation, err)
	}

	now := time.Now()
	op := &QueuedOperation{
		ID:         fmt.Sprintf("%s-%s-%d-%s", connector, operation, now.UnixMilli(), uuid.NewString()),
		Connector:  connector,
		Operation:  operation,
		Payload:    raw,
		EnqueuedAt: now,
		MaxRetries: q.maxRetries,
		Status:     QueueStatusPending,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.ensureLoaded(ctx)
	q.items = append(q.items, op)
	perr := q.persist(ctx)

	q.logger.Queue("operation enqueued",
		"id", op.ID,
		"connector", connector,
		"operation", operation)

	return op.ID, perr
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("invalid JSON payload")
		}
		return append(json.RawMessage(nil), p...), nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("invalid JSON payload")
		}
		return append(json.RawMessage(nil), p...), nil
	default:
		return json.Marshal(p)
	}
}

// Process replays pending operations in insertion order. Only one pass runs
// at a time; a concurrent call returns immediately with Skipped set.
// A failed item goes back to pending and the pass waits retryDelay*retries
// before the next item, or becomes failed once it reaches its retry limit.
func (q *OfflineQueue) Process(ctx context.Context, exec OperationExecutor) (DrainResult, error) {
	if !q.processing.CompareAndSwap(false, true) {
		q.logger.Debugw("msg", "queue drain already running, skipping")
		return DrainResult{Skipped: true}, nil
	}
	defer q.processing.Store(false)

	start := time.Now()
	var result DrainResult
	var persistErr error

	q.mu.Lock()
	q.ensureLoaded(ctx)
	ids := make([]string, 0, len(q.items))
	for _, item := range q.items {
		if item.Status == QueueStatusPending {
			ids = append(ids, item.ID)
		}
	}
	q.mu.Unlock()

	if len(ids) > 0 {
		q.logger.Queue("processing offline queue", "pending", len(ids))
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			result.Interrupted = true
			break
		}

		q.mu.Lock()
		item := q.find(id)
		if item == nil || item.Status != QueueStatusPending {
			q.mu.Unlock()
			continue
		}
		item.Status = QueueStatusProcessing
		snapshot := *item
		if err := q.persist(ctx); err != nil && persistErr == nil {
			persistErr = err
		}
		q.mu.Unlock()

		execErr := exec(ctx, snapshot)
		result.Processed++

		var delay time.Duration
		outcome := metrics.OutcomeCompleted

		q.mu.Lock()
		item = q.find(id)
		if item == nil {
			// cleared while the executor ran
			q.mu.Unlock()
			continue
		}
		switch {
		case execErr == nil:
			item.Status = QueueStatusCompleted
			item.Error = ""
			result.Completed++
		default:
			item.Retries++
			item.Error = execErr.Error()
			if item.Retries >= item.MaxRetries {
				item.Status = QueueStatusFailed
				outcome = metrics.OutcomeFailed
				result.Failed++
			} else {
				item.Status = QueueStatusPending
				outcome = metrics.OutcomeRetried
				delay = q.retryDelay * time.Duration(item.Retries)
				result.Retried++
			}
		}
		retries, maxRetries := item.Retries, item.MaxRetries
		if err := q.persist(ctx); err != nil && persistErr == nil {
			persistErr = err
		}
		q.mu.Unlock()

		q.collector.IncQueueProcessed(snapshot.Connector, snapshot.Operation, outcome)
		switch outcome {
		case metrics.OutcomeCompleted:
			q.logger.Queue("queued operation completed",
				"id", id, "connector", snapshot.Connector, "operation", snapshot.Operation)
		case metrics.OutcomeFailed:
			q.logger.Errorw("msg", "queued operation failed permanently",
				"id", id, "connector", snapshot.Connector, "operation", snapshot.Operation,
				"retries", retries, "error", execErr)
		default:
			q.logger.Warnw("msg", "queued operation will be retried",
				"id", id, "connector", snapshot.Connector, "operation", snapshot.Operation,
				"retry", retries, "max_retries", maxRetries, "backoff", delay, "error", execErr)
		}

		if delay > 0 {
			if err := q.sleep(ctx, delay); err != nil {
				result.Interrupted = true
				break
			}
		}
	}

	result.Duration = time.Since(start)
	q.collector.ObserveDrain(result.Duration)

	return result, persistErr
}

// GetAll returns a copy of every queued operation in insertion order.
func (q *OfflineQueue) GetAll(ctx context.Context) []QueuedOperation {
	return q.filter(ctx, func(*QueuedOperation) bool { return true })
}

// GetByConnector returns the operations queued for one provider.
func (q *OfflineQueue) GetByConnector(ctx context.Context, connector string) []QueuedOperation {
	return q.filter(ctx, func(op *QueuedOperation) bool { return op.Connector == connector })
}

// GetPendingCount returns the number of pending operations.
func (q *OfflineQueue) GetPendingCount(ctx context.Context) int {
	return q.Stats(ctx).Pending
}

// PendingCountFor returns the number of pending operations for one provider.
func (q *OfflineQueue) PendingCountFor(ctx context.Context, connector string) int {
	return len(q.filter(ctx, func(op *QueuedOperation) bool {
		return op.Connector == connector && op.Status == QueueStatusPending
	}))
}

// Stats counts operations by status.
func (q *OfflineQueue) Stats(ctx context.Context) QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ensureLoaded(ctx)
	return q.statsLocked()
}

// ClearCompleted drops completed operations and returns how many were removed.
func (q *OfflineQueue) ClearCompleted(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ensureLoaded(ctx)
	kept := q.items[:0]
	for _, item := range q.items {
		if item.Status != QueueStatusCompleted {
			kept = append(kept, item)
		}
	}
	removed := len(q.items) - len(kept)
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept

	return removed, q.persist(ctx)
}

// ClearAll drops every operation and returns how many were removed.
func (q *OfflineQueue) ClearAll(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ensureLoaded(ctx)
	removed := len(q.items)
	q.items = make([]*QueuedOperation, 0)

	return removed, q.persist(ctx)
}

// RetryFailed moves failed operations back to pending with their retry
// counter and error cleared. It returns how many were moved.
func (q *OfflineQueue) RetryFailed(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ensureLoaded(ctx)
	n := 0
	for _, item := range q.items {
		if item.Status == QueueStatusFailed {
			item.Status = QueueStatusPending
			item.Retries = 0
			item.Error = ""
			n++
		}
	}

	return n, q.persist(ctx)
}

func (q *OfflineQueue) filter(ctx context.Context, keep func(*QueuedOperation) bool) []QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ensureLoaded(ctx)
	out := make([]QueuedOperation, 0, len(q.items))
	for _, item := range q.items {
		if keep(item) {
			out = append(out, *item)
		}
	}
	return out
}

func (q *OfflineQueue) find(id string) *QueuedOperation {
	for _, item := range q.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (q *OfflineQueue) statsLocked() QueueStats {
	s := QueueStats{Total: len(q.items)}
	for _, item := range q.items {
		switch item.Status {
		case QueueStatusPending:
			s.Pending++
		case QueueStatusProcessing:
			s.Processing++
		case QueueStatusCompleted:
			s.Completed++
		case QueueStatusFailed:
			s.Failed++
		}
	}
	return s
}

// ensureLoaded reads the stored queue until one read succeeds. Stored items
// are placed ahead of anything queued in memory meanwhile. Must hold q.mu.
func (q *OfflineQueue) ensureLoaded(ctx context.Context) {
	if q.loaded {
		return
	}

	data, err := q.store.Load(ctx)
	if err != nil {
		q.logger.Warnw("msg", "failed to load offline queue (degraded mode: using in-memory queue)",
			"error", err)
		return
	}
	q.loaded = true

	if len(data) == 0 {
		return
	}

	var stored []*QueuedOperation
	if err := json.Unmarshal(data, &stored); err != nil {
		q.logger.Errorw("msg", "stored offline queue is corrupt, starting empty",
			"error", err,
			"bytes", len(data))
		return
	}

	seen := make(map[string]bool, len(stored))
	merged := make([]*QueuedOperation, 0, len(stored)+len(q.items))
	for _, item := range stored {
		if item == nil || seen[item.ID] {
			continue
		}
		// a crash mid-drain leaves items in processing; they were never confirmed
		if item.Status == QueueStatusProcessing {
			item.Status = QueueStatusPending
		}
		seen[item.ID] = true
		merged = append(merged, item)
	}
	for _, item := range q.items {
		if !seen[item.ID] {
			merged = append(merged, item)
		}
	}
	q.items = merged

	q.logger.Queue("offline queue loaded", "operations", len(stored))
}

// persist writes the whole queue. Must hold q.mu.
func (q *OfflineQueue) persist(ctx context.Context) error {
	q.updateGauges()

	if !q.loaded {
		q.collector.IncQueuePersistError()
		q.logger.Warnw("msg", "offline queue not persisted, store unavailable (degraded mode)")
		return q.surfaced(errors.New("stored queue not loaded"))
	}

	data, err := json.Marshal(q.items)
	if err != nil {
		q.collector.IncQueuePersistError()
		return q.surfaced(err)
	}

	if err := q.store.Save(ctx, data); err != nil {
		q.collector.IncQueuePersistError()
		q.logger.Warnw("msg", "failed to persist offline queue (degraded mode)",
			"operations", len(q.items),
			"error", err)
		return q.surfaced(err)
	}
	return nil
}

func (q *OfflineQueue) surfaced(err error) error {
	if !q.surface {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrQueuePersist, err)
}

func (q *OfflineQueue) updateGauges() {
	s := q.statsLocked()
	q.collector.SetQueueItems(string(QueueStatusPending), s.Pending)
	q.collector.SetQueueItems(string(QueueStatusProcessing), s.Processing)
	q.collector.SetQueueItems(string(QueueStatusCompleted), s.Completed)
	q.collector.SetQueueItems(string(QueueStatusFailed), s.Failed)
}
