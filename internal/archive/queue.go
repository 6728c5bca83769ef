package archive

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/obslog"
)

const (
	pendingKey = "archive:pending"
	deadKey    = "archive:dead"
)

// item wraps a record with delivery bookkeeping while it sits in Redis.
type item struct {
	ID         string    `json:"id"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Record     Record    `json:"record"`
}

// QueueConfig tunes the delivery worker. Zero values get sane defaults.
type QueueConfig struct {
	MaxAttempts  int
	PollInterval time.Duration
	RetryBackoff time.Duration
}

// Queue is an at-least-once delivery queue for archive records, backed by a
// Redis list. Submit never blocks on the record service; a worker drains the
// pending list, retries failures with backoff, and parks records that
// exhaust their attempts on a dead-letter list for manual replay.
type Queue struct {
	rdb    *redis.Client
	client *Client
	cfg    QueueConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewQueue(rdb *redis.Client, client *Client, cfg QueueConfig) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Queue{
		rdb:    rdb,
		client: client,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Submit enqueues a record for delivery. Enqueue failures are logged and the
// record falls back to a direct detached delivery attempt so a Redis outage
// degrades to the fire-and-forget behavior instead of losing the game.
func (q *Queue) Submit(rec Record) {
	go func() {
		it := item{ID: uuid.NewString(), EnqueuedAt: time.Now(), Record: rec}
		raw, err := json.Marshal(it)
		if err != nil {
			obslog.L().Error("archive_enqueue_error", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.rdb.LPush(ctx, pendingKey, raw).Err(); err != nil {
			obslog.L().Error("archive_enqueue_error", zap.String("item_id", it.ID), zap.Error(err))
			NewDirectSubmitter(q.client).Submit(rec)
			return
		}
		obslog.L().Debug("archive_enqueue", zap.String("item_id", it.ID))
	}()
}

// Start launches the delivery worker.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.run()
}

// Stop halts the worker; pending items stay in Redis for the next run.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		raw, err := q.rdb.RPop(ctx, pendingKey).Bytes()
		cancel()
		if err == redis.Nil {
			if !q.sleep(q.cfg.PollInterval) {
				return
			}
			continue
		}
		if err != nil {
			obslog.L().Warn("archive_queue_error", zap.Error(err))
			if !q.sleep(q.cfg.PollInterval) {
				return
			}
			continue
		}

		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			obslog.L().Error("archive_item_corrupt", zap.Error(err))
			continue
		}
		q.deliver(it)
	}
}

func (q *Queue) deliver(it item) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := q.client.Post(ctx, it.Record)
	cancel()
	if err == nil {
		obslog.L().Info("archive_submit", zap.String("item_id", it.ID), zap.Int("attempt", it.Attempts+1))
		return
	}

	it.Attempts++
	obslog.L().Warn("archive_submit_retry",
		zap.String("item_id", it.ID),
		zap.Int("attempt", it.Attempts),
		zap.Error(err),
	)

	raw, merr := json.Marshal(it)
	if merr != nil {
		obslog.L().Error("archive_item_corrupt", zap.String("item_id", it.ID), zap.Error(merr))
		return
	}

	key := pendingKey
	if it.Attempts >= q.cfg.MaxAttempts {
		key = deadKey
		obslog.L().Error("archive_submit_dead",
			zap.String("item_id", it.ID),
			zap.Int("attempts", it.Attempts),
		)
	} else if !q.sleep(q.cfg.RetryBackoff * time.Duration(it.Attempts)) {
		// still requeue on shutdown so the record survives
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.rdb.LPush(ctx, key, raw).Err(); err != nil {
		obslog.L().Error("archive_requeue_error", zap.String("item_id", it.ID), zap.Error(err))
	}
}

// sleep waits for d unless the queue is stopping.
func (q *Queue) sleep(d time.Duration) bool {
	select {
	case <-q.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}
