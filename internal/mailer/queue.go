package mailer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sethvargo/go-retry"
)

var (
	// ErrQueueFull means the backlog is at capacity; the caller decides
	// whether that is fatal for its request.
	ErrQueueFull = errors.New("mailer: queue is full")
	// ErrQueueClosed is returned after Stop.
	ErrQueueClosed = errors.New("mailer: queue is stopped")
)

// QueueConfig sizes the worker pool.
type QueueConfig struct {
	Workers     int
	Capacity    int
	MaxRetries  uint64
	BaseBackoff time.Duration
	SendTimeout time.Duration
}

// Queue is a bounded, fire-and-forget delivery queue.
type Queue struct {
	sender Sender
	config QueueConfig
	logger *slog.Logger

	jobs      chan Message
	mu        sync.RWMutex // guards closed against a concurrent Enqueue
	closed    bool
	wg        sync.WaitGroup
	startOnce sync.Once
}

// NewQueue creates a stopped queue; call Start.
func NewQueue(sender Sender, cfg QueueConfig, logger *slog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 64
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Queue{
		sender: sender,
		config: cfg,
		logger: logger,
		jobs:   make(chan Message, cfg.Capacity),
	}
}

// Start launches the workers.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.logger.Info("starting mail workers", slog.Int("workers", q.config.Workers))
		for range q.config.Workers {
			q.wg.Add(1)
			go q.worker()
		}
	})
}

// Enqueue assigns the message an ID and queues it without blocking.
func (q *Queue) Enqueue(msg Message) (string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	msg.ID = xid.New().String()
	select {
	case q.jobs <- msg:
		return msg.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// Stop refuses new messages and waits for the backlog to drain, or for ctx
// to expire.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for msg := range q.jobs {
		q.deliver(msg)
	}
}

// deliver sends one message, retrying every failure with exponential
// backoff until MaxRetries is spent.
func (q *Queue) deliver(msg Message) {
	backoff := retry.WithMaxRetries(q.config.MaxRetries, retry.NewExponential(q.config.BaseBackoff))

	attempts := 0
	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		attempts++
		ctx, cancel := context.WithTimeout(ctx, q.config.SendTimeout)
		defer cancel()

		if err := q.sender.Send(ctx, msg); err != nil {
			q.logger.Warn("mail delivery failed", "messageID", msg.ID, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		q.logger.Error("mail dropped after retries", "messageID", msg.ID, "to", msg.To, "attempts", attempts, "error", err)
		return
	}
	q.logger.Info("mail delivered", "messageID", msg.ID, "to", msg.To, "attempts", attempts)
}
