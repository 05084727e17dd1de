package queue

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"affordmap/server/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// RefreshQueue is an in-memory queue of metric refresh batches. Each
// subscribed handler becomes one worker sharing the channel, so every
// pushed batch is handed to exactly one handler.
type RefreshQueue struct {
	items    chan *models.RefreshBatch
	done     chan struct{}
	maxSize  int
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
	logger   *logrus.Logger
	handlers []func(*models.RefreshBatch) error
}

// NewRefreshQueue creates a new refresh queue with the specified buffer size
func NewRefreshQueue(bufferSize int, logger *logrus.Logger) *RefreshQueue {
	return &RefreshQueue{
		items:    make(chan *models.RefreshBatch, bufferSize),
		done:     make(chan struct{}),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]func(*models.RefreshBatch) error, 0),
	}
}

// Push adds a refresh batch to the queue. The read lock is held across
// the send so the channel cannot be closed underneath it.
func (q *RefreshQueue) Push(batch *models.RefreshBatch) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	// Non-blocking send to prevent deadlocks
	select {
	case q.items <- batch:
		q.logger.WithField("batch_size", batch.Size()).Debug("Pushed batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe adds a handler that will consume batches once the queue
// starts. Must be called before Start.
func (q *RefreshQueue) Subscribe(handler func(*models.RefreshBatch) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start launches one worker per subscribed handler. Workers share the
// buffered channel, so batches pushed before Start are picked up too.
func (q *RefreshQueue) Start() {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.process(handler)
	}
}

func (q *RefreshQueue) process(handler func(*models.RefreshBatch) error) {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case batch, ok := <-q.items:
			if !ok || batch == nil {
				return
			}
			if err := handler(batch); err != nil {
				q.logger.WithError(err).Error("Handler failed to process batch")
			}
		}
	}
}

// Close stops the queue, prevents new items from being added, and waits
// for the workers to exit.
func (q *RefreshQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	close(q.items)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// Len returns the current number of batches in the queue
func (q *RefreshQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *RefreshQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
