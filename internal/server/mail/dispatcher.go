package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/logging"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("mail dispatcher closed")

// ErrQueueFull is returned by Enqueue when the queue has no room.
var ErrQueueFull = errors.New("mail queue full")

const (
	DefaultQueueSize   = 256
	DefaultSendTimeout = 10 * time.Second
)

// Dispatcher runs a Sender on a background goroutine fed by a bounded
// queue. Enqueue never blocks; delivery failures are logged and dropped.
type Dispatcher struct {
	sender  Sender
	logger  logging.Logger
	timeout time.Duration

	queue chan Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the delivery goroutine. Call Close to stop it.
func NewDispatcher(sender Sender, logger logging.Logger, queueSize int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	d := &Dispatcher{
		sender:  sender,
		logger:  logger.With("module", "mail"),
		timeout: timeout,
		queue:   make(chan Message, queueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue hands msg to the background goroutine without waiting for it.
func (d *Dispatcher) Enqueue(ctx context.Context, msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		d.logger.Warn(ctx, "mail queue full, dropping message", "kind", msg.Kind)
		return ErrQueueFull
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, msg); err != nil {
		d.logger.Error(ctx, "mail delivery failed", "kind", msg.Kind, "error", err)
		return
	}
	d.logger.Info(ctx, "mail delivered", "kind", msg.Kind)
}

// Close stops accepting messages and waits for queued ones to be delivered
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
