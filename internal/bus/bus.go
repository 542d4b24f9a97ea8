// Package bus provides an in-process partitioned message bus.
//
// Messages published with the same key always land on the same partition and
// are handled sequentially in publish order; partitions are processed
// concurrently with respect to each other. Delivery is at-most-once: handler
// errors are logged and the message is dropped, with no retry or redelivery.
package bus

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"eventmerge/internal/observability"
)

// Sentinel errors for bus operations.
var (
	// ErrClosed indicates the bus has been closed.
	ErrClosed = errors.New("bus closed")

	// ErrNotStarted indicates Publish was called before Start.
	ErrNotStarted = errors.New("bus not started")

	// ErrAlreadyStarted indicates Register or Start was called after Start.
	ErrAlreadyStarted = errors.New("bus already started")
)

// Message is one unit of work routed through the bus.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Timestamp time.Time
}

// Handler processes messages for a topic.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Config configures bus behavior.
type Config struct {
	// Partitions is the number of ordered processing lanes.
	// Default: 3
	Partitions int

	// BufferSize is the channel buffer size per partition.
	// Default: 256
	BufferSize int
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	Partitions: 3,
	BufferSize: 256,
}

// Bus routes messages to topic handlers through fixed partitions.
// Register all handlers before Start; the registry is immutable afterwards.
type Bus struct {
	config  Config
	logger  *slog.Logger
	metrics observability.Recorder

	mu       sync.Mutex
	handlers map[string]Handler

	partitions []chan Message
	done       chan struct{}
	wg         sync.WaitGroup

	started atomic.Bool
	closed  atomic.Bool
}

// New creates a bus. It does not begin processing until Start is called.
func New(config Config, logger *slog.Logger, metrics observability.Recorder) *Bus {
	if config.Partitions <= 0 {
		config.Partitions = DefaultConfig.Partitions
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Bus{
		config:   config,
		logger:   logger,
		metrics:  metrics,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

// Register maps a topic to its handler. One handler per topic; registering
// a topic twice replaces the previous handler. Returns ErrAlreadyStarted if
// the bus is already running.
func (b *Bus) Register(topic string, handler Handler) error {
	if b.started.Load() {
		return ErrAlreadyStarted
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

// Start launches one worker goroutine per partition.
func (b *Bus) Start() error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	b.partitions = make([]chan Message, b.config.Partitions)
	for i := range b.partitions {
		b.partitions[i] = make(chan Message, b.config.BufferSize)
		b.wg.Add(1)
		go b.worker(i, b.partitions[i])
	}

	b.logger.Info("bus started",
		slog.Int("partitions", b.config.Partitions),
		slog.Int("topics", len(b.handlers)))
	return nil
}

// Publish routes a message to the partition derived from its key. It blocks
// while the partition buffer is full, honoring ctx cancellation.
func (b *Bus) Publish(ctx context.Context, topic, key string, value []byte) error {
	if b.closed.Load() {
		err := ErrClosed
		b.metrics.RecordPublish(ctx, topic, err)
		return err
	}
	if !b.started.Load() {
		err := ErrNotStarted
		b.metrics.RecordPublish(ctx, topic, err)
		return err
	}

	msg := Message{
		Topic:     topic,
		Key:       key,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}

	select {
	case b.partitions[b.partitionFor(key)] <- msg:
		b.metrics.RecordPublish(ctx, topic, nil)
		return nil
	case <-ctx.Done():
		b.metrics.RecordPublish(ctx, topic, ctx.Err())
		return ctx.Err()
	case <-b.done:
		b.metrics.RecordPublish(ctx, topic, ErrClosed)
		return ErrClosed
	}
}

// Close stops all partition workers. Messages still buffered are dropped,
// never redelivered.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.done)
	b.wg.Wait()
	return nil
}

// partitionFor reduces a stable hash of the key modulo the partition count,
// so all messages for one key share an ordered lane.
func (b *Bus) partitionFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(b.config.Partitions))
}

// worker drains one partition sequentially.
func (b *Bus) worker(partition int, messages <-chan Message) {
	defer b.wg.Done()

	for {
		select {
		case msg := <-messages:
			b.dispatch(partition, msg)
		case <-b.done:
			return
		}
	}
}

// dispatch looks up the topic handler and invokes it. Messages for
// unregistered topics are dropped silently; handler errors are logged and
// the worker moves on.
func (b *Bus) dispatch(partition int, msg Message) {
	handler, ok := b.handlers[msg.Topic]
	if !ok {
		b.logger.Debug("no handler for topic, dropping message",
			slog.String("topic", msg.Topic))
		return
	}

	ctx := context.Background()
	done := observability.TimedOperation()
	err := handler.Handle(ctx, msg)
	b.metrics.RecordConsume(ctx, msg.Topic, done(), err)

	if err != nil {
		b.logger.Error("handler failed, message dropped",
			slog.String("topic", msg.Topic),
			slog.String("key", msg.Key),
			slog.Int("partition", partition),
			slog.String("error", err.Error()))
	}
}
