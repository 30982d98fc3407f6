// Package broker owns the single AMQP 0.9.1 connection/channel that
// carries task deliveries in and status messages out: dial, Qos, durable
// task and result queues, manual ack, with a dedicated completion
// hand-off from the worker pool.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/docworker/ingestworker/internal/task"
	"github.com/docworker/ingestworker/internal/workerpool"
)

// Config names the broker connection and queue settings: one long-lived
// connection, durable task and result queues, prefetch equal to worker
// count, 600s heartbeat by default.
type Config struct {
	URL         string
	TaskQueue   string
	ResultQueue string
	Heartbeat   time.Duration
	Prefetch    int
}

// pool is the subset of *workerpool.Pool the consumer drives, narrowed to
// an interface so tests can supply a stand-in.
type pool interface {
	Submit(ctx context.Context, job workerpool.Job) bool
	Stop(grace time.Duration)
}

// channel is the subset of *amqp.Channel the consumer uses, narrowed to an
// interface so tests can substitute a fake rather than dial a real broker.
// *amqp.Channel satisfies this interface as-is.
type channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	Close() error
}

// Consumer owns the one AMQP connection and channel this process uses,
// analogous to vectorstore.Store owning its one Milvus connection. Every
// field below the mutex is touched only from the goroutine running Start —
// the broker channel is not safe for concurrent use.
type Consumer struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel

	pool        pool
	completions chan workerpool.Completion
	pending     map[uint64]task.Task

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Consumer. Callers wire Completions() into the worker pool
// they construct, then call AttachPool before Start.
func New(cfg Config, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 600 * time.Second
	}
	return &Consumer{
		cfg:         cfg,
		logger:      logger,
		completions: make(chan workerpool.Completion, cfg.Prefetch),
		pending:     make(map[uint64]task.Task),
		done:        make(chan struct{}),
	}
}

// Completions returns the channel the worker pool should report into.
func (c *Consumer) Completions() chan workerpool.Completion { return c.completions }

// AttachPool binds the worker pool the consumer dispatches deliveries to.
func (c *Consumer) AttachPool(p pool) { c.pool = p }

// reconnect dials and declares both queues if not already connected:
// dial, open channel, set Qos, declare both durable queues.
func (c *Consumer) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{Heartbeat: c.cfg.Heartbeat})
	if err != nil {
		return fmt.Errorf("broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker: channel: %w", err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("broker: qos: %w", err)
	}
	for _, q := range []string{c.cfg.TaskQueue, c.cfg.ResultQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("broker: declare queue %s: %w", q, err)
		}
	}

	c.conn = conn
	c.ch = ch
	return nil
}

// Start connects and drives delivery/completion handling until ctx is
// canceled or Stop is called, reconnecting once on a dropped channel
// before giving up. There is no backoff loop; a supervisor restarts the
// process on persistent broker unavailability.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.reconnect(ctx); err != nil {
		return err
	}
	for {
		err := c.consumeOnce(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		default:
		}
		c.logger.Warn("broker consumer lost connection, reconnecting", "error", err)
		c.mu.Lock()
		c.conn = nil
		c.ch = nil
		c.mu.Unlock()
		// Delivery tags from the dead connection are meaningless on the
		// new channel; their tasks will be redelivered.
		for tag := range c.pending {
			delete(c.pending, tag)
		}
		if err := c.reconnect(ctx); err != nil {
			return fmt.Errorf("broker: reconnect failed: %w", err)
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("broker: channel is nil")
	}

	deliveries, err := ch.Consume(c.cfg.TaskQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("broker: delivery channel closed")
			}
			c.handleDelivery(ctx, d)
		case comp := <-c.completions:
			c.handleCompletion(ctx, comp)
		}
	}
}

// handleDelivery decodes the envelope, nacking without requeue on
// malformed bodies (poison message), otherwise publishes PROCESSING and
// hands the task to the worker pool, tracking its delivery tag in
// pending until the matching completion arrives.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var t task.Task
	if err := json.Unmarshal(d.Body, &t); err != nil {
		c.logger.Error("malformed task envelope, dropping", "delivery_tag", d.DeliveryTag, "error", err)
		d.Nack(false, false)
		return
	}

	t = t.EnterProcessing(time.Now())
	c.publishStatus(ctx, t.ToStatusMessage())
	c.pending[d.DeliveryTag] = t

	if !c.pool.Submit(ctx, workerpool.Job{Task: t, DeliveryTag: d.DeliveryTag}) {
		// Pool is draining/stopped: abandon the delivery unacked so the
		// broker redelivers it to another consumer.
		delete(c.pending, d.DeliveryTag)
	}
}

// handleCompletion publishes DONE/FAILED and acks/nacks the delivery.
// A completion for a delivery tag not in pending (e.g. surviving from a
// connection the broker has since redelivered) is silently dropped.
func (c *Consumer) handleCompletion(ctx context.Context, comp workerpool.Completion) {
	t, ok := c.pending[comp.DeliveryTag]
	if !ok {
		return
	}
	delete(c.pending, comp.DeliveryTag)

	now := time.Now()
	if comp.Err != nil {
		t = t.EnterFailed(now)
		c.publishStatus(ctx, t.ToStatusMessage())
		c.nack(comp.DeliveryTag)
		return
	}
	t = t.EnterDone(now)
	c.publishStatus(ctx, t.ToStatusMessage())
	c.ack(comp.DeliveryTag)
}

func (c *Consumer) ack(tag uint64) {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.Ack(tag, false); err != nil {
		c.logger.Warn("ack failed", "delivery_tag", tag, "error", err)
	}
}

func (c *Consumer) nack(tag uint64) {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.Nack(tag, false, false); err != nil {
		c.logger.Warn("nack failed", "delivery_tag", tag, "error", err)
	}
}

// publishStatus publishes msg to the result queue with persistent
// delivery, lazily reconnecting once if the channel was observed closed.
// Publication is best-effort; no confirmation is awaited and loss is
// tolerated.
func (c *Consumer) publishStatus(ctx context.Context, msg task.StatusMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("marshal status message failed", "error", err)
		return
	}

	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		if err := c.reconnect(ctx); err != nil {
			c.logger.Error("publish status: reconnect failed", "error", err)
			return
		}
		c.mu.Lock()
		ch = c.ch
		c.mu.Unlock()
	}

	pub := amqp.Publishing{ContentType: "application/json", DeliveryMode: amqp.Persistent, Body: body}
	err = ch.PublishWithContext(ctx, "", c.cfg.ResultQueue, false, false, pub)
	if err != nil && errors.Is(err, amqp.ErrClosed) {
		if rerr := c.reconnect(ctx); rerr == nil {
			c.mu.Lock()
			ch = c.ch
			c.mu.Unlock()
			err = ch.PublishWithContext(ctx, "", c.cfg.ResultQueue, false, false, pub)
		}
	}
	if err != nil {
		c.logger.Error("publish status failed", "error", err, "status", msg.Status)
	}
}

// Stop signals the consume loop to exit, drains the worker pool within
// grace, then closes the channel and connection.
func (c *Consumer) Stop(grace time.Duration) {
	c.stopOnce.Do(func() {
		close(c.done)
		if c.pool != nil {
			c.pool.Stop(grace)
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ch != nil {
			c.ch.Close()
		}
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
