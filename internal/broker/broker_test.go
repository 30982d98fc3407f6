package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/docworker/ingestworker/internal/task"
	"github.com/docworker/ingestworker/internal/workerpool"
)

// fakeChannel stands in for *amqp.Channel, recording Ack/Nack/Publish
// calls instead of talking to a broker.
type fakeChannel struct {
	acked      []uint64
	nacked     []uint64
	requeued   []bool
	published  []amqp.Publishing
	publishErr error
}

func (f *fakeChannel) Qos(int, int, bool) error { return nil }
func (f *fakeChannel) QueueDeclare(string, bool, bool, bool, bool, amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{}, nil
}
func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return nil, nil
}
func (f *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	f.published = append(f.published, msg)
	return f.publishErr
}
func (f *fakeChannel) Ack(tag uint64, multiple bool) error {
	f.acked = append(f.acked, tag)
	return nil
}
func (f *fakeChannel) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = append(f.nacked, tag)
	f.requeued = append(f.requeued, requeue)
	return nil
}
func (f *fakeChannel) Close() error { return nil }

// fakeAcker stands in for the per-delivery Acknowledger amqp.Delivery
// carries, used only by the malformed-envelope path which nacks the
// delivery directly rather than through the consumer's channel.
type fakeAcker struct {
	acked    []uint64
	nacked   []uint64
	requeued []bool
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error {
	f.acked = append(f.acked, tag)
	return nil
}
func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = append(f.nacked, tag)
	f.requeued = append(f.requeued, requeue)
	return nil
}
func (f *fakeAcker) Reject(tag uint64, requeue bool) error { return nil }

type fakePool struct {
	submitted []workerpool.Job
	accept    bool
}

func (p *fakePool) Submit(_ context.Context, job workerpool.Job) bool {
	p.submitted = append(p.submitted, job)
	return p.accept
}
func (p *fakePool) Stop(time.Duration) {}

func newTestConsumer(ch *fakeChannel) *Consumer {
	c := New(Config{TaskQueue: "taskQueue", ResultQueue: "respQueue", Prefetch: 2}, nil)
	c.ch = ch
	c.conn = nil // reconnect would fail fast (no URL); tests keep ch set directly
	return c
}

func TestHandleDelivery_MalformedEnvelopeNacksWithoutRequeue(t *testing.T) {
	c := newTestConsumer(&fakeChannel{})
	pool := &fakePool{accept: true}
	c.AttachPool(pool)

	acker := &fakeAcker{}
	d := amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: []byte(`{"not":"a task"}not-json`)}

	c.handleDelivery(context.Background(), d)

	if len(pool.submitted) != 0 {
		t.Error("malformed envelope must not be dispatched to the worker pool")
	}
	if len(acker.nacked) != 1 || acker.nacked[0] != 1 {
		t.Fatalf("nacked = %v, want delivery tag 1 nacked once", acker.nacked)
	}
	if acker.requeued[0] != false {
		t.Error("malformed envelope must be nacked without requeue")
	}
	if len(acker.acked) != 0 {
		t.Error("malformed envelope must not be acked")
	}
}

func TestHandleDelivery_ValidEnvelopeDispatchesAndTracksPending(t *testing.T) {
	c := newTestConsumer(&fakeChannel{})
	pool := &fakePool{accept: true}
	c.AttachPool(pool)

	taskID := uuid.New()
	body, _ := json.Marshal(task.Task{TaskID: taskID, Status: task.StatusPending, Document: task.Document{FileName: "a.pdf"}})
	acker := &fakeAcker{}
	d := amqp.Delivery{Acknowledger: acker, DeliveryTag: 7, Body: body}

	c.handleDelivery(context.Background(), d)

	if len(pool.submitted) != 1 {
		t.Fatalf("expected one job submitted, got %d", len(pool.submitted))
	}
	if pool.submitted[0].DeliveryTag != 7 {
		t.Errorf("delivery tag = %d, want 7", pool.submitted[0].DeliveryTag)
	}
	if pool.submitted[0].Task.Status != task.StatusProcessing {
		t.Errorf("status = %s, want PROCESSING (entered exactly once per successful consume)", pool.submitted[0].Task.Status)
	}
	if _, ok := c.pending[7]; !ok {
		t.Error("delivery tag 7 should be tracked in pending until its completion arrives")
	}
}

func TestHandleDelivery_PoolRefusesSubmissionAbandonsDeliveryUnacked(t *testing.T) {
	c := newTestConsumer(&fakeChannel{})
	pool := &fakePool{accept: false}
	c.AttachPool(pool)

	body, _ := json.Marshal(task.Task{TaskID: uuid.New(), Document: task.Document{FileName: "a.pdf"}})
	acker := &fakeAcker{}
	d := amqp.Delivery{Acknowledger: acker, DeliveryTag: 3, Body: body}

	c.handleDelivery(context.Background(), d)

	if len(acker.acked) != 0 || len(acker.nacked) != 0 {
		t.Error("an abandoned delivery must be neither acked nor nacked, so the broker redelivers it")
	}
	if _, ok := c.pending[3]; ok {
		t.Error("an abandoned delivery must not remain in pending")
	}
}

func TestHandleCompletion_SuccessAcksAndMarksDone(t *testing.T) {
	ch := &fakeChannel{}
	c := newTestConsumer(ch)
	c.pending[42] = task.Task{TaskID: uuid.New(), Status: task.StatusProcessing}

	c.handleCompletion(context.Background(), workerpool.Completion{DeliveryTag: 42, Err: nil})

	if _, ok := c.pending[42]; ok {
		t.Error("completed delivery tag must be removed from pending")
	}
	if len(ch.acked) != 1 || ch.acked[0] != 42 {
		t.Errorf("acked = %v, want delivery tag 42 acked once", ch.acked)
	}
	if len(ch.published) != 1 {
		t.Fatalf("published = %d messages, want 1 DONE status", len(ch.published))
	}
	var msg task.StatusMessage
	if err := json.Unmarshal(ch.published[0].Body, &msg); err != nil {
		t.Fatalf("unmarshal published status: %v", err)
	}
	if msg.Status != string(task.StatusDone) {
		t.Errorf("status = %s, want DONE", msg.Status)
	}
}

func TestHandleCompletion_FailureNacksAndMarksFailed(t *testing.T) {
	ch := &fakeChannel{}
	c := newTestConsumer(ch)
	c.pending[9] = task.Task{TaskID: uuid.New(), Status: task.StatusProcessing}

	c.handleCompletion(context.Background(), workerpool.Completion{DeliveryTag: 9, Err: context.DeadlineExceeded})

	if len(ch.nacked) != 1 || ch.nacked[0] != 9 {
		t.Errorf("nacked = %v, want delivery tag 9 nacked once", ch.nacked)
	}
	if ch.requeued[0] != false {
		t.Error("a failed task must be nacked without requeue")
	}
	var msg task.StatusMessage
	if err := json.Unmarshal(ch.published[0].Body, &msg); err != nil {
		t.Fatalf("unmarshal published status: %v", err)
	}
	if msg.Status != string(task.StatusFailed) {
		t.Errorf("status = %s, want FAILED", msg.Status)
	}
}

func TestHandleCompletion_UnknownDeliveryTagIsNoop(t *testing.T) {
	ch := &fakeChannel{}
	c := newTestConsumer(ch)

	c.handleCompletion(context.Background(), workerpool.Completion{DeliveryTag: 999, Err: nil})

	if len(ch.acked) != 0 || len(ch.nacked) != 0 || len(ch.published) != 0 {
		t.Error("a completion for an untracked delivery tag must be a no-op")
	}
}
