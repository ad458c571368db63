package mqhandler

import (
	"context"
	"errors"
	"net"
	"testing"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/service"
	"github.com/Skycomm/email-ai-manager/pkg/mq"
)

type fakeEngine struct {
	HandleReplyFn func(ctx context.Context, ev service.ReplyEvent) (*service.CommandResult, error)
	events        []service.ReplyEvent
}

func (f *fakeEngine) HandleReply(ctx context.Context, ev service.ReplyEvent) (*service.CommandResult, error) {
	f.events = append(f.events, ev)
	if f.HandleReplyFn != nil {
		return f.HandleReplyFn(ctx, ev)
	}
	return &service.CommandResult{Kind: "approve", EmailID: 1}, nil
}

type fakeCounter struct {
	counts map[string]int64
	resets int
}

func (f *fakeCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeCounter) Reset(_ context.Context, key string) error {
	delete(f.counts, key)
	f.resets++
	return nil
}

type fakeDLQ struct {
	PublishFn func() error
	parked    []string
}

func (f *fakeDLQ) PublishToDLQ(_ context.Context, routingKey string, _ []byte, originalError, _ string) error {
	if f.PublishFn != nil {
		if err := f.PublishFn(); err != nil {
			return err
		}
	}
	f.parked = append(f.parked, originalError)
	return nil
}

func delivery(body string) mq.Delivery {
	return mq.Delivery{MessageID: "m-1", RoutingKey: "chat.reply", Body: []byte(body)}
}

const validReply = `{"event_id":"ev-1","channel":"approvals","user":"u","text":"approve"}`

func TestHandleSuccess(t *testing.T) {
	eng := &fakeEngine{}
	counter := &fakeCounter{}
	h := NewReplyHandler(eng, counter, &fakeDLQ{}, 3, zap.NewNop())

	if err := h.Handle(context.Background(), delivery(validReply)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(eng.events) != 1 || eng.events[0].Text != "approve" {
		t.Errorf("events = %+v", eng.events)
	}
	if counter.resets != 1 {
		t.Errorf("resets = %d, want 1", counter.resets)
	}
}

func TestHandleFallsBackToMessageID(t *testing.T) {
	eng := &fakeEngine{}
	h := NewReplyHandler(eng, nil, &fakeDLQ{}, 3, zap.NewNop())
	if err := h.Handle(context.Background(), delivery(`{"channel":"approvals","text":"ignore"}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if eng.events[0].EventID != "m-1" {
		t.Errorf("EventID = %q, want delivery message id", eng.events[0].EventID)
	}
}

func TestHandleDuplicateAcks(t *testing.T) {
	eng := &fakeEngine{HandleReplyFn: func(context.Context, service.ReplyEvent) (*service.CommandResult, error) {
		return nil, service.ErrDuplicateMessage
	}}
	dlq := &fakeDLQ{}
	h := NewReplyHandler(eng, nil, dlq, 3, zap.NewNop())
	if err := h.Handle(context.Background(), delivery(validReply)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(dlq.parked) != 0 {
		t.Errorf("duplicate was dead-lettered")
	}
}

func TestHandlePoisonMessages(t *testing.T) {
	for _, body := range []string{`not json`, `{"text":"approve"}`} {
		eng := &fakeEngine{}
		dlq := &fakeDLQ{}
		h := NewReplyHandler(eng, &fakeCounter{}, dlq, 3, zap.NewNop())
		d := delivery(body)
		d.MessageID = ""
		if err := h.Handle(context.Background(), d); err != nil {
			t.Fatalf("%s: Handle: %v", body, err)
		}
		if len(dlq.parked) != 1 || len(eng.events) != 0 {
			t.Errorf("%s: parked=%v events=%d", body, dlq.parked, len(eng.events))
		}
	}
}

func TestHandleRetryBudget(t *testing.T) {
	transient := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	eng := &fakeEngine{HandleReplyFn: func(context.Context, service.ReplyEvent) (*service.CommandResult, error) {
		return nil, transient
	}}
	dlq := &fakeDLQ{}
	h := NewReplyHandler(eng, &fakeCounter{}, dlq, 2, zap.NewNop())

	for i := 1; i <= 2; i++ {
		if err := h.Handle(context.Background(), delivery(validReply)); err == nil {
			t.Fatalf("attempt %d acked, want requeue", i)
		}
	}
	if err := h.Handle(context.Background(), delivery(validReply)); err != nil {
		t.Fatalf("attempt 3: %v, want ack after dead-letter", err)
	}
	if len(dlq.parked) != 1 {
		t.Errorf("parked = %v, want one", dlq.parked)
	}
}

func TestHandleRequeuedReplySucceeds(t *testing.T) {
	transient := &net.OpError{Op: "read", Err: errors.New("connection reset")}
	calls := 0
	eng := &fakeEngine{HandleReplyFn: func(context.Context, service.ReplyEvent) (*service.CommandResult, error) {
		calls++
		if calls == 1 {
			return nil, transient
		}
		return &service.CommandResult{Kind: "approve", EmailID: 7}, nil
	}}
	counter := &fakeCounter{}
	dlq := &fakeDLQ{}
	h := NewReplyHandler(eng, counter, dlq, 3, zap.NewNop())

	if err := h.Handle(context.Background(), delivery(validReply)); err == nil {
		t.Fatal("first delivery acked, want requeue")
	}
	if err := h.Handle(context.Background(), delivery(validReply)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(eng.events) != 2 || eng.events[1].EventID != "ev-1" {
		t.Errorf("events = %+v, want the same event twice", eng.events)
	}
	if len(dlq.parked) != 0 || len(counter.counts) != 0 {
		t.Errorf("parked = %v counts = %v, want none", dlq.parked, counter.counts)
	}
}

func TestHandleNonRetryableGoesToDLQ(t *testing.T) {
	eng := &fakeEngine{HandleReplyFn: func(context.Context, service.ReplyEvent) (*service.CommandResult, error) {
		return nil, errors.New("bad state")
	}}
	dlq := &fakeDLQ{}
	h := NewReplyHandler(eng, &fakeCounter{}, dlq, 5, zap.NewNop())
	if err := h.Handle(context.Background(), delivery(validReply)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(dlq.parked) != 1 || dlq.parked[0] != "bad state" {
		t.Errorf("parked = %v", dlq.parked)
	}
}

func TestHandleDLQFailureRequeues(t *testing.T) {
	dlq := &fakeDLQ{PublishFn: func() error { return errors.New("broker down") }}
	h := NewReplyHandler(&fakeEngine{}, nil, dlq, 3, zap.NewNop())
	if err := h.Handle(context.Background(), delivery(`garbage`)); err == nil {
		t.Fatal("want error so the broker redelivers")
	}
}
