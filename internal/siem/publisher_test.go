package siem_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/redoubt-sec/redoubt/internal/siem"
)

// captureWriter records written messages instead of talking to a broker.
type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublish_encodesEvent(t *testing.T) {
	w := &captureWriter{}
	p := siem.NewKafkaPublisherWithWriter(w, zap.NewNop())

	evt := siem.Event{
		Type:       "incident.created",
		TenantID:   "tenant-1",
		IncidentID: "inc-1",
		At:         time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Data:       map[string]string{"severity": "high"},
	}
	if err := p.Publish(context.Background(), "inc-1", evt); err != nil {
		t.Fatal(err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "inc-1" {
		t.Errorf("message key: got %q, want inc-1", w.msgs[0].Key)
	}

	var decoded siem.Event
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("message value is not valid JSON: %v", err)
	}
	if decoded.Type != evt.Type || decoded.TenantID != evt.TenantID {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
	if decoded.Data["severity"] != "high" {
		t.Errorf("data lost in round trip: %+v", decoded.Data)
	}
}

func TestPublish_writerError(t *testing.T) {
	w := &captureWriter{err: errors.New("broker unreachable")}
	p := siem.NewKafkaPublisherWithWriter(w, zap.NewNop())

	if err := p.Publish(context.Background(), "inc-1", siem.Event{Type: "incident.created"}); err == nil {
		t.Error("expected error from failing writer")
	}
}

func TestClose_closesWriter(t *testing.T) {
	w := &captureWriter{}
	p := siem.NewKafkaPublisherWithWriter(w, zap.NewNop())

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if !w.closed {
		t.Error("underlying writer not closed")
	}
}

func TestNop_acceptsEverything(t *testing.T) {
	var p siem.Publisher = siem.Nop{}
	if err := p.Publish(context.Background(), "k", "v"); err != nil {
		t.Errorf("nop publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nop close: %v", err)
	}
}
