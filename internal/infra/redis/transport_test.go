package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"quiz-sync-service/internal/domain"
)

func TestTransportPublishSubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	tr := NewTransport(newClient(mr))
	ctx := context.Background()

	received := make(chan []byte, 1)
	sub, err := tr.Subscribe(ctx, "session:s1:events", func(data []byte) {
		received <- data
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := sub.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	if err := tr.Publish(ctx, "session:s1:events", []byte(`{"type":"START_QUIZ"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != `{"type":"START_QUIZ"}` {
			t.Fatalf("received %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestTransportSubscribeDeadBackend(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := newClient(mr)
	mr.Close()

	tr := NewTransport(client)
	_, err = tr.Subscribe(context.Background(), "session:s1:events", func([]byte) {})
	if !errors.Is(err, domain.ErrTransportFailure) {
		t.Fatalf("err = %v, want ErrTransportFailure", err)
	}
}

func TestTransportPublishDeadBackend(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := newClient(mr)
	mr.Close()

	tr := NewTransport(client)
	err = tr.Publish(context.Background(), "session:s1:events", []byte("x"))
	if !errors.Is(err, domain.ErrTransportFailure) {
		t.Fatalf("err = %v, want ErrTransportFailure", err)
	}
}
