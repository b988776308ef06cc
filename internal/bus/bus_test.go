package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func startedNode(t *testing.T) *Node {
	t.Helper()
	n := NewNode(DefaultConfig())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { _ = n.Stop(context.Background()) })
	return n
}

func TestNodeLifecycle(t *testing.T) {
	n := NewNode(DefaultConfig())
	if s := n.Status(); s.State != StateDisconnected {
		t.Fatalf("expected disconnected initially, got %s", s.State)
	}

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if s := n.Status(); s.State != StateConnected {
		t.Fatalf("expected connected after start, got %s", s.State)
	}

	if err := n.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if s := n.Status(); s.State != StateDisconnected {
		t.Fatalf("expected disconnected after stop, got %s", s.State)
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	n := NewNode(DefaultConfig())
	if err := n.PublishDirect("alice", "bob", "hi"); err == nil {
		t.Fatal("publish on a stopped node must fail")
	}
}

func TestDirectDelivery(t *testing.T) {
	n := startedNode(t)

	var mu sync.Mutex
	var got []DirectMessage
	done := make(chan struct{}, 1)
	if err := n.Subscribe("bob-recv", func(msg DirectMessage) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		done <- struct{}{}
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := n.PublishDirect("alice", "bob-recv", "hello bob"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Body != "hello bob" || got[0].From != "alice" {
		t.Fatalf("unexpected delivery %+v", got)
	}
	if got[0].ID == "" || got[0].SentAt.IsZero() {
		t.Fatal("published message must carry an ID and timestamp")
	}
}

func TestOfflineMessagesParkUntilSubscribe(t *testing.T) {
	n := startedNode(t)

	if err := n.PublishDirect("alice", "carol-offline", "first"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := n.PublishDirect("alice", "carol-offline", "second"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	var mu sync.Mutex
	var bodies []string
	if err := n.Subscribe("carol-offline", func(msg DirectMessage) {
		mu.Lock()
		bodies = append(bodies, msg.Body)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 || bodies[0] != "first" || bodies[1] != "second" {
		t.Fatalf("parked messages must replay in order, got %v", bodies)
	}
}

func TestPublishRejectsMissingRecipient(t *testing.T) {
	n := startedNode(t)
	if err := n.Publish(context.Background(), DirectMessage{From: "alice", Body: "hi"}); err == nil {
		t.Fatal("publish without recipient must fail")
	}
}

func TestFetchSinceMockReturnsNothing(t *testing.T) {
	n := startedNode(t)
	msgs, err := n.FetchSince(context.Background(), "alice", time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("mock transport parks messages, expected none, got %d", len(msgs))
	}
}
