package storage

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"airc-chat/go-backend/internal/domains/keyauth/ports"
)

func TestNonceClaimOnce(t *testing.T) {
	s := NewNonceStore()
	now := time.Now().UTC()
	ok, err := s.Claim("aa00", "alice", "rotate", time.Hour, now)
	if err != nil || !ok {
		t.Fatalf("first claim must win, got ok=%v err=%v", ok, err)
	}
	ok, err = s.Claim("aa00", "alice", "rotate", time.Hour, now.Add(time.Second))
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if ok {
		t.Fatal("second claim of the same nonce must lose")
	}
}

func TestNonceClaimExactlyOneConcurrentWinner(t *testing.T) {
	s := NewNonceStore()
	now := time.Now().UTC()
	const claimants = 64

	var wins int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.Claim("bb11", "alice", "rotate", time.Hour, now)
			if err != nil {
				t.Errorf("claim errored: %v", err)
				return
			}
			if ok {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestNonceClaimableAgainAfterTTL(t *testing.T) {
	s := NewNonceStore()
	now := time.Now().UTC()
	if ok, _ := s.Claim("cc22", "alice", "message", 10*time.Minute, now); !ok {
		t.Fatal("first claim must win")
	}
	if ok, _ := s.Claim("cc22", "alice", "message", 10*time.Minute, now.Add(9*time.Minute)); ok {
		t.Fatal("claim inside TTL must lose")
	}
	if ok, _ := s.Claim("cc22", "alice", "message", 10*time.Minute, now.Add(11*time.Minute)); !ok {
		t.Fatal("claim after TTL expiry must win")
	}
}

func TestNonceStoreUnavailableSurfacesSentinel(t *testing.T) {
	s := NewNonceStore()
	s.SetUnavailable(true)
	_, err := s.Claim("dd33", "alice", "rotate", time.Hour, time.Now().UTC())
	if !errors.Is(err, ports.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	s.SetUnavailable(false)
	if ok, err := s.Claim("dd33", "alice", "rotate", time.Hour, time.Now().UTC()); err != nil || !ok {
		t.Fatalf("claim after recovery failed: ok=%v err=%v", ok, err)
	}
}

func TestNonceRecordsListsLiveClaims(t *testing.T) {
	s := NewNonceStore()
	now := time.Now().UTC()
	_, _ = s.Claim("ee44", "alice", "rotate", time.Hour, now)
	_, _ = s.Claim("ff55", "bob", "message", time.Minute, now)
	records := s.Records(now.Add(10 * time.Minute))
	if len(records) != 1 {
		t.Fatalf("expected 1 live record, got %d", len(records))
	}
	if records[0].Nonce != "ee44" || records[0].Operation != "rotate" {
		t.Fatalf("unexpected record %+v", records[0])
	}
}
