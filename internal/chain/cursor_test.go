package chain

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisCursorStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisCursorStore(client, testContract)

	if _, ok, err := store.Load(ctx); err != nil || ok {
		t.Fatalf("expected empty cursor, got ok=%v err=%v", ok, err)
	}
	if err := store.Save(ctx, 1234); err != nil {
		t.Fatalf("save: %v", err)
	}
	block, ok, err := store.Load(ctx)
	if err != nil || !ok || block != 1234 {
		t.Fatalf("expected 1234, got %d ok=%v err=%v", block, ok, err)
	}

	// A poller restarted against the same contract resumes from the stored block.
	reader := &fakeReader{tip: 2000}
	p := newTestPoller(reader, &recordingHandler{}, PollerConfig{Cursor: store})
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if last, _ := p.LastBlock(); last != 2000 {
		t.Fatalf("expected scan to reach tip, got %d", last)
	}
	if stored, _, _ := store.Load(ctx); stored != 2000 {
		t.Fatalf("expected stored cursor 2000, got %d", stored)
	}
}

func TestRedisCursorStoreRejectsGarbage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisCursorStore(client, testContract)
	if err := mr.Set(store.key, "not-a-number"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := store.Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}
