package natskv_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	pwnats "github.com/Strob0t/patternwatch/internal/adapter/nats"
	"github.com/Strob0t/patternwatch/internal/adapter/natskv"
)

func newCache(t *testing.T) *natskv.Cache {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping NATS KV test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	q, err := pwnats.Connect(ctx, url, "pwkvtest")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	kv, err := q.ReportBucket(ctx, time.Minute)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	return natskv.New(kv)
}

func TestCacheRoundTrip(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	key := "report:reflection:" + uuid.NewString() + ":3"

	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, key, []byte(`{"pattern":"reflection"}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got) != `{"pattern":"reflection"}` {
		t.Errorf("value = %s", got)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Error("expected miss after delete")
	}
}

func TestCacheDeleteMissing(t *testing.T) {
	c := newCache(t)
	if err := c.Delete(context.Background(), "report:none:"+uuid.NewString()+":0"); err != nil {
		t.Errorf("delete of missing key: %v", err)
	}
}
