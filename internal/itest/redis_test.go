//go:build integration

package itest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/forPelevin/autodub/internal/jobs"
)

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis %s: %v", addr, err)
	}

	key := "AUTODUB_JOBS_TEST_" + time.Now().Format("150405.000000")
	defer rdb.Del(ctx, key)
	s := jobs.NewRedisStore(rdb, key)

	t0 := time.Now().UTC().Truncate(time.Second)
	done := t0.Add(time.Minute)
	first := jobs.Job{ID: "aaaa1111", URL: "https://youtu.be/a", Language: "es", Status: jobs.StatusQueued, CreatedAt: t0}
	second := jobs.Job{
		ID: "bbbb2222", URL: "https://youtu.be/b", Language: "fr",
		Status: jobs.StatusCompleted, CreatedAt: t0.Add(time.Second), CompletedAt: &done,
		Warnings: []string{"segment 3 overruns"},
	}
	for _, j := range []jobs.Job{first, second} {
		if err := s.Put(ctx, j); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	got, err := s.Get(ctx, "bbbb2222")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != jobs.StatusCompleted || got.CompletedAt == nil || !got.CompletedAt.Equal(done) || len(got.Warnings) != 1 {
		t.Fatalf("unexpected job %+v", got)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "bbbb2222" {
		t.Fatalf("unexpected list order %+v", list)
	}

	if err := s.Delete(ctx, "aaaa1111"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "aaaa1111"); err != jobs.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
