package lock

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestLocalExclusive(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "pass")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "pass"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("second acquire err = %v, want ErrNotAcquired", err)
	}
	if other, err := l.Acquire(ctx, "prune"); err != nil {
		t.Fatalf("independent name: %v", err)
	} else {
		other()
	}

	release()
	release()

	again, err := l.Acquire(ctx, "pass")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
}

func TestRedisUnreachable(t *testing.T) {
	start := time.Now()
	if _, err := NewRedis("127.0.0.1:1", "", time.Minute); err == nil {
		t.Fatal("expected ping error")
	}
	if time.Since(start) > 10*time.Second {
		t.Error("ping should be bounded by its timeout")
	}
}
