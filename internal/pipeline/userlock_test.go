package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUserLocks(t *testing.T) {
	l := newUserLocks()

	unlock, err := l.lock(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.lock(ctx, "user-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the second lock of user-1 to time out, got %v", err)
	}

	other, err := l.lock(context.Background(), "user-2")
	if err != nil {
		t.Fatalf("lock user-2: %v", err)
	}
	other()

	unlock()
	again, err := l.lock(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()

	if len(l.locks) != 0 {
		t.Errorf("expected released locks to be dropped, %d left", len(l.locks))
	}
}
