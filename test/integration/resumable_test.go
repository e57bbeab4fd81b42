//go:build integration

package integration_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/objectgate/gateway/pkg/resumable/lock"
	"github.com/objectgate/gateway/pkg/resumable/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestNotifierPublishDispatchesToRegisteredCallback(t *testing.T) {
	helper := newPostgresHelper(t)
	store := helper.openStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := notify.New(store.Pool(), testLogger())
	go notifier.Run(ctx)

	// Give the listener goroutine time to establish its LISTEN before
	// publishing; Run reconnects on failure but a fresh test has nothing
	// to retry against if the first Publish races the first LISTEN.
	time.Sleep(200 * time.Millisecond)

	id := uuid.NewString()
	fired := make(chan struct{})
	var once sync.Once
	notifier.Register(id, func() {
		once.Do(func() { close(fired) })
	})
	defer notifier.Unregister(id)

	if err := notifier.Publish(context.Background(), id); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for registered callback to fire")
	}
}

func TestAdvisoryLockerContentionPublishesReleaseRequest(t *testing.T) {
	helper := newPostgresHelper(t)
	store := helper.openStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := notify.New(store.Pool(), testLogger())
	go notifier.Run(ctx)
	time.Sleep(200 * time.Millisecond)

	locker := lock.NewAdvisoryLocker(store.Pool(), notifier, testLogger())
	id := uuid.NewString()

	holder, err := locker.Acquire(context.Background(), id)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// A second acquirer on a short-lived context should time out rather
	// than hang, and should observe the release request published on
	// every retry by registering its own callback first.
	releaseRequested := make(chan struct{}, 1)
	notifier.Register(id, func() {
		select {
		case releaseRequested <- struct{}{}:
		default:
		}
	})

	contenderCtx, contenderCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer contenderCancel()

	_, err = locker.Acquire(contenderCtx, id)
	if err == nil {
		t.Fatal("expected contended acquire to fail while the first lease is held")
	}

	select {
	case <-releaseRequested:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a release request to have been published during contention")
	}

	if err := locker.Release(context.Background(), holder); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Now that the lease is released, a fresh acquire must succeed.
	second, err := locker.Acquire(context.Background(), id)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := locker.Release(context.Background(), second); err != nil {
		t.Fatalf("release second: %v", err)
	}
}
