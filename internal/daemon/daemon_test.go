package daemon_test

import (
	"context"
	"strings"
	"testing"

	"docflow/internal/daemon"
	"docflow/internal/logging"
	"docflow/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Running() {
		t.Fatal("daemon should report running")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("second start must fail")
	}

	d.Stop()
	if d.Running() {
		t.Fatal("daemon should report stopped")
	}
	// Stop twice is a no-op.
	d.Stop()
}

func TestDaemonLockExcludesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer first.Close()

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	second, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New second: %v", err)
	}
	defer second.Close()

	err = second.Start(ctx)
	if err == nil {
		t.Fatal("second instance must not acquire the lock")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected error: %v", err)
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("lock must be free after stop: %v", err)
	}
	second.Stop()
}

func TestDaemonRunHonorsContext(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.Running() {
		t.Fatal("daemon should be stopped after Run returns")
	}
}
