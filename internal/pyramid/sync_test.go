package pyramid

import (
	"context"
	"math"
	"testing"
)

func TestReconcileFlatAndFlat(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)
	s := NewSynchronizer(e, 0)

	result, err := s.Reconcile(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Action != SyncInSync {
		t.Errorf("Expected in_sync, got %s", result.Action)
	}
}

func TestReconcileResetsStaleLocal(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)
	s := NewSynchronizer(e, 0)
	ctx := context.Background()

	if err := e.ProcessSignal(ctx, buySignal(50000)); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	// Position closed on the venue behind our back.
	fake.setLive("BTCUSDT", 0, 0, 0)

	result, err := s.Reconcile(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Action != SyncResetLocal {
		t.Errorf("Expected reset_local, got %s", result.Action)
	}

	snap, _ := e.Snapshot("BTCUSDT")
	if snap.Level != 0 || snap.CurrentSize != 0 || snap.MarginUsed != 0 {
		t.Errorf("Local state not cleared: level=%d size=%f margin=%f",
			snap.Level, snap.CurrentSize, snap.MarginUsed)
	}
}

func TestReconcileSeedsUnknownLivePosition(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)
	s := NewSynchronizer(e, 0)

	fake.setLive("BTCUSDT", 0.05, 48000, 5)

	result, err := s.Reconcile(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Action != SyncSeeded {
		t.Errorf("Expected seeded, got %s", result.Action)
	}

	snap, _ := e.Snapshot("BTCUSDT")
	if snap.Level != 1 {
		t.Errorf("Expected level 1, got %d", snap.Level)
	}
	if math.Abs(snap.CurrentSize-0.05) > 1e-9 {
		t.Errorf("Expected size 0.05, got %f", snap.CurrentSize)
	}
	if math.Abs(snap.AverageEntry-48000) > 1e-9 {
		t.Errorf("Expected entry 48000, got %f", snap.AverageEntry)
	}
	// Margin back-computed as size * entry / leverage.
	if math.Abs(snap.MarginUsed-480) > 1e-9 {
		t.Errorf("Expected margin 480, got %f", snap.MarginUsed)
	}
}

func TestReconcileAdoptsLiveSize(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)
	s := NewSynchronizer(e, 0)
	ctx := context.Background()

	if err := e.ProcessSignal(ctx, buySignal(50000)); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	// Half the position vanished on the venue.
	fake.setLive("BTCUSDT", 0.05, 50000, 5)

	result, err := s.Reconcile(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Action != SyncAdjusted {
		t.Errorf("Expected adjusted, got %s", result.Action)
	}

	snap, _ := e.Snapshot("BTCUSDT")
	if math.Abs(snap.CurrentSize-0.05) > 1e-9 {
		t.Errorf("Expected size 0.05, got %f", snap.CurrentSize)
	}
	// Margin scales with the live size: 1000 * 0.05/0.1 = 500.
	if math.Abs(snap.MarginUsed-500) > 1e-9 {
		t.Errorf("Expected margin 500, got %f", snap.MarginUsed)
	}
	if snap.Level != 1 {
		t.Errorf("Pyramid level should survive adjustment, got %d", snap.Level)
	}
}

func TestReconcileEntryDriftTolerance(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)
	s := NewSynchronizer(e, 0)
	ctx := context.Background()

	if err := e.ProcessSignal(ctx, buySignal(50000)); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	// 0.2% drift stays inside the default 0.5% tolerance.
	fake.setLive("BTCUSDT", 0.1, 50100, 5)
	result, err := s.Reconcile(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Action != SyncInSync {
		t.Errorf("Expected in_sync for small drift, got %s", result.Action)
	}
	snap, _ := e.Snapshot("BTCUSDT")
	if math.Abs(snap.AverageEntry-50000) > 1e-9 {
		t.Errorf("Small drift should not overwrite entry, got %f", snap.AverageEntry)
	}

	// 2% drift exceeds the tolerance and the live entry wins.
	fake.setLive("BTCUSDT", 0.1, 51000, 5)
	result, err = s.Reconcile(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Action != SyncAdjusted {
		t.Errorf("Expected adjusted for large drift, got %s", result.Action)
	}
	snap, _ = e.Snapshot("BTCUSDT")
	if math.Abs(snap.AverageEntry-51000) > 1e-9 {
		t.Errorf("Large drift should overwrite entry, got %f", snap.AverageEntry)
	}
}

func TestReconcileInSyncAfterFill(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)
	s := NewSynchronizer(e, 0)
	ctx := context.Background()

	if err := e.ProcessSignal(ctx, buySignal(50000)); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	result, err := s.Reconcile(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Action != SyncInSync {
		t.Errorf("Expected in_sync after confirmed fill, got %s", result.Action)
	}
}
