package velocity

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

func TestVelocityService(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "velocity-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	svc := NewService(repo, time.Hour)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	t.Run("EmptyHistory", func(t *testing.T) {
		count, err := svc.GetTransactionCount(ctx, detect.EntityCustomer, "cust-001", time.Hour, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for empty history, got %d", count)
		}
	})

	// Five in-window events plus one two hours old.
	for i := 0; i < 6; i++ {
		at := now.Add(-time.Duration(i*5) * time.Minute)
		if i == 5 {
			at = now.Add(-2 * time.Hour)
		}
		ev := &domain.Event{
			ID:            fmt.Sprintf("ev-%d", i),
			TransactionID: fmt.Sprintf("tx-%d", i),
			CustomerID:    "cust-001",
			AccountID:     "acc-001",
			DeviceID:      "dev-001",
			Amount:        100,
			Currency:      "USD",
			Type:          "purchase",
			Timestamp:     at,
		}
		if err := repo.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("failed to save event: %v", err)
		}
	}

	t.Run("CountByEntity", func(t *testing.T) {
		for _, key := range []string{detect.EntityCustomer, detect.EntityDevice, detect.EntityAccount} {
			id := map[string]string{
				detect.EntityCustomer: "cust-001",
				detect.EntityDevice:   "dev-001",
				detect.EntityAccount:  "acc-001",
			}[key]
			count, err := svc.GetTransactionCount(ctx, key, id, time.Hour, now)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", key, err)
			}
			if count != 5 {
				t.Errorf("%s: expected count 5, got %d", key, count)
			}
		}

		count, _ := svc.GetTransactionCount(ctx, detect.EntityCustomer, "unknown", time.Hour, now)
		if count != 0 {
			t.Errorf("expected count 0 for unknown customer, got %d", count)
		}
	})

	t.Run("RequiresEntity", func(t *testing.T) {
		if _, err := svc.GetTransactionCount(ctx, detect.EntityCustomer, "", time.Hour, now); err == nil {
			t.Error("expected error for empty entity id")
		}
		if _, err := svc.GetTransactionCount(ctx, "merchant", "m-1", time.Hour, now); err == nil {
			t.Error("expected error for unsupported entity key")
		}
	})

	t.Run("HistoryAppendsCurrentEvent", func(t *testing.T) {
		current := &domain.Event{ID: "ev-new", CustomerID: "cust-001", Amount: 50, Timestamp: now.Add(time.Minute)}

		history, err := svc.History(ctx, current)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(history) != 6 {
			t.Fatalf("expected 5 stored events plus current, got %d", len(history))
		}

		sig := detect.Velocity(current.Timestamp, history, detect.VelocityConfig{Window: svc.Window(), MaxCount: 5})
		if !sig.Triggered || sig.Count != 6 {
			t.Errorf("expected 6 events to trigger, got %+v", sig)
		}
		if sig.ExcessPercentage != 20 {
			t.Errorf("expected 20%% excess, got %v", sig.ExcessPercentage)
		}
	})

	t.Run("HistoryDoesNotDuplicateStoredEvent", func(t *testing.T) {
		stored := &domain.Event{ID: "ev-0", CustomerID: "cust-001", Timestamp: now}
		history, err := svc.History(ctx, stored)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(history) != 5 {
			t.Errorf("expected 5 events, got %d", len(history))
		}
	})

	t.Run("HistoryRequiresCustomer", func(t *testing.T) {
		if _, err := svc.History(ctx, &domain.Event{ID: "x", Timestamp: now}); err == nil {
			t.Error("expected error without customer")
		}
	})
}

func TestEnrich(t *testing.T) {
	ev := &domain.Event{}
	Enrich(ev, detect.VelocitySignal{Count: 7, Amount: 700}, nil)

	if ev.Attributes[AttrCount] != 7.0 {
		t.Errorf("expected count attribute 7, got %v", ev.Attributes[AttrCount])
	}
	if ev.Attributes[AttrAmount] != 700.0 {
		t.Errorf("expected amount attribute 700, got %v", ev.Attributes[AttrAmount])
	}

	t.Run("ComputedValuesReplaceCallerValues", func(t *testing.T) {
		ev := &domain.Event{Attributes: map[string]any{
			AttrCount:       0.0,
			AttrAmount:      1.0,
			AttrDeviceCount: 0.0,
			"merchant":      "m-1",
		}}
		Enrich(ev, detect.VelocitySignal{Count: 9, Amount: 900}, map[string]float64{AttrDeviceCount: 4})

		if ev.Attributes[AttrCount] != 9.0 {
			t.Errorf("expected computed count 9, got %v", ev.Attributes[AttrCount])
		}
		if ev.Attributes[AttrAmount] != 900.0 {
			t.Errorf("expected computed amount 900, got %v", ev.Attributes[AttrAmount])
		}
		if ev.Attributes[AttrDeviceCount] != 4.0 {
			t.Errorf("expected computed device count 4, got %v", ev.Attributes[AttrDeviceCount])
		}
		if ev.Attributes["merchant"] != "m-1" {
			t.Errorf("expected unrelated attribute kept, got %v", ev.Attributes["merchant"])
		}
	})
}

func TestEntityCounts(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	svc := NewService(repo, time.Hour)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ev := &domain.Event{
			ID:         fmt.Sprintf("dev-%d", i),
			CustomerID: fmt.Sprintf("cust-%d", i),
			DeviceID:   "device-shared",
			AccountID:  "acc-1",
			Timestamp:  now.Add(-time.Duration(i+1) * 10 * time.Minute),
		}
		if err := repo.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}
	}
	old := &domain.Event{ID: "old", CustomerID: "cust-9", DeviceID: "device-shared", Timestamp: now.Add(-3 * time.Hour)}
	if err := repo.SaveEvent(ctx, old); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}

	t.Run("CountsDeviceAndAccount", func(t *testing.T) {
		current := &domain.Event{ID: "cur", CustomerID: "cust-new", DeviceID: "device-shared", AccountID: "acc-1", Timestamp: now}
		counts, err := svc.EntityCounts(ctx, current)
		if err != nil {
			t.Fatalf("EntityCounts failed: %v", err)
		}
		if counts[AttrDeviceCount] != 4 {
			t.Errorf("expected 3 stored device events plus current, got %v", counts[AttrDeviceCount])
		}
		if counts[AttrAccountCount] != 4 {
			t.Errorf("expected 3 stored account events plus current, got %v", counts[AttrAccountCount])
		}
	})

	t.Run("SkipsMissingEntities", func(t *testing.T) {
		counts, err := svc.EntityCounts(ctx, &domain.Event{ID: "bare", CustomerID: "c", Timestamp: now})
		if err != nil {
			t.Fatalf("EntityCounts failed: %v", err)
		}
		if len(counts) != 0 {
			t.Errorf("expected no counts, got %v", counts)
		}
	})
}

func TestNewServiceDefaultsWindow(t *testing.T) {
	if w := NewService(repository.NewMemory(), 0).Window(); w != time.Hour {
		t.Errorf("expected default window 1h, got %v", w)
	}
}
