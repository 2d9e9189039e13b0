package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tdhoang/reportfetch/internal/coordinator"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRequest() coordinator.Request {
	return coordinator.Request{
		Identity: "user",
		Secret:   "pass",
		OTPSeed:  "SHOULD-NOT-PERSIST",
		Items: []coordinator.ReportItem{{
			ReportKey:   "FAF002",
			FromDate:    "01/01/2025",
			ToDate:      "31/01/2025",
			ChunkPolicy: "month",
		}},
		Regions: []int{0, 3},
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.SaveConfig(ctx, "monthly", sampleRequest()); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadConfig(ctx, "monthly")
	if err != nil {
		t.Fatal(err)
	}
	if got.Request.Identity != "user" || len(got.Request.Items) != 1 {
		t.Fatalf("round trip mangled request: %+v", got.Request)
	}
	if got.Request.Items[0].ChunkPolicy != "month" {
		t.Fatalf("chunk policy lost: %+v", got.Request.Items[0])
	}
	if got.Request.OTPSeed != "" {
		t.Fatal("the one-time seed must never be persisted")
	}
}

func TestSaveConfigReplaces(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	req := sampleRequest()
	if err := s.SaveConfig(ctx, "weekly", req); err != nil {
		t.Fatal(err)
	}
	req.Items[0].ChunkPolicy = "7"
	if err := s.SaveConfig(ctx, "weekly", req); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadConfig(ctx, "weekly")
	if err != nil {
		t.Fatal(err)
	}
	if got.Request.Items[0].ChunkPolicy != "7" {
		t.Fatalf("save should replace, got policy %q", got.Request.Items[0].ChunkPolicy)
	}
	list, err := s.ListConfigs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected a single config after replace, got %d", len(list))
	}
}

func TestConfigNotFound(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.LoadConfig(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteConfig(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	early := Schedule{ID: "a", ConfigName: "monthly", RunAt: now.Add(time.Hour), CreatedAt: now}
	late := Schedule{ID: "b", ConfigName: "monthly", RunAt: now.Add(2 * time.Hour), CreatedAt: now}
	if err := s.AddSchedule(ctx, late); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSchedule(ctx, early); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListSchedules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("schedules should list in fire order, got %+v", list)
	}

	if err := s.RemoveSchedule(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveSchedule(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double remove, got %v", err)
	}
	list, err = s.ListSchedules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "b" {
		t.Fatalf("unexpected remaining schedules %+v", list)
	}
}
