package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ttngu207/stackrun/internal/events"
	"github.com/ttngu207/stackrun/internal/storage"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testReplica(project, service string, ordinal int) *storage.Replica {
	return &storage.Replica{
		ID:      uuid.New().String(),
		Project: project,
		Service: service,
		Ordinal: ordinal,
		Runtime: "process",
		Image:   "demo-" + service,
		Status:  storage.StatusCreated,
	}
}

func TestUpsertAndGetReplica(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	r := testReplica("demo", "worker", 1)
	if err := store.UpsertReplica(ctx, r); err != nil {
		t.Fatalf("Failed to upsert replica: %v", err)
	}

	got, err := store.GetReplica(ctx, "demo", "worker", 1)
	if err != nil {
		t.Fatalf("Failed to get replica: %v", err)
	}
	if got.ID != r.ID {
		t.Errorf("Expected ID %s, got %s", r.ID, got.ID)
	}
	if got.Status != storage.StatusCreated {
		t.Errorf("Expected status created, got %s", got.Status)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be set")
	}

	// Upsert with the same ID updates in place.
	r.ContainerID = "abc123"
	r.Status = storage.StatusRunning
	if err := store.UpsertReplica(ctx, r); err != nil {
		t.Fatalf("Failed to re-upsert replica: %v", err)
	}
	got, err = store.GetReplicaByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("Failed to get replica by ID: %v", err)
	}
	if got.ContainerID != "abc123" {
		t.Errorf("Expected container ID abc123, got %s", got.ContainerID)
	}
}

func TestGetReplicaNotFound(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.GetReplica(ctx, "demo", "worker", 99)
	if err != storage.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSlotUniqueness(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.UpsertReplica(ctx, testReplica("demo", "worker", 1)); err != nil {
		t.Fatalf("Failed to upsert first replica: %v", err)
	}
	// A second record with a different ID cannot occupy the same slot.
	if err := store.UpsertReplica(ctx, testReplica("demo", "worker", 1)); err == nil {
		t.Error("Expected slot conflict error, got nil")
	}
	// One-off replicas are exempt from slot uniqueness.
	oneOff := testReplica("demo", "worker", 0)
	oneOff.OneOff = true
	if err := store.UpsertReplica(ctx, oneOff); err != nil {
		t.Errorf("Failed to upsert one-off replica: %v", err)
	}
	oneOff2 := testReplica("demo", "worker", 0)
	oneOff2.OneOff = true
	if err := store.UpsertReplica(ctx, oneOff2); err != nil {
		t.Errorf("Failed to upsert second one-off replica: %v", err)
	}
}

func TestSetReplicaStatus(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	r := testReplica("demo", "worker", 1)
	if err := store.UpsertReplica(ctx, r); err != nil {
		t.Fatalf("Failed to upsert replica: %v", err)
	}

	if err := store.SetReplicaStatus(ctx, r.ID, storage.StatusRunning, nil); err != nil {
		t.Fatalf("Failed to set running: %v", err)
	}
	got, _ := store.GetReplicaByID(ctx, r.ID)
	if got.StartedAt == nil {
		t.Error("Expected StartedAt to be set after running transition")
	}
	if got.FinishedAt != nil {
		t.Error("Expected FinishedAt to be cleared while running")
	}

	code := 137
	if err := store.SetReplicaStatus(ctx, r.ID, storage.StatusExited, &code); err != nil {
		t.Fatalf("Failed to set exited: %v", err)
	}
	got, _ = store.GetReplicaByID(ctx, r.ID)
	if got.ExitCode == nil || *got.ExitCode != 137 {
		t.Errorf("Expected exit code 137, got %v", got.ExitCode)
	}
	if got.FinishedAt == nil {
		t.Error("Expected FinishedAt to be set after exit")
	}

	if err := store.SetReplicaStatus(ctx, "missing-id", storage.StatusRunning, nil); err != storage.ErrNotFound {
		t.Errorf("Expected ErrNotFound for unknown replica, got %v", err)
	}
	if err := store.SetReplicaStatus(ctx, r.ID, "bogus", nil); err == nil {
		t.Error("Expected error for invalid status")
	}
}

func TestIncrementRestarts(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	r := testReplica("demo", "worker", 1)
	if err := store.UpsertReplica(ctx, r); err != nil {
		t.Fatalf("Failed to upsert replica: %v", err)
	}

	for want := 1; want <= 3; want++ {
		n, err := store.IncrementRestarts(ctx, r.ID)
		if err != nil {
			t.Fatalf("Failed to increment restarts: %v", err)
		}
		if n != want {
			t.Errorf("Expected %d restarts, got %d", want, n)
		}
	}

	if _, err := store.IncrementRestarts(ctx, "missing-id"); err != storage.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListReplicas(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := store.UpsertReplica(ctx, testReplica("demo", "worker", i)); err != nil {
			t.Fatalf("Failed to upsert replica %d: %v", i, err)
		}
	}
	other := testReplica("other", "db", 1)
	if err := store.UpsertReplica(ctx, other); err != nil {
		t.Fatalf("Failed to upsert other project replica: %v", err)
	}

	replicas, err := store.ListReplicas(ctx, storage.ReplicaFilter{Project: "demo"})
	if err != nil {
		t.Fatalf("Failed to list replicas: %v", err)
	}
	if len(replicas) != 3 {
		t.Fatalf("Expected 3 replicas, got %d", len(replicas))
	}
	// Ordered by ordinal.
	for i, r := range replicas {
		if r.Ordinal != i+1 {
			t.Errorf("Expected ordinal %d at position %d, got %d", i+1, i, r.Ordinal)
		}
	}

	// Terminal replicas are hidden unless IncludeStopped is set.
	if err := store.SetReplicaStatus(ctx, replicas[0].ID, storage.StatusStopped, nil); err != nil {
		t.Fatalf("Failed to stop replica: %v", err)
	}
	active, err := store.ListReplicas(ctx, storage.ReplicaFilter{Project: "demo"})
	if err != nil {
		t.Fatalf("Failed to list active replicas: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("Expected 2 active replicas, got %d", len(active))
	}
	all, err := store.ListReplicas(ctx, storage.ReplicaFilter{Project: "demo", IncludeStopped: true})
	if err != nil {
		t.Fatalf("Failed to list all replicas: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 replicas with IncludeStopped, got %d", len(all))
	}
}

func TestDeleteReplicas(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_ = store.UpsertReplica(ctx, testReplica("demo", "worker", 1))
	_ = store.UpsertReplica(ctx, testReplica("demo", "worker", 2))
	_ = store.UpsertReplica(ctx, testReplica("demo", "db", 1))

	n, err := store.DeleteReplicas(ctx, "demo", "worker")
	if err != nil {
		t.Fatalf("Failed to delete service replicas: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 deleted, got %d", n)
	}

	n, err = store.DeleteReplicas(ctx, "demo", "")
	if err != nil {
		t.Fatalf("Failed to delete project replicas: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 deleted, got %d", n)
	}
}

func TestAppendAndGetEvents(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	e1 := events.New(events.EventTypeReplicaStarted, "demo", events.SeverityInfo, "replica started")
	e1.ForReplica("worker", 1)
	e2 := events.New(events.EventTypeLogLine, "demo", events.SeverityError, "ERROR: boom")
	e2.ForReplica("worker", 1)
	e2.WithData(map[string]interface{}{"stream": "stderr", "line": "ERROR: boom"})
	e3 := events.New(events.EventTypeStackUp, "other", events.SeverityInfo, "stack up")

	for _, e := range []*events.Event{e1, e2, e3} {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("Failed to append event: %v", err)
		}
	}

	got, err := store.GetEvents(ctx, events.Filter{Project: "demo"})
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(got))
	}
	if got[1].Data["stream"] != "stderr" {
		t.Errorf("Expected data payload to round-trip, got %v", got[1].Data)
	}

	errOnly, err := store.GetEvents(ctx, events.Filter{Project: "demo", Severity: events.SeverityError})
	if err != nil {
		t.Fatalf("Failed to filter by severity: %v", err)
	}
	if len(errOnly) != 1 || errOnly[0].Type != events.EventTypeLogLine {
		t.Errorf("Expected only the error log line, got %v", errOnly)
	}

	typed, err := store.GetEvents(ctx, events.Filter{
		Project: "demo",
		Types:   []events.EventType{events.EventTypeReplicaStarted},
	})
	if err != nil {
		t.Fatalf("Failed to filter by type: %v", err)
	}
	if len(typed) != 1 {
		t.Errorf("Expected 1 typed event, got %d", len(typed))
	}

	limited, err := store.GetEvents(ctx, events.Filter{Project: "demo", Limit: 1})
	if err != nil {
		t.Fatalf("Failed to limit events: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 limited event, got %d", len(limited))
	}
}

func TestGetEventsSince(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	old := events.New(events.EventTypeStackUp, "demo", events.SeverityInfo, "old")
	old.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
	recent := events.New(events.EventTypeStackDown, "demo", events.SeverityInfo, "recent")

	_ = store.AppendEvent(ctx, old)
	_ = store.AppendEvent(ctx, recent)

	got, err := store.GetEvents(ctx, events.Filter{
		Project: "demo",
		Since:   time.Now().UTC().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Failed to get events since: %v", err)
	}
	if len(got) != 1 || got[0].Message != "recent" {
		t.Errorf("Expected only the recent event, got %v", got)
	}
}

func TestGetEventsLimitKeepsNewest(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		e := events.New(events.EventTypeLogLine, "demo", events.SeverityInfo, fmt.Sprintf("line %d", i))
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("Failed to append event: %v", err)
		}
	}

	got, err := store.GetEvents(ctx, events.Filter{Project: "demo", Limit: 2})
	if err != nil {
		t.Fatalf("Failed to get limited events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(got))
	}
	// The limit trims old history; what remains is still oldest first.
	if got[0].Message != "line 3" || got[1].Message != "line 4" {
		t.Errorf("Expected the newest two events in order, got %q, %q", got[0].Message, got[1].Message)
	}
}

func TestCleanupEventsByAge(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := events.New(events.EventTypeLogLine, "demo", events.SeverityInfo, "old line")
		e.Timestamp = time.Now().UTC().AddDate(0, 0, -10)
		_ = store.AppendEvent(ctx, e)
	}
	keep := events.New(events.EventTypeLogLine, "demo", events.SeverityInfo, "fresh line")
	_ = store.AppendEvent(ctx, keep)

	// Batch size smaller than the backlog forces multiple passes.
	deleted, err := store.CleanupEventsByAge(ctx, 7, 2)
	if err != nil {
		t.Fatalf("Failed to cleanup by age: %v", err)
	}
	if deleted != 5 {
		t.Errorf("Expected 5 deleted, got %d", deleted)
	}

	remaining, _ := store.GetEvents(ctx, events.Filter{Project: "demo"})
	if len(remaining) != 1 || remaining[0].Message != "fresh line" {
		t.Errorf("Expected only the fresh event to remain, got %v", remaining)
	}

	if _, err := store.CleanupEventsByAge(ctx, 0, 10); err == nil {
		t.Error("Expected error for non-positive retention")
	}
}

func TestCleanupEventsByProjectLimit(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		e := events.New(events.EventTypeLogLine, "demo", events.SeverityInfo, "line")
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		_ = store.AppendEvent(ctx, e)
	}
	other := events.New(events.EventTypeStackUp, "other", events.SeverityInfo, "up")
	_ = store.AppendEvent(ctx, other)

	deleted, err := store.CleanupEventsByProjectLimit(ctx, 3, 4)
	if err != nil {
		t.Fatalf("Failed to cleanup by project limit: %v", err)
	}
	if deleted != 7 {
		t.Errorf("Expected 7 deleted, got %d", deleted)
	}

	demo, _ := store.GetEvents(ctx, events.Filter{Project: "demo"})
	if len(demo) != 3 {
		t.Errorf("Expected 3 demo events kept, got %d", len(demo))
	}
	otherGot, _ := store.GetEvents(ctx, events.Filter{Project: "other"})
	if len(otherGot) != 1 {
		t.Errorf("Expected the other project untouched, got %d events", len(otherGot))
	}
}

func TestDeleteReplicaSlots(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	for ordinal := 1; ordinal <= 4; ordinal++ {
		if err := store.UpsertReplica(ctx, testReplica("demo", "worker", ordinal)); err != nil {
			t.Fatalf("Failed to upsert replica %d: %v", ordinal, err)
		}
	}
	oneOff := testReplica("demo", "worker", 0)
	oneOff.OneOff = true
	if err := store.UpsertReplica(ctx, oneOff); err != nil {
		t.Fatalf("Failed to upsert one-off replica: %v", err)
	}

	n, err := store.DeleteReplicaSlots(ctx, "demo", "worker", 2)
	if err != nil {
		t.Fatalf("Failed to delete replica slots: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 deleted rows, got %d", n)
	}

	remaining, err := store.ListReplicas(ctx, storage.ReplicaFilter{
		Project:        "demo",
		IncludeStopped: true,
		IncludeOneOff:  true,
	})
	if err != nil {
		t.Fatalf("Failed to list replicas: %v", err)
	}
	// Slots 1 and 2 plus the one-off survive.
	if len(remaining) != 3 {
		t.Errorf("Expected 3 remaining replicas, got %d", len(remaining))
	}
	for _, r := range remaining {
		if !r.OneOff && r.Ordinal > 2 {
			t.Errorf("Expected ordinal <= 2, got %d", r.Ordinal)
		}
	}
}

func TestDeleteReplicaByID(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	r := testReplica("demo", "worker", 1)
	if err := store.UpsertReplica(ctx, r); err != nil {
		t.Fatalf("Failed to upsert replica: %v", err)
	}

	deleted, err := store.DeleteReplicaByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("Failed to delete replica: %v", err)
	}
	if !deleted {
		t.Error("Expected deletion to report a removed row")
	}
	if _, err := store.GetReplicaByID(ctx, r.ID); err != storage.ErrNotFound {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	deleted, err = store.DeleteReplicaByID(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("Unexpected error deleting missing replica: %v", err)
	}
	if deleted {
		t.Error("Expected no row removed for unknown ID")
	}
}
