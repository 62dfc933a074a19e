package districts

import (
	"testing"

	"github.com/opensource-health/kestrel/internal/domain"
)

func TestStoreReplaceAndSnapshot(t *testing.T) {
	store := NewStore()
	workspaceID := "ws-001"

	store.Replace(workspaceID, []*domain.District{
		{ID: "d-001", Name: "Bougouni"},
		{ID: "d-002", Name: "Kati"},
	})

	if store.Count(workspaceID) != 2 {
		t.Errorf("expected 2 districts, got %d", store.Count(workspaceID))
	}

	snap := store.Snapshot(workspaceID)
	if len(snap) != 2 {
		t.Fatalf("expected 2 districts in snapshot, got %d", len(snap))
	}

	// Snapshots are copies: mutating one must not touch the live table.
	snap[0].Assignments[1] = 10
	d, ok := store.Get(workspaceID, "d-001")
	if !ok {
		t.Fatal("d-001 not found")
	}
	if len(d.Assignments) != 0 {
		t.Error("snapshot mutation leaked into the store")
	}
}

func TestStoreUpdate(t *testing.T) {
	store := NewStore()
	workspaceID := "ws-001"

	store.Replace(workspaceID, []*domain.District{{ID: "d-001"}})

	store.Update(workspaceID, func(ds []*domain.District) {
		for _, d := range ds {
			d.Color = "#336699"
		}
	})

	d, _ := store.Get(workspaceID, "d-001")
	if d.Color != "#336699" {
		t.Errorf("expected update to write through, got %q", d.Color)
	}
}

func TestStoreWorkspaceIsolation(t *testing.T) {
	store := NewStore()
	store.Replace("ws-001", []*domain.District{{ID: "d-001"}})

	if store.Count("ws-002") != 0 {
		t.Error("workspaces must be isolated")
	}
	if _, ok := store.Get("ws-002", "d-001"); ok {
		t.Error("district must not be visible from another workspace")
	}
}
