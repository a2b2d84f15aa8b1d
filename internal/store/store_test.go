package store

import (
	"testing"

	"rewards-mm/internal/tracker"
	"rewards-mm/pkg/types"
)

func TestSaveLoadFillLedger_RoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	state := tracker.State{
		ConditionID: "cond-1",
		YesTokenID:  "YES",
		NoTokenID:   "NO",
		Economics:   tracker.Economics{YesBought: 30, YesCost: 18},
		Fills: []types.Fill{
			{ID: "f1", TokenID: "YES", Side: types.BUY, Price: 0.6, Size: 30, Status: types.FillConfirmed},
		},
	}

	if err := s.SaveFillLedger(state); err != nil {
		t.Fatalf("SaveFillLedger: %v", err)
	}

	doc, err := s.LoadFillLedger("cond-1")
	if err != nil {
		t.Fatalf("LoadFillLedger: %v", err)
	}
	if doc == nil {
		t.Fatal("LoadFillLedger returned nil")
	}
	if doc.Version != fillLedgerVersion {
		t.Errorf("Version = %d, want %d", doc.Version, fillLedgerVersion)
	}
	if len(doc.Fills) != 1 || doc.Fills[0].ID != "f1" {
		t.Errorf("Fills = %+v, want one fill with id f1", doc.Fills)
	}
	if doc.Economics.YesBought != 30 {
		t.Errorf("Economics.YesBought = %v, want 30", doc.Economics.YesBought)
	}
}

func TestLoadFillLedgerMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	doc, err := s.LoadFillLedger("nonexistent")
	if err != nil {
		t.Fatalf("LoadFillLedger: %v", err)
	}
	if doc != nil {
		t.Errorf("expected nil for missing ledger, got %+v", doc)
	}
}

func TestSaveFillLedgerOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.SaveFillLedger(tracker.State{ConditionID: "cond-1", Economics: tracker.Economics{YesBought: 10}})
	_ = s.SaveFillLedger(tracker.State{ConditionID: "cond-1", Economics: tracker.Economics{YesBought: 20}})

	doc, err := s.LoadFillLedger("cond-1")
	if err != nil {
		t.Fatalf("LoadFillLedger: %v", err)
	}
	if doc.Economics.YesBought != 20 {
		t.Errorf("Economics.YesBought = %v, want 20 (latest save)", doc.Economics.YesBought)
	}
}

func TestSaveLoadLiquidationQueue_RoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	entries := []LiquidationQueueEntry{
		{ConditionID: "cond-1", Stage: types.StagePassive},
	}
	if err := s.SaveLiquidationQueue(entries); err != nil {
		t.Fatalf("SaveLiquidationQueue: %v", err)
	}

	doc, err := s.LoadLiquidationQueue()
	if err != nil {
		t.Fatalf("LoadLiquidationQueue: %v", err)
	}
	if len(doc.Markets) != 1 || doc.Markets[0].ConditionID != "cond-1" {
		t.Errorf("Markets = %+v, want one entry for cond-1", doc.Markets)
	}
}

func TestLoadLiquidationQueueMissingReturnsEmptyDocument(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	doc, err := s.LoadLiquidationQueue()
	if err != nil {
		t.Fatalf("LoadLiquidationQueue: %v", err)
	}
	if doc == nil || len(doc.Markets) != 0 {
		t.Errorf("expected an empty document, got %+v", doc)
	}
}
