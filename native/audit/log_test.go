package audit

import (
	"fmt"
	"testing"

	"workchain/core/state"
	"workchain/core/types"
	wcstorage "workchain/storage"
)

func newTestLedger(t *testing.T) (*Ledger, *state.Txn) {
	t.Helper()
	mgr := state.NewManager(wcstorage.NewMemDB())
	txn := mgr.Begin()
	t.Cleanup(txn.Abort)
	return NewLedger(txn), txn
}

func TestRecordAssignsMonotonicIDs(t *testing.T) {
	ledger, _ := newTestLedger(t)
	first, err := ledger.Record("escrow.create", types.Address{0x01}, nil, "", 100, true, "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	second, err := ledger.Record("escrow.create", types.Address{0x01}, nil, "", 100, true, "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("ids not increasing: %s then %s", first.ID, second.ID)
	}
}

func TestListMostRecentFirst(t *testing.T) {
	ledger, _ := newTestLedger(t)
	for i := 0; i < 5; i++ {
		if _, err := ledger.Record("dispute.raise", types.Address{0x02}, nil, fmt.Sprintf("d-%d", i), int64(1000+i), true, ""); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	entries, err := ledger.List("", 10, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].ID >= entries[i-1].ID {
			t.Fatalf("entries out of order at %d", i)
		}
	}
	if entries[0].Reference != "d-4" {
		t.Fatalf("newest entry = %s, want d-4", entries[0].Reference)
	}
}

func TestListPaginatesWithExclusiveBound(t *testing.T) {
	ledger, _ := newTestLedger(t)
	for i := 0; i < 7; i++ {
		if _, err := ledger.Record("escrow.release", types.Address{0x03}, nil, fmt.Sprintf("e-%d", i), int64(2000+i), true, ""); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	page, err := ledger.List("", 3, "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("first page len = %d", len(page))
	}
	seen := map[string]bool{}
	for _, e := range page {
		seen[e.ID] = true
	}
	next, err := ledger.List(page[len(page)-1].ID, 3, "")
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(next) != 3 {
		t.Fatalf("second page len = %d", len(next))
	}
	for _, e := range next {
		if seen[e.ID] {
			t.Fatalf("entry %s repeated across pages", e.ID)
		}
		if e.ID >= page[len(page)-1].ID {
			t.Fatalf("entry %s not older than bound %s", e.ID, page[len(page)-1].ID)
		}
	}
}

func TestListFiltersByAction(t *testing.T) {
	ledger, _ := newTestLedger(t)
	actions := []string{"escrow.create", "dispute.raise", "escrow.create", "security.block"}
	for i, action := range actions {
		if _, err := ledger.Record(action, types.Address{0x04}, nil, "", int64(3000+i), i%2 == 0, ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	entries, err := ledger.List("", 10, "escrow.create")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d filtered entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Action != "escrow.create" {
			t.Fatalf("unexpected action %s", e.Action)
		}
	}
}

func TestListClampsLimit(t *testing.T) {
	ledger, _ := newTestLedger(t)
	for i := 0; i < MaxListLimit+20; i++ {
		if _, err := ledger.Record("admin.action", types.Address{0x05}, nil, "", int64(4000+i), true, ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	entries, err := ledger.List("", MaxListLimit+50, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != MaxListLimit {
		t.Fatalf("limit not clamped: got %d", len(entries))
	}
}

func TestRecordFailureSurvivesAbortedTxn(t *testing.T) {
	mgr := state.NewManager(wcstorage.NewMemDB())

	call := mgr.Begin()
	if _, err := NewLedger(call).Record("escrow.create", types.Address{0x06}, nil, "", 500, false, "insufficient funds"); err != nil {
		t.Fatalf("record: %v", err)
	}
	call.Abort()

	// The failed-attempt entry is written in its own transaction after the
	// call's writes were discarded.
	followUp := mgr.Begin()
	if _, err := NewLedger(followUp).Record("escrow.create", types.Address{0x06}, nil, "", 500, false, "insufficient funds"); err != nil {
		t.Fatalf("record follow-up: %v", err)
	}
	if err := followUp.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	read := mgr.Begin()
	defer read.Abort()
	entries, err := NewLedger(read).List("", 10, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Success || entries[0].Error == "" {
		t.Fatalf("failure entry malformed: %+v", entries[0])
	}
}
