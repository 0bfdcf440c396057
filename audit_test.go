// audit_test.go: Tests for the bounded audit trail.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testDiscardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestAuditRecordAndQuery(t *testing.T) {
	a := NewAuditLogger(10, testDiscardLogger())

	a.Record(AuditEncrypt, "node-a", "", true, "", nil)
	a.Record(AuditDecrypt, "node-a", "", false, "bad key", nil)
	a.Record(AuditAccessCheck, "alice", "/doc", true, "static grant", nil)

	if got := a.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}

	all := a.Entries(AuditFilter{}, 0)
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}
	// Newest first.
	if all[0].Event != AuditAccessCheck || all[2].Event != AuditEncrypt {
		t.Fatalf("entries not newest-first: %s .. %s", all[0].Event, all[2].Event)
	}

	failed := a.Entries(AuditFilter{FailedOnly: true}, 0)
	if len(failed) != 1 || failed[0].Reason != "bad key" {
		t.Fatalf("failed filter returned %+v", failed)
	}

	byActor := a.Entries(AuditFilter{Actor: "alice"}, 0)
	if len(byActor) != 1 || byActor[0].Event != AuditAccessCheck {
		t.Fatalf("actor filter returned %+v", byActor)
	}

	limited := a.Entries(AuditFilter{}, 2)
	if len(limited) != 2 {
		t.Fatalf("limit ignored, got %d entries", len(limited))
	}
}

func TestAuditTargetAndTimeRangeFilters(t *testing.T) {
	a := NewAuditLogger(10, testDiscardLogger())
	clock := newTestClock()
	a.now = clock.now

	a.Record(AuditAccessCheck, "alice", "/doc/a", true, "", nil)
	clock.advance(time.Hour)
	mid := clock.now()
	a.Record(AuditAccessCheck, "alice", "/doc/b", true, "", nil)
	clock.advance(time.Hour)
	a.Record(AuditAccessCheck, "bob", "/doc/a", false, "", nil)

	byTarget := a.Entries(AuditFilter{Target: "/doc/a"}, 0)
	if len(byTarget) != 2 {
		t.Fatalf("target filter returned %d entries, want 2", len(byTarget))
	}

	since := a.Entries(AuditFilter{Since: mid}, 0)
	if len(since) != 2 {
		t.Fatalf("since filter returned %d entries, want 2", len(since))
	}

	until := a.Entries(AuditFilter{Until: mid}, 0)
	if len(until) != 2 {
		t.Fatalf("until filter returned %d entries, want 2", len(until))
	}

	window := a.Entries(AuditFilter{Since: mid, Until: mid}, 0)
	if len(window) != 1 || window[0].Target != "/doc/b" {
		t.Fatalf("window filter returned %+v", window)
	}
}

func TestAuditFIFOBound(t *testing.T) {
	a := NewAuditLogger(5, testDiscardLogger())

	for i := 0; i < 8; i++ {
		a.Record(AuditEncrypt, fmt.Sprintf("actor-%d", i), "", true, "", nil)
	}

	if got := a.Len(); got != 5 {
		t.Fatalf("Len = %d, want 5", got)
	}
	if got := a.Dropped(); got != 3 {
		t.Fatalf("Dropped = %d, want 3", got)
	}

	entries := a.Entries(AuditFilter{}, 0)
	if entries[len(entries)-1].Actor != "actor-3" {
		t.Fatalf("oldest surviving entry is %s, want actor-3", entries[len(entries)-1].Actor)
	}
	if entries[0].Actor != "actor-7" {
		t.Fatalf("newest entry is %s, want actor-7", entries[0].Actor)
	}
}

func TestAuditEntryIDsUnique(t *testing.T) {
	a := NewAuditLogger(10, testDiscardLogger())
	a.Record(AuditEncrypt, "x", "", true, "", nil)
	a.Record(AuditEncrypt, "x", "", true, "", nil)

	entries := a.Entries(AuditFilter{}, 0)
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Fatal("entry IDs must be unique and non-empty")
	}
}

func TestAuditCleanupOld(t *testing.T) {
	a := NewAuditLogger(10, testDiscardLogger())
	clock := newTestClock()
	a.now = clock.now

	a.Record(AuditEncrypt, "x", "", true, "", nil)
	clock.advance(2 * time.Hour)
	a.Record(AuditDecrypt, "x", "", true, "", nil)

	if removed := a.CleanupOld(time.Hour); removed != 1 {
		t.Fatalf("removed %d entries, want 1", removed)
	}
	entries := a.Entries(AuditFilter{}, 0)
	if len(entries) != 1 || entries[0].Event != AuditDecrypt {
		t.Fatalf("wrong entry retained: %+v", entries)
	}
}

func TestAuditSinkPanicSwallowed(t *testing.T) {
	// A sink whose writer panics must not abort the recording caller.
	a := NewAuditLogger(10, zerolog.New(panicWriter{}))

	a.Record(AuditEncrypt, "x", "", true, "", nil)

	if got := a.Len(); got != 1 {
		t.Fatalf("entry lost when sink panicked, Len = %d", got)
	}
	if got := a.SinkFailures(); got != 1 {
		t.Fatalf("SinkFailures = %d, want 1", got)
	}
}

type panicWriter struct{}

func (panicWriter) Write([]byte) (int, error) { panic("sink down") }
