// audit.go: Bounded in-memory audit trail for security-relevant events.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Audit event types.
const (
	AuditEncrypt     = "encrypt"
	AuditDecrypt     = "decrypt"
	AuditSign        = "sign"
	AuditVerify      = "verify"
	AuditKeyExchange = "key_exchange"
	AuditKeyRotation = "key_rotation"
	AuditTransmit    = "transmit"
	AuditReceive     = "receive"
	AuditAccessCheck = "access_check"
	AuditSession     = "session"
	AuditClear       = "clear"
)

// AuditEntry records one security-relevant event.
type AuditEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Event     string            `json:"event"`
	Actor     string            `json:"actor"`
	Target    string            `json:"target,omitempty"`
	Success   bool              `json:"success"`
	Reason    string            `json:"reason,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// AuditFilter selects entries by event type prefix, actor, target, outcome,
// and time range. Zero-valued fields match everything.
type AuditFilter struct {
	EventPrefix string
	Actor       string
	Target      string
	FailedOnly  bool
	Since       time.Time
	Until       time.Time
}

func (f AuditFilter) matches(e AuditEntry) bool {
	if f.EventPrefix != "" && !strings.HasPrefix(e.Event, f.EventPrefix) {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Target != "" && e.Target != f.Target {
		return false
	}
	if f.FailedOnly && e.Success {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// AuditLogger keeps a bounded trail of entries, oldest dropped first. Every
// recorded entry is also mirrored to the structured log sink. Recording
// never fails and never panics; a sink that panics is swallowed and counted.
type AuditLogger struct {
	mu           sync.RWMutex
	entries      []AuditEntry
	maxEntries   int
	dropped      uint64
	sinkFailures uint64
	log          zerolog.Logger
	now          func() time.Time
}

// DefaultAuditCapacity bounds the trail when no capacity is given.
const DefaultAuditCapacity = 1000

// NewAuditLogger creates a trail bounded to maxEntries (DefaultAuditCapacity
// when maxEntries <= 0), mirroring entries to log.
func NewAuditLogger(maxEntries int, log zerolog.Logger) *AuditLogger {
	if maxEntries <= 0 {
		maxEntries = DefaultAuditCapacity
	}
	return &AuditLogger{
		entries:    make([]AuditEntry, 0, maxEntries),
		maxEntries: maxEntries,
		log:        log,
		now:        timecache.CachedTime,
	}
}

// Record appends an entry to the trail, evicting the oldest entry when full.
func (a *AuditLogger) Record(event, actor, target string, success bool, reason string, details map[string]string) {
	entry := AuditEntry{
		ID:        uuid.New().String(),
		Timestamp: a.now(),
		Event:     event,
		Actor:     actor,
		Target:    target,
		Success:   success,
		Reason:    reason,
		Details:   details,
	}

	a.mu.Lock()
	if len(a.entries) >= a.maxEntries {
		copy(a.entries, a.entries[1:])
		a.entries = a.entries[:len(a.entries)-1]
		a.dropped++
	}
	a.entries = append(a.entries, entry)
	a.mu.Unlock()

	a.mirror(entry)
}

func (a *AuditLogger) mirror(entry AuditEntry) {
	defer func() {
		if r := recover(); r != nil {
			a.mu.Lock()
			a.sinkFailures++
			a.mu.Unlock()
		}
	}()

	ev := a.log.Info()
	if !entry.Success {
		ev = a.log.Warn()
	}
	ev = ev.Str("audit_id", entry.ID).
		Str("event", entry.Event).
		Str("actor", entry.Actor).
		Bool("success", entry.Success)
	if entry.Target != "" {
		ev = ev.Str("target", entry.Target)
	}
	if entry.Reason != "" {
		ev = ev.Str("reason", entry.Reason)
	}
	for k, v := range entry.Details {
		ev = ev.Str(k, v)
	}
	ev.Msg("audit")
}

// Entries returns up to limit matching entries, newest first. limit <= 0
// returns all matches.
func (a *AuditLogger) Entries(filter AuditFilter, limit int) []AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]AuditEntry, 0)
	for i := len(a.entries) - 1; i >= 0; i-- {
		if !filter.matches(a.entries[i]) {
			continue
		}
		out = append(out, a.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Len reports the number of retained entries.
func (a *AuditLogger) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Dropped reports how many entries were evicted to stay within capacity.
func (a *AuditLogger) Dropped() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dropped
}

// SinkFailures reports how many mirror attempts panicked.
func (a *AuditLogger) SinkFailures() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sinkFailures
}

// CleanupOld drops entries recorded before the retention cutoff and reports
// how many were removed.
func (a *AuditLogger) CleanupOld(retention time.Duration) int {
	cutoff := a.now().Add(-retention)

	a.mu.Lock()
	defer a.mu.Unlock()

	keep := a.entries[:0]
	removed := 0
	for _, e := range a.entries {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		keep = append(keep, e)
	}
	a.entries = keep
	return removed
}
