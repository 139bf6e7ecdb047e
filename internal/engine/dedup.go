package engine

import (
	"time"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

type fingerprint struct {
	side domain.Side
	at   time.Time
}

// dedupHistory keeps a bounded list of recently decided signals per symbol.
// Not safe for concurrent use.
type dedupHistory struct {
	window  time.Duration
	limit   int
	entries map[string][]fingerprint
}

func newDedupHistory(window time.Duration, limit int) *dedupHistory {
	return &dedupHistory{
		window:  window,
		limit:   limit,
		entries: make(map[string][]fingerprint),
	}
}

// isDuplicate reports whether a signal with the same side was decided within the window,
// before or after sig.ReceivedAt.
func (d *dedupHistory) isDuplicate(sig domain.Signal) bool {
	for _, fp := range d.entries[sig.Symbol] {
		if fp.side != sig.Side {
			continue
		}
		if absDuration(sig.ReceivedAt.Sub(fp.at)) <= d.window {
			return true
		}
	}
	return false
}

func (d *dedupHistory) record(sig domain.Signal) {
	list := append(d.entries[sig.Symbol], fingerprint{side: sig.Side, at: sig.ReceivedAt})

	newest := list[0].at
	for _, fp := range list[1:] {
		if fp.at.After(newest) {
			newest = fp.at
		}
	}

	cutoff := newest.Add(-2 * d.window)
	kept := list[:0]
	for _, fp := range list {
		if fp.at.Before(cutoff) {
			continue
		}
		kept = append(kept, fp)
	}

	if len(kept) > d.limit {
		kept = append([]fingerprint(nil), kept[len(kept)-d.limit:]...)
	}

	d.entries[sig.Symbol] = kept
}

func (d *dedupHistory) len(symbol string) int {
	return len(d.entries[symbol])
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
