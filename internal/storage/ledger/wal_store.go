// Package ledger persists holdings and order records so the engine survives restarts.
package ledger

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

const (
	DefaultDir    = "./wal/ledger"
	segmentLimit  = 100
	maxSegments   = 10
	snapshotEvery = 64

	holdingKeyPrefix = "holding_"
	orderKeyPrefix   = "order_"
	snapshotKey      = "ledger_snapshot"
)

type snapshot struct {
	Holdings []domain.Holding     `json:"holdings"`
	Orders   []domain.OrderRecord `json:"orders"`
}

// WALStore persists holdings and order records in a WAL.
type WALStore struct {
	wal      *gowal.Wal
	mu       sync.RWMutex
	holdings map[string]domain.Holding
	orders   map[string]domain.OrderRecord
	writes   int
	l        *zap.Logger
}

// NewWALStore initializes a WAL-backed ledger and replays its records.
func NewWALStore(dir string, l *zap.Logger) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if l == nil {
		l = zap.NewNop()
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "ledger_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	s := &WALStore{
		wal:      wal,
		holdings: make(map[string]domain.Holding),
		orders:   make(map[string]domain.OrderRecord),
		l:        l,
	}

	for msg := range wal.Iterator() {
		switch {
		case msg.Key == snapshotKey:
			var snap snapshot
			if err := json.Unmarshal(msg.Value, &snap); err != nil {
				l.Error("failed to unmarshal ledger snapshot", zap.Error(err))
				continue
			}
			s.holdings = make(map[string]domain.Holding, len(snap.Holdings))
			for _, h := range snap.Holdings {
				s.holdings[h.Symbol] = h
			}
			s.orders = make(map[string]domain.OrderRecord, len(snap.Orders))
			for _, rec := range snap.Orders {
				s.orders[rec.Intent.ID] = rec
			}
		case strings.HasPrefix(msg.Key, holdingKeyPrefix):
			var h domain.Holding
			if err := json.Unmarshal(msg.Value, &h); err != nil {
				l.Error("failed to unmarshal holding", zap.Error(err), zap.String("key", msg.Key))
				continue
			}
			s.holdings[h.Symbol] = h
		case strings.HasPrefix(msg.Key, orderKeyPrefix):
			var rec domain.OrderRecord
			if err := json.Unmarshal(msg.Value, &rec); err != nil {
				l.Error("failed to unmarshal order record", zap.Error(err), zap.String("key", msg.Key))
				continue
			}
			s.orders[rec.Intent.ID] = rec
		}
	}

	return s, nil
}

// Holdings returns the replayed holdings sorted by symbol.
func (s *WALStore) Holdings() []domain.Holding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Holding, 0, len(s.holdings))
	for _, h := range s.holdings {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Orders returns the replayed order records ordered by creation time.
func (s *WALStore) Orders() []domain.OrderRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.OrderRecord, 0, len(s.orders))
	for _, rec := range s.orders {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SaveHolding appends the holding of a symbol.
func (s *WALStore) SaveHolding(h domain.Holding) error {
	if h.Symbol == "" {
		return errors.New("holding symbol is required")
	}

	payload, err := json.Marshal(h)
	if err != nil {
		return errors.Wrap(err, "marshal holding")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.append(holdingKeyPrefix+h.Symbol, payload); err != nil {
		return err
	}
	s.holdings[h.Symbol] = h
	s.maybeSnapshot()

	return nil
}

// SaveOrder appends the current state of an order record.
func (s *WALStore) SaveOrder(rec domain.OrderRecord) error {
	if rec.Intent.ID == "" {
		return errors.New("order record id is required")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal order record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.append(orderKeyPrefix+rec.Intent.ID, payload); err != nil {
		return err
	}
	s.orders[rec.Intent.ID] = rec
	s.maybeSnapshot()

	return nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

func (s *WALStore) append(key string, payload []byte) error {
	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, key, payload); err != nil {
		return errors.Wrapf(err, "write ledger record %s", key)
	}
	s.writes++
	return nil
}

// maybeSnapshot rewrites the live state once enough records accumulated.
// Closed orders are dropped from the snapshot.
func (s *WALStore) maybeSnapshot() {
	if s.writes < snapshotEvery {
		return
	}

	snap := snapshot{
		Holdings: make([]domain.Holding, 0, len(s.holdings)),
		Orders:   make([]domain.OrderRecord, 0),
	}
	for _, h := range s.holdings {
		snap.Holdings = append(snap.Holdings, h)
	}
	for id, rec := range s.orders {
		if !rec.IsOpen() {
			delete(s.orders, id)
			continue
		}
		snap.Orders = append(snap.Orders, rec)
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		s.l.Error("failed to marshal ledger snapshot", zap.Error(err))
		return
	}

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, snapshotKey, payload); err != nil {
		s.l.Error("failed to write ledger snapshot", zap.Error(err))
		return
	}
	s.writes = 0
}
