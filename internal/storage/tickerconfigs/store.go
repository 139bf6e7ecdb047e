// Package tickerconfigs holds per-symbol trading parameters.
package tickerconfigs

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

const (
	segmentLimit = 100
	maxSegments  = 10
	// snapshotEvery keeps a full copy inside the retained segments.
	snapshotEvery = 64

	setKeyPrefix   = "ticker_set_"
	unsetKeyPrefix = "ticker_unset_"
	snapshotKey    = "ticker_snapshot"
)

// Store is a concurrency-safe map of TickerConfig keyed by symbol.
// With a WAL every mutation is appended and replayed on open.
type Store struct {
	mu      sync.RWMutex
	configs map[string]domain.TickerConfig
	wal     *gowal.Wal
	writes  int
	now     func() time.Time
	l       *zap.Logger
}

// NewMemoryStore creates a store without persistence.
func NewMemoryStore() *Store {
	return &Store{
		configs: make(map[string]domain.TickerConfig),
		now:     time.Now,
		l:       zap.NewNop(),
	}
}

// NewWALStore opens (or creates) a persisted store in dir and replays it.
func NewWALStore(dir string, l *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("ticker config dir is required")
	}
	if l == nil {
		l = zap.NewNop()
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "tickers_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init ticker config WAL")
	}

	s := NewMemoryStore()
	s.wal = wal
	s.l = l

	for msg := range wal.Iterator() {
		switch {
		case msg.Key == snapshotKey:
			var snapshot []domain.TickerConfig
			if err := json.Unmarshal(msg.Value, &snapshot); err != nil {
				l.Error("failed to unmarshal ticker snapshot", zap.Error(err))
				continue
			}
			s.configs = make(map[string]domain.TickerConfig, len(snapshot))
			for _, cfg := range snapshot {
				s.configs[cfg.Symbol] = cfg
			}
		case strings.HasPrefix(msg.Key, setKeyPrefix):
			var cfg domain.TickerConfig
			if err := json.Unmarshal(msg.Value, &cfg); err != nil {
				l.Error("failed to unmarshal ticker config", zap.Error(err), zap.String("key", msg.Key))
				continue
			}
			s.configs[cfg.Symbol] = cfg
		case strings.HasPrefix(msg.Key, unsetKeyPrefix):
			delete(s.configs, strings.TrimPrefix(msg.Key, unsetKeyPrefix))
		}
	}

	l.Info("ticker configs restored", zap.Int("count", len(s.configs)))

	return s, nil
}

// Set validates and upserts the parameters of a symbol.
func (s *Store) Set(symbol string, params domain.TickerParams) (domain.TickerConfig, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return domain.TickerConfig{}, errors.Wrap(domain.ErrInvalidParameter, "symbol is required")
	}
	if err := params.Validate(); err != nil {
		return domain.TickerConfig{}, err
	}

	cfg := domain.TickerConfig{Symbol: symbol, TickerParams: params, UpdatedAt: s.now()}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wal != nil {
		payload, err := json.Marshal(cfg)
		if err != nil {
			return domain.TickerConfig{}, errors.Wrap(err, "marshal ticker config")
		}
		if err := s.append(setKeyPrefix+symbol, payload); err != nil {
			return domain.TickerConfig{}, err
		}
	}

	s.configs[symbol] = cfg
	s.maybeSnapshot()

	return cfg, nil
}

// Get returns the config of a symbol or domain.ErrNotFound.
func (s *Store) Get(symbol string) (domain.TickerConfig, error) {
	symbol = domain.NormalizeSymbol(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[symbol]
	if !ok {
		return domain.TickerConfig{}, errors.Wrapf(domain.ErrNotFound, "ticker %s", symbol)
	}
	return cfg, nil
}

// Unset removes the config of a symbol.
func (s *Store) Unset(symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[symbol]; !ok {
		return errors.Wrapf(domain.ErrNotFound, "ticker %s", symbol)
	}

	if s.wal != nil {
		if err := s.append(unsetKeyPrefix+symbol, []byte(symbol)); err != nil {
			return err
		}
	}

	delete(s.configs, symbol)
	s.maybeSnapshot()

	return nil
}

// List returns all configs sorted by symbol.
func (s *Store) List() []domain.TickerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TickerConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })

	return out
}

// Close closes the underlying WAL.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wal == nil {
		return nil
	}
	return s.wal.Close()
}

// append must be called with mu held.
func (s *Store) append(key string, payload []byte) error {
	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, key, payload); err != nil {
		return errors.Wrap(err, "write ticker config WAL")
	}
	s.writes++
	return nil
}

// maybeSnapshot must be called with mu held.
func (s *Store) maybeSnapshot() {
	if s.wal == nil || s.writes < snapshotEvery {
		return
	}

	snapshot := make([]domain.TickerConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		snapshot = append(snapshot, cfg)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.l.Error("failed to marshal ticker snapshot", zap.Error(err))
		return
	}

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, snapshotKey, payload); err != nil {
		s.l.Error("failed to write ticker snapshot", zap.Error(err))
		return
	}
	s.writes = 0
}
