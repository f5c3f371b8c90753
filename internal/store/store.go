package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dasim/internal/agent"
	"dasim/internal/common"
	"dasim/internal/sim"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Run is the metadata of one simulation run.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	Model      string     `json:"model"`
	Seed       int64      `json:"seed"`
	Rounds     int        `json:"rounds"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Stats      sim.Stats  `json:"stats"`
}

// Store persists runs, their price history, trades and final standings in
// pebble. Values are JSON.
type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store backed by an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SaveRun(run Run) error {
	return s.put(runKey(run.ID), run, pebble.Sync)
}

func (s *Store) LoadRun(id uuid.UUID) (*Run, error) {
	var run Run
	if err := s.get(runKey(id), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Runs lists every stored run, ordered by id.
func (s *Store) Runs() ([]Run, error) {
	return scan[Run](s, []byte(prefixRun))
}

func (s *Store) SavePoint(run uuid.UUID, p sim.PricePoint) error {
	return s.put(historyKey(run, p.Round), p, pebble.NoSync)
}

// LoadHistory returns the price series of run in round order.
func (s *Store) LoadHistory(run uuid.UUID) ([]sim.PricePoint, error) {
	return scan[sim.PricePoint](s, historyPrefix(run))
}

func (s *Store) SaveTrade(run uuid.UUID, trade common.Trade) error {
	return s.put(tradeKey(run, trade.Seq), trade, pebble.NoSync)
}

// LoadTrades returns the trades of run in execution order.
func (s *Store) LoadTrades(run uuid.UUID) ([]common.Trade, error) {
	return scan[common.Trade](s, tradePrefix(run))
}

// SaveRound writes a round's price point and trades in one batch.
func (s *Store) SaveRound(run uuid.UUID, p sim.PricePoint, trades []common.Trade) error {
	b := s.db.NewBatch()
	defer b.Close()

	if err := setJSON(b, historyKey(run, p.Round), p); err != nil {
		return err
	}
	for _, trade := range trades {
		if err := setJSON(b, tradeKey(run, trade.Seq), trade); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save round %d: %w", p.Round, err)
	}
	return nil
}

// SaveResults writes the final standings of run in one batch.
func (s *Store) SaveResults(run uuid.UUID, results []agent.Result) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, r := range results {
		if err := setJSON(b, agentKey(run, r.ID), r); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	return nil
}

// LoadResults returns the final standings of run ordered by trader id.
func (s *Store) LoadResults(run uuid.UUID) ([]agent.Result, error) {
	return scan[agent.Result](s, agentPrefix(run))
}

func (s *Store) put(key []byte, v any, opts *pebble.WriteOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.db.Set(key, data, opts); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(key []byte, v any) error {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.Set(key, data, nil)
}

// scan decodes every value under prefix in key order.
func scan[T any](s *Store, prefix []byte) ([]T, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := []T{}
	for iter.First(); iter.Valid(); iter.Next() {
		var v T
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", iter.Key(), err)
		}
		out = append(out, v)
	}
	return out, iter.Error()
}
