// Package memory implements the domain stores with in-process maps. Paper
// trading runs on it so no database is needed to try the engine out.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"signalrunner/internal/domain"
)

// PositionStore implements domain.PositionStore in memory.
type PositionStore struct {
	mu   sync.RWMutex
	byID map[string]domain.Position
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates an empty in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{byID: make(map[string]domain.Position)}
}

func (s *PositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[pos.ID]; ok {
		return fmt.Errorf("memory: position %s: %w", pos.ID, domain.ErrAlreadyExists)
	}
	s.byID[pos.ID] = pos
	return nil
}

func (s *PositionStore) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[pos.ID]; !ok {
		return fmt.Errorf("memory: position %s: %w", pos.ID, domain.ErrNotFound)
	}
	s.byID[pos.ID] = pos
	return nil
}

func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.byID[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", id, domain.ErrNotFound)
	}
	return pos, nil
}

func (s *PositionStore) ListOpen(context.Context) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, pos := range s.byID {
		if !pos.Status.Terminal() {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *PositionStore) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, pos := range s.byID {
		if pos.UserID == userID {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

// RiskConfigStore implements domain.RiskConfigStore in memory.
type RiskConfigStore struct {
	mu   sync.RWMutex
	cfgs map[string]domain.UserRiskConfig
}

var _ domain.RiskConfigStore = (*RiskConfigStore)(nil)

// NewRiskConfigStore creates an empty in-memory risk config store.
func NewRiskConfigStore() *RiskConfigStore {
	return &RiskConfigStore{cfgs: make(map[string]domain.UserRiskConfig)}
}

func riskKey(userID, venue string) string { return userID + "|" + venue }

func (s *RiskConfigStore) Upsert(_ context.Context, cfg domain.UserRiskConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("memory: upsert risk config: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfgs[riskKey(cfg.UserID, cfg.Venue)] = cfg
	return nil
}

func (s *RiskConfigStore) Get(_ context.Context, userID, venue string) (domain.UserRiskConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.cfgs[riskKey(userID, venue)]
	if !ok {
		return domain.UserRiskConfig{}, fmt.Errorf("memory: risk config %s/%s: %w", userID, venue, domain.ErrNotFound)
	}
	return cfg, nil
}

// TradeStore implements domain.TradeStore in memory.
type TradeStore struct {
	mu   sync.RWMutex
	recs []domain.TradeRecord
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates an empty in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{}
}

func (s *TradeStore) Insert(_ context.Context, rec domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *TradeStore) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TradeRecord
	for _, rec := range s.recs {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginateTrades(out, opts), nil
}

func paginate(in []domain.Position, opts domain.ListOpts) []domain.Position {
	if opts.Offset >= len(in) {
		return nil
	}
	in = in[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(in) {
		in = in[:opts.Limit]
	}
	return in
}

func paginateTrades(in []domain.TradeRecord, opts domain.ListOpts) []domain.TradeRecord {
	if opts.Offset >= len(in) {
		return nil
	}
	in = in[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(in) {
		in = in[:opts.Limit]
	}
	return in
}
