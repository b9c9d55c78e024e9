package store

import (
	"context"
	"sync"

	"github.com/mathduel/backend/internal/party"
	"github.com/mathduel/backend/internal/settle"
)

// Memory backs the same interfaces as the postgres stores with in-process
// maps. Tests and DSN-less development runs use it.
type Memory struct {
	mu          sync.Mutex
	parties     map[string]party.Party
	settlements map[string]SettlementRecord
}

func NewMemory() *Memory {
	return &Memory{
		parties:     make(map[string]party.Party),
		settlements: make(map[string]SettlementRecord),
	}
}

func (m *Memory) SaveParty(ctx context.Context, p party.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parties[p.ID] = p.Clone()
	return nil
}

func (m *Memory) LoadParty(ctx context.Context, id string) (party.Party, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parties[id]
	if !ok {
		return party.Party{}, false, nil
	}
	return p.Clone(), true, nil
}

func (m *Memory) DeleteParty(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.parties, id)
	return nil
}

func (m *Memory) Record(ctx context.Context, res settle.Result, rw settle.Reward, state settle.AttemptState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := SettlementRecord{
		MatchID:        res.MatchID,
		State:          string(state),
		WinnerID:       res.WinnerID,
		LoserID:        res.LoserID,
		WinnerScore:    res.WinnerScore,
		LoserScore:     res.LoserScore,
		Operation:      res.Operation,
		Mode:           res.Mode,
		Integrity:      res.MatchIntegrity,
		Ranked:         res.Ranked,
		IsDraw:         res.IsDraw,
		Forfeit:        res.Forfeit,
		Reward:         res.Reward,
		RatingChange:   rw.RatingChange,
		CurrencyEarned: rw.CurrencyEarned,
	}
	for _, ps := range res.PerformanceStats {
		rec.Stats = append(rec.Stats, PlayerStatsRecord{
			PlayerID:          ps.PlayerID,
			Score:             ps.Score,
			MaxStreak:         ps.MaxStreak,
			QuestionsAnswered: ps.QuestionsAnswered,
			Accuracy:          ps.Accuracy,
		})
	}
	m.settlements[res.MatchID] = rec
	return nil
}

func (m *Memory) Get(ctx context.Context, matchID string) (SettlementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.settlements[matchID]
	if !ok {
		return SettlementRecord{}, ErrSettlementNotFound
	}
	return rec, nil
}
