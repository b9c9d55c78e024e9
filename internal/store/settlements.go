package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mathduel/backend/internal/settle"
)

var ErrSettlementNotFound = errors.New("settlement not found")

// Settlements is the postgres settlement ledger. Satisfies settle.Ledger.
type Settlements struct {
	db *gorm.DB
}

func NewSettlements(db *gorm.DB) *Settlements { return &Settlements{db: db} }

func (s *Settlements) Record(ctx context.Context, res settle.Result, rw settle.Reward, state settle.AttemptState) error {
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
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "match_id"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
}

// Get returns the ledger row for a match. Used by the out-of-band
// reconciliation path for attempts parked as abandoned.
func (s *Settlements) Get(ctx context.Context, matchID string) (SettlementRecord, error) {
	var rec SettlementRecord
	err := s.db.WithContext(ctx).First(&rec, "match_id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SettlementRecord{}, ErrSettlementNotFound
	}
	return rec, err
}
