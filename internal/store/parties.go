package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mathduel/backend/internal/party"
)

// Parties persists party records in postgres. Satisfies party.Store.
type Parties struct {
	db *gorm.DB
}

func NewParties(db *gorm.DB) *Parties { return &Parties{db: db} }

func (s *Parties) SaveParty(ctx context.Context, p party.Party) error {
	rec := toPartyRecord(p)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
}

func (s *Parties) LoadParty(ctx context.Context, id string) (party.Party, bool, error) {
	var rec PartyRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return party.Party{}, false, nil
	}
	if err != nil {
		return party.Party{}, false, err
	}
	return fromPartyRecord(rec), true, nil
}

func (s *Parties) DeleteParty(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&PartyRecord{}, "id = ?", id).Error
}

func toPartyRecord(p party.Party) PartyRecord {
	rec := PartyRecord{
		ID:             p.ID,
		LeaderID:       p.LeaderID,
		IGLID:          p.IGLID,
		AnchorID:       p.AnchorID,
		QueueStatus:    string(p.QueueStatus),
		LinkedTeamID:   p.LinkedTeamID,
		Visibility:     p.Visibility,
		RequiredSize:   p.RequiredSize,
		RolesConfirmed: p.RolesConfirmed,
		PendingInvites: p.PendingInvites,
		Version:        p.Version,
	}
	for _, m := range p.Members {
		rec.Members = append(rec.Members, MemberRecord{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			IsLeader:    m.IsLeader,
			IsReady:     m.IsReady,
			IsIGL:       m.IsIGL,
			IsAnchor:    m.IsAnchor,
		})
	}
	return rec
}

func fromPartyRecord(rec PartyRecord) party.Party {
	p := party.Party{
		ID:             rec.ID,
		LeaderID:       rec.LeaderID,
		IGLID:          rec.IGLID,
		AnchorID:       rec.AnchorID,
		QueueStatus:    party.QueueStatus(rec.QueueStatus),
		LinkedTeamID:   rec.LinkedTeamID,
		Visibility:     rec.Visibility,
		RequiredSize:   rec.RequiredSize,
		RolesConfirmed: rec.RolesConfirmed,
		PendingInvites: rec.PendingInvites,
		Version:        rec.Version,
	}
	for _, m := range rec.Members {
		p.Members = append(p.Members, party.Member{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			IsLeader:    m.IsLeader,
			IsReady:     m.IsReady,
			IsIGL:       m.IsIGL,
			IsAnchor:    m.IsAnchor,
		})
	}
	return p
}
