package store

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PartyRecord is the persisted shape of a party. Members and pending
// invites are stored as JSON columns; the record is keyed by the party
// code.
type PartyRecord struct {
	ID             string `gorm:"primaryKey"`
	LeaderID       string
	IGLID          string
	AnchorID       string
	QueueStatus    string
	LinkedTeamID   string
	Visibility     string
	RequiredSize   int
	RolesConfirmed bool
	Members        []MemberRecord `gorm:"serializer:json"`
	PendingInvites []string       `gorm:"serializer:json"`
	Version        int64
	UpdatedAt      time.Time
}

type MemberRecord struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsLeader    bool   `json:"is_leader"`
	IsReady     bool   `json:"is_ready"`
	IsIGL       bool   `json:"is_igl"`
	IsAnchor    bool   `json:"is_anchor"`
}

// SettlementRecord is the server-side settlement ledger row. The match id
// primary key plus upsert-on-conflict writes make recording idempotent:
// a duplicate settlement for the same match overwrites rather than
// double-counts.
type SettlementRecord struct {
	MatchID        string `gorm:"primaryKey"`
	State          string
	WinnerID       string
	LoserID        string
	WinnerScore    int
	LoserScore     int
	Operation      string
	Mode           string
	Integrity      string
	Ranked         bool
	IsDraw         bool
	Forfeit        bool
	Reward         int
	RatingChange   int
	CurrencyEarned int
	Stats          []PlayerStatsRecord `gorm:"serializer:json"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type PlayerStatsRecord struct {
	PlayerID          string  `json:"player_id"`
	Score             int     `json:"score"`
	MaxStreak         int     `json:"max_streak"`
	QuestionsAnswered int     `json:"questions_answered"`
	Accuracy          float64 `json:"accuracy"`
}

// Open connects to postgres and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&PartyRecord{}, &SettlementRecord{}); err != nil {
		return nil, err
	}
	return db, nil
}
