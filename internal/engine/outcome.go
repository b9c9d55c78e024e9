package engine

import "errors"

var ErrMatchNotEnded = errors.New("match not ended")

// Reward amounts in duel currency. A forfeit win pays a fixed amount that
// is deliberately not the normal win reward.
const (
	RewardWin        = 100
	RewardForfeitWin = 70
	RewardDraw       = 50
)

type Outcome struct {
	WinnerID    string
	LoserID     string
	WinnerScore int
	LoserScore  int
	IsDraw      bool
	Forfeit     bool
	Reward      int
}

// ComputeOutcome settles who won from terminal state. Forfeits grant the
// remaining player the win independent of score. Draws fill the
// winner/loser slots by lexicographic player id so repeated computations
// for the same match serialize identically.
func ComputeOutcome(s State) (Outcome, error) {
	if s.Phase != PhaseEnded {
		return Outcome{}, ErrMatchNotEnded
	}

	home := s.Players[SideHome]
	away := s.Players[SideAway]

	if s.ForfeitBy != "" {
		winner := s.Players[Opponent(s.ForfeitBy)]
		loser := s.Players[s.ForfeitBy]
		return Outcome{
			WinnerID:    winner.ID,
			LoserID:     loser.ID,
			WinnerScore: winner.Score,
			LoserScore:  loser.Score,
			Forfeit:     true,
			Reward:      RewardForfeitWin,
		}, nil
	}

	switch {
	case home.Score > away.Score:
		return Outcome{WinnerID: home.ID, LoserID: away.ID, WinnerScore: home.Score, LoserScore: away.Score, Reward: RewardWin}, nil
	case away.Score > home.Score:
		return Outcome{WinnerID: away.ID, LoserID: home.ID, WinnerScore: away.Score, LoserScore: home.Score, Reward: RewardWin}, nil
	default:
		first, second := home, away
		if second.ID < first.ID {
			first, second = second, first
		}
		return Outcome{
			WinnerID:    first.ID,
			LoserID:     second.ID,
			WinnerScore: first.Score,
			LoserScore:  second.Score,
			IsDraw:      true,
			Reward:      RewardDraw,
		}, nil
	}
}

// PlayerStats is the per-player performance block attached to settlement.
type PlayerStats struct {
	PlayerID          string  `json:"player_id"`
	Score             int     `json:"score"`
	MaxStreak         int     `json:"max_streak"`
	QuestionsAnswered int     `json:"questions_answered"`
	Accuracy          float64 `json:"accuracy"`
}

// Stats derives performance statistics for both players. Accuracy counts
// every forwarded submission, correct or not, which is why wrong answers
// are still sent to the server.
func Stats(s State) []PlayerStats {
	out := make([]PlayerStats, 0, 2)
	for _, side := range []Side{SideHome, SideAway} {
		p := s.Players[side]
		st := PlayerStats{
			PlayerID:          p.ID,
			Score:             p.Score,
			MaxStreak:         p.MaxStreak,
			QuestionsAnswered: p.QuestionsAnswered,
		}
		if p.QuestionsAnswered > 0 {
			st.Accuracy = float64(p.Score) / float64(p.QuestionsAnswered)
		}
		out = append(out, st)
	}
	return out
}
