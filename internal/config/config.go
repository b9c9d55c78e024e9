package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config gathers every tunable timing and threshold in one place so the
// various grace windows and retry caps can be adjusted per deployment
// instead of living as scattered constants.
type Config struct {
	Addr          string
	PostgresURL   string
	SettlementURL string

	// ConnectionMonitor
	HeartbeatInterval time.Duration
	HeartbeatWindow   int
	GreenMaxRTT       time.Duration
	GreenMaxLoss      float64
	YellowMaxRTT      time.Duration

	// SyncCoordinator
	LagCompThreshold time.Duration
	ConflictYellowAt int
	ConflictRedAt    int

	// ReconnectionManager
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ForfeitGrace         time.Duration

	// Match
	MatchDuration time.Duration

	// ResultReconciler
	SettleMaxAttempts int
	SettleBaseDelay   time.Duration

	// Party / queue orchestration
	PartySize      int
	PollInterval   time.Duration
	StaleMarkerTTL time.Duration
	RedirectGrace  time.Duration
}

// Default returns the configuration used when no env overrides are set.
func Default() Config {
	return Config{
		Addr:          ":8080",
		SettlementURL: "http://localhost:9090/results",

		HeartbeatInterval: 2 * time.Second,
		HeartbeatWindow:   10,
		GreenMaxRTT:       100 * time.Millisecond,
		GreenMaxLoss:      0.01,
		YellowMaxRTT:      300 * time.Millisecond,

		LagCompThreshold: 150 * time.Millisecond,
		ConflictYellowAt: 3,
		ConflictRedAt:    10,

		ReconnectMaxAttempts: 5,
		ReconnectBaseDelay:   500 * time.Millisecond,
		ReconnectMaxDelay:    8 * time.Second,
		ForfeitGrace:         15 * time.Second,

		MatchDuration: 60 * time.Second,

		SettleMaxAttempts: 4,
		SettleBaseDelay:   time.Second,

		PartySize:      5,
		PollInterval:   5 * time.Second,
		StaleMarkerTTL: 30 * time.Second,
		RedirectGrace:  5 * time.Second,
	}
}

// FromEnv starts from Default and applies any MD_* environment overrides.
func FromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv("MD_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("MD_POSTGRES_URL"); v != "" {
		cfg.PostgresURL = v
	}
	if v := os.Getenv("MD_SETTLEMENT_URL"); v != "" {
		cfg.SettlementURL = v
	}

	var err error
	set := func(name string, dst *time.Duration) {
		if err != nil {
			return
		}
		if v := os.Getenv(name); v != "" {
			d, perr := time.ParseDuration(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", name, perr)
				return
			}
			*dst = d
		}
	}
	setInt := func(name string, dst *int) {
		if err != nil {
			return
		}
		if v := os.Getenv(name); v != "" {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", name, perr)
				return
			}
			*dst = n
		}
	}

	set("MD_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	setInt("MD_HEARTBEAT_WINDOW", &cfg.HeartbeatWindow)
	set("MD_GREEN_MAX_RTT", &cfg.GreenMaxRTT)
	set("MD_YELLOW_MAX_RTT", &cfg.YellowMaxRTT)
	set("MD_LAG_COMP_THRESHOLD", &cfg.LagCompThreshold)
	setInt("MD_RECONNECT_MAX_ATTEMPTS", &cfg.ReconnectMaxAttempts)
	set("MD_RECONNECT_BASE_DELAY", &cfg.ReconnectBaseDelay)
	set("MD_RECONNECT_MAX_DELAY", &cfg.ReconnectMaxDelay)
	set("MD_FORFEIT_GRACE", &cfg.ForfeitGrace)
	set("MD_MATCH_DURATION", &cfg.MatchDuration)
	setInt("MD_SETTLE_MAX_ATTEMPTS", &cfg.SettleMaxAttempts)
	set("MD_SETTLE_BASE_DELAY", &cfg.SettleBaseDelay)
	setInt("MD_PARTY_SIZE", &cfg.PartySize)
	set("MD_POLL_INTERVAL", &cfg.PollInterval)
	set("MD_STALE_MARKER_TTL", &cfg.StaleMarkerTTL)
	set("MD_REDIRECT_GRACE", &cfg.RedirectGrace)

	if v := os.Getenv("MD_GREEN_MAX_LOSS"); v != "" && err == nil {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			err = fmt.Errorf("MD_GREEN_MAX_LOSS: %w", perr)
		} else {
			cfg.GreenMaxLoss = f
		}
	}

	return cfg, err
}
