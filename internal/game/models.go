package game

import (
	"time"
)

const (
	ResultWin  = "win"
	ResultLoss = "loss"
)

const (
	PayoutNA      = "n/a"
	PayoutPending = "pending"
	PayoutSent    = "sent"
	PayoutFailed  = "failed"
)

const PayoutMethodNone = "none"

// Game is one resolved roll. Rows are written once and only PayoutStatus
// ever changes afterwards.
type Game struct {
	GameID         string    `gorm:"column:game_id;primaryKey;type:varchar(36)"`
	Target         int       `gorm:"column:target;not null"`
	BetSats        int64     `gorm:"column:bet_sats;not null"`
	Multiplier     float64   `gorm:"column:multiplier;not null"`
	PayoutSats     int64     `gorm:"column:payout_sats;not null"`
	Roll           int       `gorm:"column:roll;not null"`
	Result         string    `gorm:"column:result;type:varchar(4);not null"` // "win", "loss"
	ServerSeedHash string    `gorm:"column:server_seed_hash;type:varchar(64);not null"`
	ServerSeed     string    `gorm:"column:server_seed;type:varchar(64);not null"`
	ClientEntropy  string    `gorm:"column:client_entropy;type:varchar(255);not null;uniqueIndex"`
	PayoutMethod   string    `gorm:"column:payout_method;type:varchar(255);not null"`
	PayoutStatus   string    `gorm:"column:payout_status;type:varchar(10);not null"` // "n/a", "pending", "sent", "failed"
	PlayerID       string    `gorm:"column:player_id;type:varchar(64);not null;default:'';index"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;index"`
}

func (g *Game) Won() bool {
	return g.Result == ResultWin
}

type RollRequest struct {
	Target       int
	BetSats      int64
	PayoutMethod string
	PlayerID     string
	Entropy      string
}

type Stats struct {
	TotalGames    int64     `json:"total_games"`
	TotalWagered  int64     `json:"total_wagered_sats"`
	TotalPaidOut  int64     `json:"total_paid_out_sats"`
	UniquePlayers int64     `json:"unique_players"`
	BiggestWin    int64     `json:"biggest_win_sats"`
	Last24h       WindowAgg `json:"last_24h"`
}

type WindowAgg struct {
	Games  int64 `json:"games"`
	Volume int64 `json:"volume_sats"`
}

type LeaderboardEntry struct {
	PlayerID   string `json:"player"`
	Games      int64  `json:"games"`
	Wagered    int64  `json:"wagered_sats"`
	Won        int64  `json:"won_sats"`
	NetProfit  int64  `json:"net_profit_sats"`
	BiggestWin int64  `json:"biggest_win_sats"`
}

type Verification struct {
	Game     *Game
	Verified bool
	Reason   string
	// Result is recomputed from the roll, not copied from the row.
	Result string
}
