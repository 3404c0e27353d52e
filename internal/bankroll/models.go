package bankroll

import "time"

// HouseBankrollID is the id of the single bankroll row.
const HouseBankrollID = 1

type Bankroll struct {
	BankrollID int       `gorm:"column:bankroll_id;primaryKey;autoIncrement:false"`
	Balance    int64     `gorm:"column:balance;not null;default:0"` // sats
	Version    int       `gorm:"column:version;not null;default:1"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

type Limits struct {
	MinBet         int64
	MaxBet         int64
	PauseThreshold int64
	SafetyFactor   float64
}

type Status struct {
	Balance int64 `json:"bankroll_sats"`
	Paused  bool  `json:"paused"`
	MinBet  int64 `json:"min_bet_sats"`
	MaxBet  int64 `json:"max_bet_sats"`
}
