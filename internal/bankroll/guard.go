package bankroll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dice_service/internal/logger"
	"dice_service/internal/odds"
	"dice_service/internal/retry"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrStakeOutOfRange   = errors.New("stake outside allowed range")
	ErrStakeAboveCeiling = errors.New("stake exceeds current max bet")
	ErrHousePaused       = errors.New("house is paused")
)

const (
	PersistInitialInterval = 20 * time.Millisecond
	PersistMaxElapsed      = 2 * time.Second
)

// Rejection is returned when a stake is not admitted. MaxBet is the
// effective ceiling at the time of the check.
type Rejection struct {
	Err    error
	MaxBet int64
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%v (max bet %d sats)", r.Err, r.MaxBet)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// SettleFunc resolves one wager inside the bankroll transaction and
// returns the house's net gain (negative when the player wins).
type SettleFunc func(tx *gorm.DB) (int64, error)

// Guard bounds stakes against the house bankroll. Admission and the
// bankroll update of a wager happen under one lock and one transaction, so
// two wagers can never both spend the same headroom.
type Guard struct {
	db           *gorm.DB
	repo         Repository
	limits       Limits
	calc         odds.Calculator
	persistLimit time.Duration

	mu sync.Mutex
}

func NewGuard(db *gorm.DB, repo Repository, limits Limits, calc odds.Calculator) *Guard {
	if limits.SafetyFactor < 1 {
		limits.SafetyFactor = 1
	}
	return &Guard{
		db:           db,
		repo:         repo,
		limits:       limits,
		calc:         calc,
		persistLimit: PersistMaxElapsed,
	}
}

// WithPersistLimit bounds how long Wager keeps retrying a failed commit.
func (g *Guard) WithPersistLimit(d time.Duration) *Guard {
	if d > 0 {
		g.persistLimit = d
	}
	return g
}

// DynamicMaxBet sizes the largest stake whose worst-case payout the
// bankroll covers safetyFactor times over. The worst case is always the
// min target, whatever the wager's own target is.
func (g *Guard) DynamicMaxBet(balance int64) int64 {
	if balance <= 0 {
		return 0
	}
	return decimal.NewFromInt(balance).
		Div(decimal.NewFromFloat(g.calc.WorstCaseMultiplier())).
		Div(decimal.NewFromFloat(g.limits.SafetyFactor)).
		Floor().
		IntPart()
}

func (g *Guard) MaxBet(balance int64) int64 {
	return min(g.limits.MaxBet, g.DynamicMaxBet(balance))
}

func (g *Guard) InRange(stake int64) bool {
	return stake >= g.limits.MinBet && stake <= g.limits.MaxBet
}

func (g *Guard) Paused(balance int64) bool {
	return balance <= g.limits.PauseThreshold
}

func (g *Guard) Admit(stake, balance int64) error {
	maxBet := g.MaxBet(balance)
	if !g.InRange(stake) {
		return &Rejection{Err: ErrStakeOutOfRange, MaxBet: maxBet}
	}
	if g.Paused(balance) {
		return &Rejection{Err: ErrHousePaused, MaxBet: 0}
	}
	if stake > maxBet {
		return &Rejection{Err: ErrStakeAboveCeiling, MaxBet: maxBet}
	}
	return nil
}

func (g *Guard) Status(ctx context.Context) (*Status, error) {
	b, err := g.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	s := &Status{
		Balance: b.Balance,
		Paused:  g.Paused(b.Balance),
		MinBet:  g.limits.MinBet,
		MaxBet:  g.MaxBet(b.Balance),
	}
	if s.Paused {
		s.MaxBet = 0
	}
	return s, nil
}

// Wager admits stake and runs settle and the bankroll update in one
// transaction. A failed commit is retried with the same settle func until
// persistLimit passes; a rejection is returned at once, including a
// settlement the bankroll cannot cover. Cancelling ctx
// does not abort a wager that has been admitted.
func (g *Guard) Wager(ctx context.Context, stake int64, settle SettleFunc) error {
	ctx = context.WithoutCancel(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	return retry.Exponential(ctx, func() error {
		return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			b, err := g.repo.GetForUpdate(ctx, tx)
			if errors.Is(err, ErrBankrollNotFound) {
				return retry.Permanent(err)
			}
			if err != nil {
				return err
			}
			if err := g.Admit(stake, b.Balance); err != nil {
				return retry.Permanent(err)
			}
			delta, err := settle(tx)
			if err != nil {
				return err
			}
			if err := g.repo.Apply(ctx, tx, b, delta); err != nil {
				if errors.Is(err, ErrNegativeBalance) {
					return retry.Permanent(&Rejection{
						Err:    fmt.Errorf("%w: %w", ErrStakeAboveCeiling, err),
						MaxBet: g.MaxBet(b.Balance),
					})
				}
				return err
			}
			return nil
		})
	}, retry.ExponentialConfig{
		InitialInterval: PersistInitialInterval,
		MaxElapsedTime:  g.persistLimit,
		OnRetry: func(err error, next time.Duration) {
			logger.Warn("Wager commit failed, retrying", "stake", stake, "next", next, "error", err)
		},
	})
}
