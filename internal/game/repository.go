package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	ErrGameNotFound     = errors.New("game not found")
	ErrGameIDCollision  = errors.New("game id already recorded")
	ErrEntropyReused    = errors.New("entropy already used by another game")
	ErrPayoutTransition = errors.New("payout status transition not allowed")
)

type GameRepository interface {
	Create(ctx context.Context, tx *gorm.DB, g *Game) error
	GetInTx(ctx context.Context, tx *gorm.DB, gameID string) (*Game, error)
	GetByID(ctx context.Context, gameID string) (*Game, error)
	Stats(ctx context.Context, since time.Time) (*Stats, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	Recent(ctx context.Context, limit int) ([]Game, error)
	UpdatePayoutStatus(ctx context.Context, gameID string, from string, to string) error
}

type GameRepositoryImpl struct {
	db *gorm.DB
}

func NewGameRepository(db *gorm.DB) *GameRepositoryImpl {
	return &GameRepositoryImpl{db: db}
}

// Create inserts g inside tx. It never updates an existing row: a reused
// entropy value or an id clash is reported as an error.
func (r *GameRepositoryImpl) Create(ctx context.Context, tx *gorm.DB, g *Game) error {
	used, err := r.entropyUsed(ctx, tx, g.ClientEntropy)
	if err != nil {
		return err
	}
	if used {
		return ErrEntropyReused
	}

	// The insert runs under a savepoint so a constraint violation leaves tx
	// usable for classifying it.
	err = tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		return sp.Create(g).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.classifyDuplicate(ctx, tx, g)
		}
		return fmt.Errorf("failed to create game: %w", err)
	}
	return nil
}

// classifyDuplicate tells an entropy replay that raced past the pre-check
// apart from a game id clash.
func (r *GameRepositoryImpl) classifyDuplicate(ctx context.Context, tx *gorm.DB, g *Game) error {
	used, err := r.entropyUsed(ctx, tx, g.ClientEntropy)
	if err != nil {
		return err
	}
	if used {
		return ErrEntropyReused
	}
	return ErrGameIDCollision
}

func (r *GameRepositoryImpl) entropyUsed(ctx context.Context, db *gorm.DB, entropy string) (bool, error) {
	var used int64
	err := db.WithContext(ctx).
		Model(&Game{}).
		Where("client_entropy = ?", entropy).
		Count(&used).Error
	if err != nil {
		return false, fmt.Errorf("failed to check entropy: %w", err)
	}
	return used > 0, nil
}

func (r *GameRepositoryImpl) GetInTx(ctx context.Context, tx *gorm.DB, gameID string) (*Game, error) {
	var g Game
	err := tx.WithContext(ctx).Where("game_id = ?", gameID).First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return &g, nil
}

func (r *GameRepositoryImpl) GetByID(ctx context.Context, gameID string) (*Game, error) {
	return r.GetInTx(ctx, r.db, gameID)
}

type totalsRow struct {
	TotalGames    int64
	TotalWagered  int64
	TotalPaidOut  int64
	UniquePlayers int64
	BiggestWin    int64
}

func (r *GameRepositoryImpl) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	var totals totalsRow
	err := r.db.WithContext(ctx).
		Model(&Game{}).
		Select(`COUNT(*) AS total_games,
			CAST(COALESCE(SUM(bet_sats), 0) AS BIGINT) AS total_wagered,
			CAST(COALESCE(SUM(payout_sats), 0) AS BIGINT) AS total_paid_out,
			COUNT(DISTINCT NULLIF(player_id, '')) AS unique_players,
			CAST(COALESCE(MAX(payout_sats), 0) AS BIGINT) AS biggest_win`).
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate games: %w", err)
	}

	var window WindowAgg
	err = r.db.WithContext(ctx).
		Model(&Game{}).
		Select("COUNT(*) AS games, CAST(COALESCE(SUM(bet_sats), 0) AS BIGINT) AS volume").
		Where("created_at >= ?", since.UTC()).
		Scan(&window).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate recent games: %w", err)
	}

	return &Stats{
		TotalGames:    totals.TotalGames,
		TotalWagered:  totals.TotalWagered,
		TotalPaidOut:  totals.TotalPaidOut,
		UniquePlayers: totals.UniquePlayers,
		BiggestWin:    totals.BiggestWin,
		Last24h:       window,
	}, nil
}

// Leaderboard ranks named players by net profit, ties by player id so the
// order is stable. Anonymous games are left out.
func (r *GameRepositoryImpl) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	var entries []LeaderboardEntry
	err := r.db.WithContext(ctx).
		Model(&Game{}).
		Select(`player_id,
			COUNT(*) AS games,
			CAST(SUM(bet_sats) AS BIGINT) AS wagered,
			CAST(SUM(payout_sats) AS BIGINT) AS won,
			CAST(SUM(payout_sats) - SUM(bet_sats) AS BIGINT) AS net_profit,
			CAST(MAX(payout_sats) AS BIGINT) AS biggest_win`).
		Where("player_id <> ?", "").
		Group("player_id").
		Order("net_profit DESC, player_id ASC").
		Limit(limit).
		Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to build leaderboard: %w", err)
	}
	return entries, nil
}

func (r *GameRepositoryImpl) Recent(ctx context.Context, limit int) ([]Game, error) {
	var games []Game
	err := r.db.WithContext(ctx).
		Order("created_at DESC, game_id DESC").
		Limit(limit).
		Find(&games).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent games: %w", err)
	}
	return games, nil
}

// UpdatePayoutStatus moves a game from one payout status to another.
// Repeating a transition that already happened is a no-op.
func (r *GameRepositoryImpl) UpdatePayoutStatus(ctx context.Context, gameID string, from string, to string) error {
	result := r.db.WithContext(ctx).
		Model(&Game{}).
		Where("game_id = ? AND payout_status = ?", gameID, from).
		Update("payout_status", to)
	if result.Error != nil {
		return fmt.Errorf("failed to update payout status: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	g, err := r.GetByID(ctx, gameID)
	if err != nil {
		return err
	}
	if g.PayoutStatus == to {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s (current %s)", ErrPayoutTransition, from, to, g.PayoutStatus)
}
