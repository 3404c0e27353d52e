package bankroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBankrollNotFound = errors.New("bankroll not found")
	ErrOptimisticLock   = errors.New("optimistic lock error")
	ErrNegativeBalance  = errors.New("bankroll would go negative")
)

type Repository interface {
	Ensure(ctx context.Context, initial int64) (*Bankroll, error)
	Get(ctx context.Context) (*Bankroll, error)
	GetForUpdate(ctx context.Context, tx *gorm.DB) (*Bankroll, error)
	Apply(ctx context.Context, tx *gorm.DB, b *Bankroll, delta int64) error
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

// Ensure creates the house bankroll with the initial balance the first time
// the service starts. An existing row is left alone.
func (r *RepositoryImpl) Ensure(ctx context.Context, initial int64) (*Bankroll, error) {
	b := Bankroll{
		BankrollID: HouseBankrollID,
		Balance:    initial,
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&b).Error
	if err != nil {
		return nil, fmt.Errorf("failed to seed bankroll: %w", err)
	}
	return r.Get(ctx)
}

func (r *RepositoryImpl) Get(ctx context.Context) (*Bankroll, error) {
	var b Bankroll
	err := r.db.WithContext(ctx).Where("bankroll_id = ?", HouseBankrollID).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBankrollNotFound
		}
		return nil, fmt.Errorf("failed to get bankroll: %w", err)
	}
	return &b, nil
}

func (r *RepositoryImpl) GetForUpdate(ctx context.Context, tx *gorm.DB) (*Bankroll, error) {
	var b Bankroll
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("bankroll_id = ?", HouseBankrollID).
		First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBankrollNotFound
		}
		return nil, fmt.Errorf("failed to lock bankroll: %w", err)
	}
	return &b, nil
}

// Apply adds delta (house gain, negative for a house loss) to the row read
// as b. The version check catches writers that bypassed the row lock.
func (r *RepositoryImpl) Apply(ctx context.Context, tx *gorm.DB, b *Bankroll, delta int64) error {
	newBalance := b.Balance + delta
	if newBalance < 0 {
		return ErrNegativeBalance
	}

	result := tx.WithContext(ctx).
		Model(&Bankroll{}).
		Where("bankroll_id = ? AND version = ?", b.BankrollID, b.Version).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update bankroll: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	b.Balance = newBalance
	b.Version++
	return nil
}
