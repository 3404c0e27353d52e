package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"dice_service/internal/bankroll"
	"dice_service/internal/fairness"
	"dice_service/internal/odds"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	knownSeed    = "7f3a9c2e5b1d4086a2c4e6f8091b3d5f7a9cbedf1032547698badcfe13579bdf"
	knownEntropy = "entropy-56947" // derives roll 28441 with knownSeed
	richBankroll = int64(1_000_000_000)
)

var testLimits = bankroll.Limits{
	MinBet:         1,
	MaxBet:         100000,
	PauseThreshold: 1000,
	SafetyFactor:   2,
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, g *Game) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, g.GameID)
	return f.err
}

type serviceFixture struct {
	db      *gorm.DB
	repo    *GameRepositoryImpl
	bank    *bankroll.RepositoryImpl
	service *Service
}

func setUpService(t *testing.T, balance int64, opts ...Option) *serviceFixture {
	t.Helper()
	db := openTestDB(t)
	bank := bankroll.NewRepository(db)
	_, err := bank.Ensure(context.Background(), balance)
	require.NoError(t, err)

	calc := odds.NewCalculator(0.015)
	guard := bankroll.NewGuard(db, bank, testLimits, calc)
	repo := NewGameRepository(db)
	return &serviceFixture{
		db:      db,
		repo:    repo,
		bank:    bank,
		service: NewService(repo, guard, calc, opts...),
	}
}

func fixedSecret(t *testing.T) Option {
	s, err := fairness.ParseSecret(knownSeed)
	require.NoError(t, err)
	return WithSecretSource(func() fairness.Secret { return s })
}

func (f *serviceFixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.bank.Get(context.Background())
	require.NoError(t, err)
	return b.Balance
}

func TestRollWinScenario(t *testing.T) {
	f := setUpService(t, richBankroll, fixedSecret(t))

	g, err := f.service.Roll(context.Background(), RollRequest{
		Target:   32768,
		BetSats:  100,
		PlayerID: "  alice ",
		Entropy:  knownEntropy,
	})
	require.NoError(t, err)
	assert.Equal(t, 28441, g.Roll)
	assert.Equal(t, ResultWin, g.Result)
	assert.InDelta(t, 1.970, g.Multiplier, 0.001)
	assert.Equal(t, int64(197), g.PayoutSats)
	assert.Equal(t, PayoutNA, g.PayoutStatus)
	assert.Equal(t, PayoutMethodNone, g.PayoutMethod)
	assert.Equal(t, "alice", g.PlayerID)
	assert.Equal(t, knownSeed, g.ServerSeed)

	stored, err := f.repo.GetByID(context.Background(), g.GameID)
	require.NoError(t, err)
	assert.Equal(t, g.ServerSeedHash, stored.ServerSeedHash)
	assert.Equal(t, richBankroll+100-197, f.balance(t))
}

func TestRollLossScenario(t *testing.T) {
	f := setUpService(t, richBankroll, fixedSecret(t))

	g, err := f.service.Roll(context.Background(), RollRequest{
		Target:       1000,
		BetSats:      100,
		PayoutMethod: "lightning:alice@example.com",
		Entropy:      knownEntropy,
	})
	require.NoError(t, err)
	assert.Equal(t, 28441, g.Roll)
	assert.Equal(t, ResultLoss, g.Result)
	assert.Equal(t, int64(0), g.PayoutSats)
	assert.Equal(t, PayoutNA, g.PayoutStatus)
	assert.Equal(t, richBankroll+100, f.balance(t))
}

func TestRollValidation(t *testing.T) {
	f := setUpService(t, richBankroll)

	tests := []struct {
		name string
		req  RollRequest
		want error
	}{
		{"target zero", RollRequest{Target: 0, BetSats: 100, Entropy: "e"}, ErrInvalidTarget},
		{"target too large", RollRequest{Target: 65536, BetSats: 100, Entropy: "e"}, ErrInvalidTarget},
		{"bet zero", RollRequest{Target: 100, BetSats: 0, Entropy: "e"}, ErrInvalidBet},
		{"bet above max", RollRequest{Target: 100, BetSats: 100001, Entropy: "e"}, ErrInvalidBet},
		{"bet pays nothing", RollRequest{Target: 65535, BetSats: 1, Entropy: "e"}, ErrBetTooSmall},
		{"no entropy", RollRequest{Target: 100, BetSats: 100, Entropy: "  "}, ErrEntropyMissing},
		{"entropy too long", RollRequest{Target: 100, BetSats: 100, Entropy: strings.Repeat("e", MaxEntropyLen+1)}, ErrEntropyTooLong},
		{"payout method too long", RollRequest{Target: 100, BetSats: 100, Entropy: "e", PayoutMethod: strings.Repeat("m", MaxPayoutMethodLen+1)}, ErrInvalidPayout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Roll(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	stats, err := f.service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalGames)
}

func TestRollRejectsReusedEntropy(t *testing.T) {
	f := setUpService(t, richBankroll)
	req := RollRequest{Target: 32768, BetSats: 100, Entropy: "paid-once"}

	_, err := f.service.Roll(context.Background(), req)
	require.NoError(t, err)
	before := f.balance(t)

	_, err = f.service.Roll(context.Background(), req)
	assert.ErrorIs(t, err, ErrEntropyReused)
	assert.Equal(t, before, f.balance(t))
}

func TestRollAdmissionRejected(t *testing.T) {
	f := setUpService(t, richBankroll)

	_, err := f.service.Roll(context.Background(), RollRequest{Target: 32768, BetSats: 9000, Entropy: "e1"})
	assert.ErrorIs(t, err, bankroll.ErrStakeAboveCeiling)
	var rej *bankroll.Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, int64(7745), rej.MaxBet)

	paused := setUpService(t, 1000)
	_, err = paused.service.Roll(context.Background(), RollRequest{Target: 32768, BetSats: 1, Entropy: "e2"})
	assert.ErrorIs(t, err, bankroll.ErrHousePaused)

	stats, err := f.service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalGames)
}

func TestRollPayoutDelivery(t *testing.T) {
	tests := []struct {
		name   string
		sender *fakeSender
		method string
		want   string
	}{
		{"sent", &fakeSender{}, "lightning:alice@example.com", PayoutSent},
		{"failed", &fakeSender{err: errors.New("no route")}, "lightning:alice@example.com", PayoutFailed},
		{"no method", &fakeSender{}, "", PayoutNA},
		{"no sender", nil, "lightning:alice@example.com", PayoutPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []Option{fixedSecret(t)}
			if tt.sender != nil {
				opts = append(opts, WithPayoutSender(tt.sender, time.Second))
			}
			f := setUpService(t, richBankroll, opts...)

			g, err := f.service.Roll(context.Background(), RollRequest{
				Target:       32768,
				BetSats:      100,
				PayoutMethod: tt.method,
				Entropy:      knownEntropy,
			})
			require.NoError(t, err)
			require.Equal(t, ResultWin, g.Result)
			assert.Equal(t, tt.want, g.PayoutStatus)

			stored, err := f.repo.GetByID(context.Background(), g.GameID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored.PayoutStatus)
			assert.Equal(t, int64(197), stored.PayoutSats, "payout failure must not undo the win")
		})
	}
}

func TestVerifyStoredGame(t *testing.T) {
	f := setUpService(t, richBankroll)
	ctx := context.Background()

	g, err := f.service.Roll(ctx, RollRequest{Target: 40000, BetSats: 100, Entropy: "verify-me"})
	require.NoError(t, err)

	v, err := f.service.Verify(ctx, g.GameID)
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.Empty(t, v.Reason)
	assert.Equal(t, g.Result, v.Result)

	require.NoError(t, f.db.Model(&Game{}).Where("game_id = ?", g.GameID).
		Update("server_seed", fairness.NewSecret().Hex()).Error)
	v, err = f.service.Verify(ctx, g.GameID)
	require.NoError(t, err)
	assert.False(t, v.Verified)
	assert.Equal(t, fairness.ReasonSeedMismatch, v.Reason)

	_, err = f.service.Verify(ctx, "missing")
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestVerifyGameDetectsTamperedRoll(t *testing.T) {
	f := setUpService(t, richBankroll, fixedSecret(t))
	g, err := f.service.Roll(context.Background(), RollRequest{Target: 32768, BetSats: 100, Entropy: knownEntropy})
	require.NoError(t, err)

	tampered := *g
	tampered.Roll = 1
	v := VerifyGame(&tampered)
	assert.False(t, v.Verified)
	assert.Equal(t, fairness.ReasonOutcomeMismatch, v.Reason)
	assert.Empty(t, v.Result)
}

func TestRolledGamesUpholdInvariants(t *testing.T) {
	f := setUpService(t, richBankroll)
	ctx := context.Background()
	calc := f.service.Calculator()

	for i := 0; i < 200; i++ {
		target := 1 + (i*331)%65535
		bet := int64(100 + i)
		g, err := f.service.Roll(ctx, RollRequest{Target: target, BetSats: bet, Entropy: fmt.Sprintf("inv-%d", i)})
		if errors.Is(err, ErrBetTooSmall) || errors.Is(err, bankroll.ErrStakeAboveCeiling) {
			continue
		}
		require.NoError(t, err)

		assert.Equal(t, g.Roll < g.Target, g.Won())
		if g.Won() {
			assert.Equal(t, odds.Payout(bet, calc.Multiplier(target)), g.PayoutSats)
		} else {
			assert.Zero(t, g.PayoutSats)
		}
		assert.True(t, VerifyGame(g).Verified)
	}
}

func TestConcurrentRollsKeepBankrollConsistent(t *testing.T) {
	f := setUpService(t, richBankroll)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.service.Roll(ctx, RollRequest{
				Target:   32768,
				BetSats:  1000,
				PlayerID: fmt.Sprintf("p%d", i%4),
				Entropy:  fmt.Sprintf("concurrent-%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stats, err := f.service.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), stats.TotalGames)
	assert.Equal(t, int64(4), stats.UniquePlayers)
	assert.Equal(t, richBankroll+stats.TotalWagered-stats.TotalPaidOut, f.balance(t))
}

func TestLimitsAreClamped(t *testing.T) {
	assert.Equal(t, DefaultListLimit, ClampLimit(0))
	assert.Equal(t, DefaultListLimit, ClampLimit(-3))
	assert.Equal(t, 5, ClampLimit(5))
	assert.Equal(t, MaxListLimit, ClampLimit(1000))
}

func TestNormalizePlayerID(t *testing.T) {
	assert.Equal(t, "bob", NormalizePlayerID("  bob\t"))
	long := ""
	for i := 0; i < 100; i++ {
		long += "é"
	}
	assert.Len(t, []rune(NormalizePlayerID(long)), MaxPlayerIDLength)
}
