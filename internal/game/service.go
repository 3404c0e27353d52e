package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dice_service/internal/bankroll"
	"dice_service/internal/fairness"
	"dice_service/internal/logger"
	"dice_service/internal/odds"
	"dice_service/internal/retry"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInvalidTarget  = errors.New("target must be between 1 and 65535")
	ErrInvalidBet     = errors.New("bet outside allowed range")
	ErrBetTooSmall    = errors.New("bet too small to pay out at this target")
	ErrEntropyMissing = errors.New("payment authorization with entropy required")
	ErrEntropyTooLong = errors.New("entropy longer than 255 bytes")
	ErrInvalidPayout  = errors.New("payout method too long")
	ErrPersistence    = errors.New("game could not be recorded")
)

const (
	DefaultListLimit     = 10
	MaxListLimit         = 100
	DefaultPayoutTimeout = 5 * time.Second
	MaxPlayerIDLength    = 64
	MaxPayoutMethodLen   = 255
	MaxEntropyLen        = 255
)

// PayoutSender delivers a win to the player's payout method.
type PayoutSender interface {
	Send(ctx context.Context, g *Game) error
}

type Option func(*Service)

func WithPayoutSender(p PayoutSender, timeout time.Duration) Option {
	return func(s *Service) {
		s.payouts = p
		if timeout > 0 {
			s.payoutTimeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithSecretSource(next func() fairness.Secret) Option {
	return func(s *Service) { s.newSecret = next }
}

type Service struct {
	repo  GameRepository
	guard *bankroll.Guard
	calc  odds.Calculator

	payouts       PayoutSender
	payoutTimeout time.Duration
	now           func() time.Time
	newSecret     func() fairness.Secret
	newID         func() string
}

func NewService(repo GameRepository, guard *bankroll.Guard, calc odds.Calculator, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		guard:         guard,
		calc:          calc,
		payoutTimeout: DefaultPayoutTimeout,
		now:           time.Now,
		newSecret:     fairness.NewSecret,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Calculator() odds.Calculator {
	return s.calc
}

// Roll validates the request, admits the stake against the bankroll and
// records the resolved game. The returned game is durable: it is only
// returned after its transaction committed.
func (s *Service) Roll(ctx context.Context, req RollRequest) (*Game, error) {
	if !odds.ValidTarget(req.Target) {
		return nil, ErrInvalidTarget
	}
	if !s.guard.InRange(req.BetSats) {
		return nil, ErrInvalidBet
	}
	multiplier := s.calc.Multiplier(req.Target)
	if odds.Payout(req.BetSats, multiplier) == 0 {
		return nil, ErrBetTooSmall
	}
	entropy := strings.TrimSpace(req.Entropy)
	if entropy == "" {
		return nil, ErrEntropyMissing
	}
	if len(entropy) > MaxEntropyLen {
		return nil, ErrEntropyTooLong
	}
	req.Entropy = entropy
	req.PlayerID = NormalizePlayerID(req.PlayerID)
	req.PayoutMethod = normalizeMethod(req.PayoutMethod)
	if len(req.PayoutMethod) > MaxPayoutMethodLen {
		return nil, ErrInvalidPayout
	}

	var g *Game
	err := s.guard.Wager(ctx, req.BetSats, func(tx *gorm.DB) (int64, error) {
		if g == nil {
			g = s.resolve(req, multiplier)
		} else {
			// A commit can succeed and still report an error; don't apply
			// the same game twice.
			if existing, err := s.repo.GetInTx(ctx, tx, g.GameID); err == nil && existing.ServerSeedHash == g.ServerSeedHash {
				return 0, nil
			}
		}
		if err := s.repo.Create(ctx, tx, g); err != nil {
			if errors.Is(err, ErrEntropyReused) || errors.Is(err, ErrGameIDCollision) {
				return 0, retry.Permanent(err)
			}
			return 0, err
		}
		return g.BetSats - g.PayoutSats, nil
	})
	if err != nil {
		var rej *bankroll.Rejection
		switch {
		case errors.As(err, &rej), errors.Is(err, ErrEntropyReused):
			return nil, err
		case errors.Is(err, ErrGameIDCollision):
			logger.Error("Game id collision", "game_id", g.GameID)
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		default:
			logger.Error("Failed to record game", "target", req.Target, "bet_sats", req.BetSats, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}

	logger.Info("Game resolved",
		"game_id", g.GameID, "roll", g.Roll, "target", g.Target, "result", g.Result,
		"bet_sats", g.BetSats, "payout_sats", g.PayoutSats, "player", g.PlayerID)

	if g.PayoutStatus == PayoutPending {
		s.deliverPayout(ctx, g)
	}
	return g, nil
}

func (s *Service) resolve(req RollRequest, multiplier float64) *Game {
	secret := s.newSecret()
	roll := int(fairness.Derive(secret, req.Entropy))

	g := &Game{
		GameID:         s.newID(),
		Target:         req.Target,
		BetSats:        req.BetSats,
		Multiplier:     multiplier,
		Roll:           roll,
		Result:         ResultLoss,
		ServerSeedHash: fairness.Commit(secret),
		ServerSeed:     secret.Hex(),
		ClientEntropy:  req.Entropy,
		PayoutMethod:   req.PayoutMethod,
		PayoutStatus:   PayoutNA,
		PlayerID:       req.PlayerID,
		CreatedAt:      s.now().UTC(),
	}
	if roll < req.Target {
		g.Result = ResultWin
		g.PayoutSats = odds.Payout(req.BetSats, multiplier)
		if req.PayoutMethod != PayoutMethodNone {
			g.PayoutStatus = PayoutPending
		}
	}
	return g
}

// deliverPayout runs after the game is committed. A failed delivery is
// recorded on the game and never changes its outcome. Without a sender the
// game stays pending for an external worker.
func (s *Service) deliverPayout(ctx context.Context, g *Game) {
	if s.payouts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.payoutTimeout)
	defer cancel()

	status := PayoutSent
	if err := s.payouts.Send(ctx, g); err != nil {
		logger.Warn("Payout delivery failed", "game_id", g.GameID, "method", g.PayoutMethod, "error", err)
		status = PayoutFailed
	}
	if err := s.repo.UpdatePayoutStatus(ctx, g.GameID, PayoutPending, status); err != nil {
		logger.Error("Failed to update payout status", "game_id", g.GameID, "status", status, "error", err)
		return
	}
	g.PayoutStatus = status
}

func (s *Service) Get(ctx context.Context, gameID string) (*Game, error) {
	return s.repo.GetByID(ctx, gameID)
}

func (s *Service) Verify(ctx context.Context, gameID string) (*Verification, error) {
	g, err := s.repo.GetByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return VerifyGame(g), nil
}

// VerifyGame re-derives a stored game from its own fields only.
func VerifyGame(g *Game) *Verification {
	v := fairness.Verify(fairness.Evidence{
		ServerSeed:     g.ServerSeed,
		ServerSeedHash: g.ServerSeedHash,
		ClientEntropy:  g.ClientEntropy,
		Roll:           g.Roll,
		Target:         g.Target,
	})
	out := &Verification{Game: g, Verified: v.Verified, Reason: v.Reason}
	if v.Verified {
		out.Result = ResultLoss
		if v.Win {
			out.Result = ResultWin
		}
	}
	return out
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx, s.now().Add(-24*time.Hour))
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	return s.repo.Leaderboard(ctx, ClampLimit(limit))
}

func (s *Service) Recent(ctx context.Context, limit int) ([]Game, error) {
	return s.repo.Recent(ctx, ClampLimit(limit))
}

func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

// NormalizePlayerID trims the self-declared player name. It is attribution
// only, nobody proves they own it.
func NormalizePlayerID(id string) string {
	id = strings.TrimSpace(id)
	if r := []rune(id); len(r) > MaxPlayerIDLength {
		id = string(r[:MaxPlayerIDLength])
	}
	return id
}

func normalizeMethod(method string) string {
	method = strings.TrimSpace(method)
	if method == "" {
		return PayoutMethodNone
	}
	return method
}
