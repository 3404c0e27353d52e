package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dice_service/internal/bankroll"
	"dice_service/internal/fairness"
	"dice_service/internal/game"
	"dice_service/internal/logger"
	"dice_service/internal/odds"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// VerifySteps is the recipe any third party can follow by hand.
var VerifySteps = []string{
	"1. SHA256(hex_decode(server_seed)) must equal server_seed_hash",
	"2. Compute HMAC_SHA256(key = hex_decode(server_seed), message = client_entropy)",
	"3. roll = first 2 bytes of the HMAC as a big-endian unsigned 16-bit integer (0-65535)",
	"4. The game is a win if roll < target, otherwise a loss",
}

type Handler struct {
	games      *game.Service
	guard      *bankroll.Guard
	baseURL    string
	devEntropy bool
}

func NewHandler(games *game.Service, guard *bankroll.Guard, baseURL string, devEntropy bool) *Handler {
	return &Handler{
		games:      games,
		guard:      guard,
		baseURL:    strings.TrimRight(baseURL, "/"),
		devEntropy: devEntropy,
	}
}

func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	h.Register(r)
	return r
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/roll", h.Roll)
	r.GET("/verify/:game_id", h.Verify)
	r.GET("/odds", h.Odds)
	r.GET("/stats", h.Stats)
	r.GET("/leaderboard", h.Leaderboard)
	r.GET("/recent", h.Recent)
	r.GET("/health", h.Health)
}

type rollQuery struct {
	Target string `form:"target" binding:"required,number"`
	Bet    string `form:"bet" binding:"required,number"`
	Payout string `form:"payout"`
	Player string `form:"player"`
}

type rollResponse struct {
	GameID         string    `json:"game_id"`
	Roll           int       `json:"roll"`
	Target         int       `json:"target"`
	Result         string    `json:"result"`
	BetSats        int64     `json:"bet_sats"`
	Multiplier     float64   `json:"multiplier"`
	WinProbability float64   `json:"win_probability"`
	PayoutSats     int64     `json:"payout_sats"`
	PayoutMethod   string    `json:"payout_method"`
	PayoutStatus   string    `json:"payout_status"`
	ServerSeed     string    `json:"server_seed"`
	ServerSeedHash string    `json:"server_seed_hash"`
	ClientEntropy  string    `json:"client_entropy"`
	VerifyURL      string    `json:"verify_url"`
	Timestamp      time.Time `json:"timestamp"`
}

func (h *Handler) Roll(c *gin.Context) {
	var q rollQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		code := "invalid_request"
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "Target":
				code = "invalid_target"
			case "Bet":
				code = "invalid_bet"
			}
		}
		writeError(c, http.StatusBadRequest, code, err.Error())
		return
	}

	target, err := strconv.Atoi(q.Target)
	if err != nil || !odds.ValidTarget(target) {
		writeError(c, http.StatusBadRequest, "invalid_target", game.ErrInvalidTarget.Error())
		return
	}
	bet, err := strconv.ParseInt(q.Bet, 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_bet", game.ErrInvalidBet.Error())
		return
	}

	entropy := EntropyFromAuthorization(c.GetHeader("Authorization"))
	if entropy == "" && h.devEntropy {
		entropy = fairness.NewSecret().Hex()
	}

	player := c.GetHeader("X-Player-Id")
	if player == "" {
		player = q.Player
	}

	g, err := h.games.Roll(c.Request.Context(), game.RollRequest{
		Target:       target,
		BetSats:      bet,
		PayoutMethod: q.Payout,
		PlayerID:     player,
		Entropy:      entropy,
	})
	if err != nil {
		h.writeRollError(c, err)
		return
	}

	c.JSON(http.StatusOK, rollResponse{
		GameID:         g.GameID,
		Roll:           g.Roll,
		Target:         g.Target,
		Result:         g.Result,
		BetSats:        g.BetSats,
		Multiplier:     odds.RoundMultiplier(g.Multiplier),
		WinProbability: odds.RoundPercent(odds.WinProbability(g.Target)),
		PayoutSats:     g.PayoutSats,
		PayoutMethod:   g.PayoutMethod,
		PayoutStatus:   g.PayoutStatus,
		ServerSeed:     g.ServerSeed,
		ServerSeedHash: g.ServerSeedHash,
		ClientEntropy:  g.ClientEntropy,
		VerifyURL:      h.verifyURL(g.GameID),
		Timestamp:      g.CreatedAt,
	})
}

func (h *Handler) writeRollError(c *gin.Context, err error) {
	var rej *bankroll.Rejection
	switch {
	case errors.Is(err, game.ErrInvalidTarget):
		writeError(c, http.StatusBadRequest, "invalid_target", err.Error())
	case errors.Is(err, game.ErrInvalidBet), errors.Is(err, game.ErrBetTooSmall), errors.Is(err, bankroll.ErrStakeOutOfRange):
		writeError(c, http.StatusBadRequest, "invalid_bet", err.Error())
	case errors.Is(err, game.ErrEntropyTooLong):
		writeError(c, http.StatusBadRequest, "invalid_entropy", err.Error())
	case errors.Is(err, game.ErrInvalidPayout):
		writeError(c, http.StatusBadRequest, "invalid_payout", err.Error())
	case errors.Is(err, game.ErrEntropyMissing):
		writeError(c, http.StatusPaymentRequired, "payment_required", err.Error())
	case errors.Is(err, game.ErrEntropyReused):
		writeError(c, http.StatusConflict, "entropy_reused", err.Error())
	case errors.Is(err, bankroll.ErrHousePaused):
		writeError(c, http.StatusServiceUnavailable, "house_paused", err.Error())
	case errors.As(err, &rej) && errors.Is(err, bankroll.ErrStakeAboveCeiling):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":        "bet_exceeds_max",
			"message":      err.Error(),
			"max_bet_sats": rej.MaxBet,
		})
	default:
		logger.Error("Roll failed", "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "game could not be recorded, retry later")
	}
}

func (h *Handler) Verify(c *gin.Context) {
	v, err := h.games.Verify(c.Request.Context(), c.Param("game_id"))
	if err != nil {
		if errors.Is(err, game.ErrGameNotFound) {
			writeError(c, http.StatusNotFound, "not_found", err.Error())
			return
		}
		logger.Error("Verify failed", "game_id", c.Param("game_id"), "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "could not load game")
		return
	}

	g := v.Game
	body := gin.H{
		"game_id":          g.GameID,
		"verified":         v.Verified,
		"roll":             g.Roll,
		"target":           g.Target,
		"result":           g.Result,
		"bet_sats":         g.BetSats,
		"payout_sats":      g.PayoutSats,
		"multiplier":       odds.RoundMultiplier(g.Multiplier),
		"server_seed":      g.ServerSeed,
		"server_seed_hash": g.ServerSeedHash,
		"client_entropy":   g.ClientEntropy,
		"timestamp":        g.CreatedAt,
		"how_to_verify":    VerifySteps,
	}
	if v.Verified {
		body["expected_result"] = v.Result
	} else {
		body["reason"] = v.Reason
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Odds(c *gin.Context) {
	calc := h.games.Calculator()
	c.JSON(http.StatusOK, gin.H{
		"house_edge": calc.HouseEdge(),
		"max_roll":   fairness.MaxRoll,
		"odds":       calc.Table(odds.DefaultTargets),
	})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.games.Stats(c.Request.Context())
	if err != nil {
		logger.Error("Stats failed", "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "could not load stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) Leaderboard(c *gin.Context) {
	entries, err := h.games.Leaderboard(c.Request.Context(), queryLimit(c))
	if err != nil {
		logger.Error("Leaderboard failed", "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "could not load leaderboard")
		return
	}
	if entries == nil {
		entries = []game.LeaderboardEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

type recentGame struct {
	GameID         string    `json:"game_id"`
	Roll           int       `json:"roll"`
	Target         int       `json:"target"`
	Result         string    `json:"result"`
	BetSats        int64     `json:"bet_sats"`
	Multiplier     float64   `json:"multiplier"`
	PayoutSats     int64     `json:"payout_sats"`
	ServerSeedHash string    `json:"server_seed_hash"`
	Player         string    `json:"player,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func (h *Handler) Recent(c *gin.Context) {
	games, err := h.games.Recent(c.Request.Context(), queryLimit(c))
	if err != nil {
		logger.Error("Recent failed", "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "could not load recent games")
		return
	}
	out := make([]recentGame, 0, len(games))
	for _, g := range games {
		out = append(out, recentGame{
			GameID:         g.GameID,
			Roll:           g.Roll,
			Target:         g.Target,
			Result:         g.Result,
			BetSats:        g.BetSats,
			Multiplier:     odds.RoundMultiplier(g.Multiplier),
			PayoutSats:     g.PayoutSats,
			ServerSeedHash: g.ServerSeedHash,
			Player:         g.PlayerID,
			Timestamp:      g.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"games": out})
}

func (h *Handler) Health(c *gin.Context) {
	status, err := h.guard.Status(c.Request.Context())
	if err != nil {
		logger.Error("Health check failed", "error", err)
		writeError(c, http.StatusServiceUnavailable, "unhealthy", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"bankroll":   status,
		"house_edge": h.games.Calculator().HouseEdge(),
	})
}

func (h *Handler) verifyURL(gameID string) string {
	return h.baseURL + "/verify/" + gameID
}

// EntropyFromAuthorization returns the segment after the last colon of the
// payment authorization, e.g. the preimage in "L402 <macaroon>:<preimage>".
func EntropyFromAuthorization(header string) string {
	i := strings.LastIndex(header, ":")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(header[i+1:])
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func writeError(c *gin.Context, status int, code string, message string) {
	c.JSON(status, gin.H{"error": code, "message": message})
}
