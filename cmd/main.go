package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dice_service/internal/api"
	"dice_service/internal/bankroll"
	"dice_service/internal/config"
	"dice_service/internal/fairness"
	"dice_service/internal/game"
	"dice_service/internal/logger"
	"dice_service/internal/odds"
	"dice_service/internal/payout"
	"dice_service/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var envFiles []string

func main() {
	root := &cobra.Command{
		Use:           "dice",
		Short:         "Provably fair dice game server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before the environment")

	root.AddCommand(serveCmd(), verifyCmd(), oddsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}
	logger.Init(&logger.Options{Level: logger.ParseLevel(cfg.LogLevel)})
	return cfg, nil
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := storage.Open(cfg.DBDriver, cfg.DBConnStr)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db, &game.Game{}, &bankroll.Bankroll{}); err != nil {
		return nil, err
	}
	return db, nil
}

func limitsFrom(cfg *config.Config) bankroll.Limits {
	return bankroll.Limits{
		MinBet:         cfg.MinBetSats,
		MaxBet:         cfg.MaxBetSats,
		PauseThreshold: cfg.PauseThresholdSats,
		SafetyFactor:   cfg.SafetyFactor,
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}

	bank := bankroll.NewRepository(db)
	b, err := bank.Ensure(ctx, cfg.InitialBankrollSats)
	if err != nil {
		return err
	}

	calc := odds.NewCalculator(cfg.HouseEdge)
	guard := bankroll.NewGuard(db, bank, limitsFrom(cfg), calc).WithPersistLimit(cfg.PersistMaxElapsed)

	var opts []game.Option
	if cfg.NatsURL != "" {
		nc, err := payout.Connect(cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Drain()
		opts = append(opts, game.WithPayoutSender(payout.NewNatsSender(nc, cfg.PayoutSubject), cfg.PayoutTimeout))
		logger.Info("Payout delivery enabled", "url", cfg.NatsURL, "subject", cfg.PayoutSubject)
	} else {
		logger.Warn("NATS_URL not set, winning payouts stay pending")
	}
	if cfg.DevEntropy {
		logger.Warn("DEV_ENTROPY is on, rolls without payment get server-generated entropy")
	}

	games := game.NewService(game.NewGameRepository(db), guard, calc, opts...)

	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(games, guard, cfg.PublicBaseURL, cfg.DevEntropy))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server started",
			"addr", cfg.HTTPAddr, "driver", cfg.DBDriver, "bankroll_sats", b.Balance,
			"house_edge", cfg.HouseEdge, "max_bet_sats", guard.MaxBet(b.Balance))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func verifyCmd() *cobra.Command {
	var ev fairness.Evidence
	cmd := &cobra.Command{
		Use:   "verify [game_id]",
		Short: "Verify a stored game, or raw seed/entropy/roll values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if ev.ServerSeed == "" || ev.ServerSeedHash == "" || ev.ClientEntropy == "" ||
					!cmd.Flags().Changed("roll") || !cmd.Flags().Changed("target") {
					return errors.New("pass a game id or --seed, --hash, --entropy, --roll and --target")
				}
				v := fairness.Verify(ev)
				return printJSON(map[string]any{"verified": v.Verified, "reason": v.Reason, "win": v.Win})
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			g, err := game.NewGameRepository(db).GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			v := game.VerifyGame(g)
			return printJSON(map[string]any{
				"game_id":          g.GameID,
				"verified":         v.Verified,
				"reason":           v.Reason,
				"stored_result":    g.Result,
				"expected_result":  v.Result,
				"roll":             g.Roll,
				"target":           g.Target,
				"server_seed":      g.ServerSeed,
				"server_seed_hash": g.ServerSeedHash,
				"client_entropy":   g.ClientEntropy,
			})
		},
	}
	cmd.Flags().StringVar(&ev.ServerSeed, "seed", "", "revealed server seed (hex)")
	cmd.Flags().StringVar(&ev.ServerSeedHash, "hash", "", "committed server seed hash (hex)")
	cmd.Flags().StringVar(&ev.ClientEntropy, "entropy", "", "client entropy string")
	cmd.Flags().IntVar(&ev.Roll, "roll", 0, "claimed roll")
	cmd.Flags().IntVar(&ev.Target, "target", 0, "target of the bet")
	return cmd
}

func oddsCmd() *cobra.Command {
	var edge float64
	cmd := &cobra.Command{
		Use:   "odds",
		Short: "Print the odds table",
		RunE: func(cmd *cobra.Command, args []string) error {
			calc := odds.NewCalculator(edge)
			fmt.Printf("%-8s %-10s %-12s %s\n", "TARGET", "WIN %", "MULTIPLIER", "PAYOUT/1000")
			for _, row := range calc.Table(odds.DefaultTargets) {
				fmt.Printf("%-8d %-10.2f %-12.3f %d\n", row.Target, row.WinProbability, row.Multiplier, row.PayoutPer1000Sats)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&edge, "edge", 0.015, "house edge")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
