// Command aqictl is the Breathe Easy operations CLI.
//
// Usage:
//
//	aqictl migrate
//	aqictl migrate --print
//	aqictl check-alerts --force
//	aqictl retry --all
//	aqictl cleanup
//	aqictl health
//	aqictl aqi current --lat 39.74 --lon -104.99
//	aqictl token --subject ops --email ops@example.com --ttl 24h
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/breatheasy/internal/api/auth"
	"github.com/albapepper/breatheasy/internal/app"
	"github.com/albapepper/breatheasy/internal/aqi"
	"github.com/albapepper/breatheasy/internal/config"
	"github.com/albapepper/breatheasy/internal/db"
	"github.com/albapepper/breatheasy/internal/maintenance"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "aqictl",
		Short:        "Breathe Easy operations CLI",
		SilenceUsage: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(checkAlertsCmd())
	root.AddCommand(retryCmd())
	root.AddCommand(cleanupCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(aqiCmd())
	root.AddCommand(tokenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	var printSchema bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if printSchema {
				fmt.Fprint(cmd.OutOrStdout(), db.Schema())
				return nil
			}
			// db.New applies the schema before the pool comes up.
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				logger.Info("Schema applied")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&printSchema, "print", false, "Print the schema instead of applying it")
	return cmd
}

// --------------------------------------------------------------------------
// job commands
// --------------------------------------------------------------------------

func checkAlertsCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "check-alerts",
		Short: "Evaluate every alertable subscription once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				sum, err := a.Evaluator.Run(ctx, force)
				if err != nil {
					return err
				}
				return printJSON(cmd, sum)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Ignore cooldown and notification windows")
	return cmd
}

func retryCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-send failed notifications",
		Long:  "Without --all only notifications whose backoff has elapsed are retried. With --all every failed notification with attempts left is retried now.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				retry := a.Dispatcher.RetryDue
				if all {
					retry = a.Dispatcher.RetryFailed
				}
				sum, err := retry(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, sum)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Retry every failed notification with attempts left")
	return cmd
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge stale notifications and subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				res, err := a.Maintenance.Cleanup(ctx)
				if perr := printJSON(cmd, res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the database, AQI provider and delivery failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				rep := a.Maintenance.HealthCheck(ctx)
				if err := printJSON(cmd, rep); err != nil {
					return err
				}
				if rep.Status == maintenance.StatusUnhealthy {
					return fmt.Errorf("system unhealthy")
				}
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// aqi command
// --------------------------------------------------------------------------

func aqiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aqi",
		Short: "Query the AQI providers directly",
	}
	cmd.AddCommand(aqiCurrentCmd())
	return cmd
}

func aqiCurrentCmd() *cobra.Command {
	var lat, lon float64
	var label string
	cmd := &cobra.Command{
		Use:   "current",
		Short: "Fetch the current reading for a point",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := aqi.ValidateCoordinates(lat, lon); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			sources := aqi.ConfiguredSources(cfg.OpenWeatherAPIKey, cfg.WAQIToken, cfg.AQIRequestTimeout, logger)
			svc := aqi.NewService(sources, !cfg.IsProduction(), logger)
			r, err := svc.Current(ctx, lat, lon, label)
			if err != nil {
				return err
			}
			return printJSON(cmd, r)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude")
	cmd.Flags().StringVar(&label, "label", "", "Location label for the reading")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

// --------------------------------------------------------------------------
// token command
// --------------------------------------------------------------------------

func tokenCmd() *cobra.Command {
	var subject, email, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			tok, err := auth.IssueToken(secret, subject, email, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "ops", "Token subject")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "Role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

// --------------------------------------------------------------------------
// helpers
// --------------------------------------------------------------------------

func withPool(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}

func withApp(fn func(ctx context.Context, a *app.App) error) error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
		a, err := app.New(ctx, cfg, pool, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a)
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
