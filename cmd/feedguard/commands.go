package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/StrathCole/feedguard/pkg/config"
	"github.com/StrathCole/feedguard/pkg/feedset"
	"github.com/StrathCole/feedguard/pkg/logging"
	"github.com/StrathCole/feedguard/pkg/policy"
	"github.com/StrathCole/feedguard/pkg/version"
)

const defaultConfigFile = "config/config.yaml"

// newRootCmd builds the feedguard command tree.
func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "feedguard",
		Short: "Price resolution with primary and fallback feeds",
		Long: `feedguard resolves prices from a primary feed, falling back to a secondary
feed when the primary is stale or invalid, and reports how far the two disagree.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigFile, "Path to configuration file")

	rootCmd.AddCommand(
		newServeCmd(&configFile),
		newResolveCmd(&configFile),
		newInspectCmd(&configFile),
		newValidateCmd(&configFile),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig loads and validates the configuration file.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// withFeeds builds the configured feeds, runs fn and closes them again.
// One-shot commands log to stderr so stdout carries only the result.
func withFeeds(cmd *cobra.Command, path string, fn func(ctx context.Context, set *feedset.Set) error) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Format)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	set, err := feedset.Build(ctx, cfg.Feeds, logger)
	if err != nil {
		return fmt.Errorf("failed to build feeds: %w", err)
	}
	defer func() {
		if err := set.Close(); err != nil {
			logger.Warn("Failed to close feeds", "error", err.Error())
		}
	}()

	return fn(ctx, set)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ResolveOutput is printed by the resolve command.
type ResolveOutput struct {
	Feed         string     `json:"feed"`
	Price        string     `json:"price"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	UsedFallback bool       `json:"used_fallback"`
	Strict       bool       `json:"strict"`
}

func newResolveCmd(configFile *string) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "resolve <feed>",
		Short: "Resolve the current price of a feed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withFeeds(cmd, *configFile, func(ctx context.Context, set *feedset.Set) error {
				out := ResolveOutput{Feed: name, Strict: strict}
				if strict {
					price, err := set.Strict(ctx, name)
					if err != nil {
						return err
					}
					out.Price = price.String()
				} else {
					res, err := set.Latest(ctx, name)
					if err != nil {
						return err
					}
					at := res.UpdatedAt.UTC()
					out.Price = res.Price.String()
					out.UpdatedAt = &at
					out.UsedFallback = res.UsedFallback
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Use the primary feed only and fail if it is stale or invalid")
	return cmd
}

// InspectOutput is printed by the inspect command.
type InspectOutput struct {
	Feed            string        `json:"feed"`
	HeartbeatSecs   uint64        `json:"heartbeat_seconds"`
	MaxDeviationBps uint64        `json:"max_deviation_bps"`
	Primary         SideOutput    `json:"primary"`
	Fallback        SideOutput    `json:"fallback"`
	Deviation       DeviationView `json:"deviation"`
}

// SideOutput describes one side of a feed.
type SideOutput struct {
	Source     string    `json:"source,omitempty"`
	Value      string    `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
	Valid      bool      `json:"valid"`
	Stale      bool      `json:"stale"`
}

// DeviationView renders a deviation; DeviationBps is null when undefined.
type DeviationView struct {
	WithinThreshold bool    `json:"within_threshold"`
	DeviationBps    *uint64 `json:"deviation_bps"`
}

func newInspectCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <feed>",
		Short: "Show both observations, staleness and deviation of a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withFeeds(cmd, *configFile, func(ctx context.Context, set *feedset.Set) error {
				info, err := set.Info(name)
				if err != nil {
					return err
				}
				primary, fallback, err := set.Observations(ctx, name)
				if err != nil {
					return err
				}
				primaryStale, fallbackStale, err := set.Staleness(ctx, name)
				if err != nil {
					return err
				}
				d, err := set.Deviation(ctx, name)
				if err != nil {
					return err
				}

				out := InspectOutput{
					Feed:            name,
					HeartbeatSecs:   info.Params.HeartbeatSeconds,
					MaxDeviationBps: info.Params.MaxDeviationBps,
					Primary:         sideOutput(info.Primary, primary, primaryStale),
					Fallback:        sideOutput(info.Fallback, fallback, fallbackStale),
					Deviation:       DeviationView{WithinThreshold: d.WithinThreshold},
				}
				if d.DeviationBps != policy.DeviationUndefined {
					bps := d.DeviationBps
					out.Deviation.DeviationBps = &bps
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func sideOutput(source string, o policy.Observation, stale bool) SideOutput {
	value := "0"
	if o.Value != nil {
		value = o.Value.String()
	}
	return SideOutput{Source: source, Value: value, ObservedAt: o.ObservedAt.UTC(), Valid: o.Valid, Stale: stale}
}

func newValidateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %d feeds\n", len(cfg.Feeds))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "feedguard version %s\n", version.Version)
		},
	}
}
