package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ideinfo/internal/app"
	logx "ideinfo/pkg/logx"
)

// Set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "ideinfo",
		Short:         "Workspace info widget: stats polling, script provisioning and update checks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "./config.json", "path to config file (json, yaml or toml)")
	cmd.PersistentFlags().StringVar(&g.envFile, "env-file", "", "optional .env file loaded before the config")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level for one-shot commands")

	cmd.AddCommand(newRunCmd(g))
	cmd.AddCommand(newProvisionCmd(g))
	cmd.AddCommand(newPollCmd(g))
	cmd.AddCommand(newLatestCmd(g))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := app.New(ctx, app.Options{ConfigPath: g.configPath, EnvFile: g.envFile})
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			reason := app.StopAppStop
			select {
			case s := <-sigs:
				reason = app.StopSIGINT
				if s == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-ctx.Done():
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			return a.Stop(stopCtx, reason)
		},
	}
}

// oneShot builds the app with a console logger, runs fn and closes it.
func oneShot(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, app.Options{
		ConfigPath: g.configPath,
		EnvFile:    g.envFile,
		Log:        logx.NewConsole(g.logLevel),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newProvisionCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Install or update the probe and update scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return oneShot(cmd, g, func(ctx context.Context, a *app.App) error {
				if err := a.Engine().Provision(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "scripts up to date")
				return nil
			})
		},
	}
}

func newPollCmd(g *globalFlags) *cobra.Command {
	var skipProvision bool
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run the probe once and print the parsed stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return oneShot(cmd, g, func(ctx context.Context, a *app.App) error {
				e := a.Engine()
				if !skipProvision {
					if err := e.Provision(ctx); err != nil {
						return err
					}
				}
				outcome, err := e.Poll(ctx)
				if err != nil {
					return fmt.Errorf("poll %s: %w", outcome, err)
				}
				var stats map[string]any
				if s := e.Stats(); s != nil {
					stats = s.Redacted()
				}
				return printJSON(cmd, map[string]any{
					"outcome": outcome,
					"stats":   stats,
					"caption": a.Widget().State().Caption,
					"version": e.Version(),
				})
			})
		},
	}
	cmd.Flags().BoolVar(&skipProvision, "no-provision", false, "skip script provisioning before the probe")
	return cmd
}

func newLatestCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Probe the installed version and check the package index for a newer one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return oneShot(cmd, g, func(ctx context.Context, a *app.App) error {
				e := a.Engine()
				if _, err := e.Poll(ctx); err != nil {
					return err
				}
				if e.Version().Current == nil {
					return errors.New("installed version unknown; the probe reported no version")
				}
				if err := e.RefreshLatest(ctx); err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"version": e.Version(),
					"view":    e.View(),
				})
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ideinfo %s (%s)\n", version, commit)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
