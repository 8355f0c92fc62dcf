package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/me2ds/wilson"
	"github.com/me2ds/wilson/internal/cliconfig"
	"github.com/me2ds/wilson/internal/configwatch"
	"github.com/me2ds/wilson/internal/signals"
	"github.com/me2ds/wilson/pkg/log"
)

const helpDescription = `
Run a set of named children under a supervisor that forwards periodic ticks to
them and, on shutdown, asks every child to stop and waits until each one has
confirmed before exiting.

The first SIGINT/SIGTERM starts a graceful drain; a second one exits at once.
Configure via file ($HOME/.wilson/config.toml), WILSON_* environment variables,
or flags, in increasing order of precedence.
`

var exampleUsage = strings.TrimSpace(`
  wilson
  wilson --tick-interval 500ms --stop-timeout 10s --drain-timeout 1m
  wilson --config $HOME/.wilson/config.toml --log-format json
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	boot := cliconfig.Logger()

	root := &cobra.Command{
		Use:           "wilson",
		Short:         "Supervise children with tick fan-out and a counted graceful shutdown",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			// Build set of changed flags
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			base := cfg
			hasFile := cfgFile != "" && cliconfig.FileExists(cfgFile)
			if hasFile {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			// Environment overrides the file; flags override both.
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			zl, err := log.NewZerolog(os.Stderr, cfg.LogFormat, cfg.LogLevel)
			if err != nil {
				return err
			}
			logger := log.NewZerologAdapterWithLogger(zl)
			zl.Info().Interface("config", cfg).Msg("configuration")

			rt, err := wilson.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("create runtime: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := signals.New()
			defer signals.Stop(sigCh)
			go signals.Watch(ctx, sigCh, logger,
				func(os.Signal) { rt.Shutdown(cfg.StopTimeout, "signal") },
				func(os.Signal) { os.Exit(1) },
			)

			if cfg.WatchConfig && hasFile {
				w := configwatch.New(cfgFile, func(fc cliconfig.FileConfig) {
					// Recompute with the same precedence so env and flags still win.
					next := base
					if err := cliconfig.ApplyFileConfig(&next, fc, changed); err != nil {
						logger.Warn("ignoring config change", log.Err(err))
						return
					}
					if err := cliconfig.ApplyEnvConfig(&next, changed); err != nil {
						logger.Warn("ignoring config change", log.Err(err))
						return
					}
					rt.SetTickInterval(next.TickInterval)
				}, configwatch.WithLogger(logger))
				go func() {
					if err := w.Run(ctx); err != nil {
						logger.Warn("config watcher disabled", log.Err(err))
					}
				}()
			}

			if err := rt.Run(ctx); err != nil {
				return err
			}
			res := rt.Result()
			if res.ChildErrors != nil {
				logger.Warn("children exited with errors", log.Err(res.ChildErrors))
			}
			return nil
		},
	}

	// Flags
	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.wilson/config.toml)")
	root.Flags().StringSliceVar(&cfg.Children, "children", cfg.Children, "names of the children to supervise")
	root.Flags().DurationVar(&cfg.TickInterval, "tick-interval", cfg.TickInterval, "interval between ticks sent to children")
	root.Flags().DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "grace period given to each child on shutdown")
	root.Flags().DurationVar(&cfg.DrainTimeout, "drain-timeout", cfg.DrainTimeout, "give up waiting for children after this long (0 waits forever)")
	root.Flags().StringVar(&cfg.MatchMode, "match-mode", cfg.MatchMode, "how terminations are counted while draining: identity or count")
	root.Flags().IntVar(&cfg.MaxRestarts, "max-restarts", cfg.MaxRestarts, "restart the supervisor at most this many times after a fault")
	root.Flags().DurationVar(&cfg.RestartBackoff, "restart-backoff", cfg.RestartBackoff, "initial delay before restarting the supervisor")
	root.Flags().DurationVar(&cfg.RestartBackoffMax, "restart-backoff-max", cfg.RestartBackoffMax, "maximum delay before restarting the supervisor")
	root.Flags().IntVar(&cfg.ReportEvery, "report-every", cfg.ReportEvery, "ticks between host manager progress lines")
	root.Flags().IntVar(&cfg.MailboxSize, "mailbox-size", cfg.MailboxSize, "per-child event buffer")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	root.Flags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")
	root.Flags().BoolVar(&cfg.WatchConfig, "watch-config", cfg.WatchConfig, "reload the tick interval when the config file changes")

	if err := root.Execute(); err != nil {
		boot.Error().Err(err).Msg("wilson")
		os.Exit(1)
	}
}
