package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MolSSI/QCFractal-sub003/internal/config"
	"github.com/MolSSI/QCFractal-sub003/internal/logging"
	"github.com/MolSSI/QCFractal-sub003/internal/orchestrator"
	"github.com/MolSSI/QCFractal-sub003/internal/telemetry"
)

var (
	enableTelemetry bool
	serveProfile    string
	profilesPath    string
	watchConfig     bool
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic orchestrator (C7) against the configured backend",
		Long: `serve opens the configured storage backend, loads the layered
config (spec §6: heartbeat_timeout, service_iteration_interval,
auto_reset.*, api_limits.*), and runs the service tick / heartbeat
reaper / stale-record sweep / internal-job runner loop until
interrupted.`,
		RunE: runServe,
	}
	cmd.Flags().BoolVar(&enableTelemetry, "telemetry", false, "emit OTel counters to stdout")
	cmd.Flags().StringVar(&serveProfile, "profile", "", "named profile (from --profiles) layered over the primary config")
	cmd.Flags().StringVar(&profilesPath, "profiles", "qcfractal-profiles.toml", "path to the TOML profile bundle")
	cmd.Flags().BoolVar(&watchConfig, "watch-config", true, "live-reload --config on change")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("serve: open store: %w", err)
	}
	defer st.Close()

	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	orc := orchestrator.New(st, cfg)
	orc.Log = logging.Default()

	if enableTelemetry {
		t, terr := telemetry.New(ctx)
		if terr != nil {
			return fmt.Errorf("serve: telemetry: %w", terr)
		}
		defer t.Shutdown(ctx)
		orc.Telemetry = t
	}

	if watchConfig {
		if werr := config.Watch(configPath, ctx.Done(),
			func(reloaded *config.Config) {
				if serveProfile != "" {
					if perr := applyProfileTo(reloaded); perr != nil {
						orc.Log.Warnf("config reload: %v", perr)
						return
					}
				}
				orc.SetConfig(reloaded)
				orc.Log.Infof("config reloaded from %s", configPath)
			},
			func(werr error) { orc.Log.Warnf("config watch: %v", werr) },
		); werr != nil {
			orc.Log.Warnf("serve: config watch disabled: %v", werr)
		}
	}

	orc.Log.Infof("qcfractal-server serving on %s backend %s, tick interval %s", backend, dbDSN, cfg.ServiceIterationInterval)
	orc.Run(ctx, ctx.Done())
	orc.Log.Infof("qcfractal-server shutting down")
	return nil
}

// loadServeConfig layers the optional named profile (spec's ambient
// config stack, see DESIGN.md internal/config) on top of the primary
// config file.
func loadServeConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("serve: load config: %w", err)
	}
	if serveProfile != "" {
		if err := applyProfileTo(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func applyProfileTo(cfg *config.Config) error {
	profiles, err := config.LoadProfiles(profilesPath)
	if err != nil {
		return fmt.Errorf("serve: load profiles %s: %w", profilesPath, err)
	}
	p, ok := profiles[serveProfile]
	if !ok {
		return fmt.Errorf("serve: profile %q not found in %s", serveProfile, profilesPath)
	}
	if err := p.Apply(cfg); err != nil {
		return fmt.Errorf("serve: apply profile %q: %w", serveProfile, err)
	}
	return nil
}
