package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/shiprail/rollout/internal/store"
	"github.com/shiprail/rollout/pkg/audit"
	"github.com/shiprail/rollout/pkg/config"
	"github.com/shiprail/rollout/pkg/controlplane"
	"github.com/shiprail/rollout/pkg/deploy"
	"github.com/shiprail/rollout/pkg/notification"
	"github.com/shiprail/rollout/pkg/orchestrator"
	"github.com/shiprail/rollout/pkg/probe"
	"github.com/shiprail/rollout/pkg/validator"
)

// loadRolloutConfig loads and validates the rollout configuration, printing
// validation warnings as it goes.
func loadRolloutConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	v := validator.New()
	if err := v.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	for _, warning := range v.GetWarnings() {
		fmt.Printf("⚠️  %s\n", warning)
	}

	return cfg, nil
}

// openStore opens the deployment record store at the configured state
// directory.
func openStore(cfg *config.Config) (*store.Store, error) {
	settings, err := cfg.EngineSettings()
	if err != nil {
		return nil, err
	}
	return store.New(store.WithDir(settings.StateDir))
}

// engine bundles a running orchestrator with the resources it owns.
type engine struct {
	orchestrator *orchestrator.Orchestrator
	store        *store.Store
	control      *controlplane.Simulator
	sink         audit.Sink
}

func (e *engine) close() {
	e.sink.Close()
}

// buildEngine assembles the orchestrator against the simulated control
// plane. The fleet serving before the rollout is reconstructed from the last
// succeeded deployment record, so rollback rehearsals have a previous
// version to restore. qualityScore, when positive, registers a quality check
// for the target version with the simulated analyzer.
func buildEngine(cfg *config.Config, qualityScore float64) (*engine, error) {
	settings, err := cfg.EngineSettings()
	if err != nil {
		return nil, err
	}

	st, err := store.New(store.WithDir(settings.StateDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	sim := controlplane.NewSimulator()
	app := cfg.Application.Name
	env := cfg.Application.Environment
	if prev, err := st.LatestSucceeded(app, env); err == nil {
		sim.Seed(controlplane.Target{
			Application: app,
			Environment: env,
			Version:     prev.TargetVersion,
		}, prev.Config.Replicas)
	}

	analyzer := &controlplane.StaticAnalyzer{}
	if qualityScore > 0 {
		analyzer.SetCheck(cfg.Application.Version, &deploy.QualityCheck{
			ID:        fmt.Sprintf("qc-%s", cfg.Application.Version),
			Score:     qualityScore,
			Passed:    true,
			CreatedAt: time.Now(),
		})
	}

	repository := cfg.Application.Image
	if idx := strings.LastIndex(repository, ":"); idx > 0 {
		repository = repository[:idx]
	}

	var sink audit.Sink
	sink, err = audit.NewFileSink(settings.AuditDir)
	if err != nil {
		fmt.Printf("⚠️  audit log disabled: %v\n", err)
		sink = audit.NewNoopSink()
	}

	var notifier *notification.Notifier
	if nc := cfg.NotifierConfig(); nc.SlackWebhook != "" || nc.DiscordWebhook != "" || nc.Webhook != "" {
		notifier = notification.NewNotifier(nc)
	}

	orch := orchestrator.New(st, orchestrator.Collaborators{
		Control:    controlplane.NewBreakerControlPlane(sim),
		Artifacts:  controlplane.StaticResolver{Repository: repository},
		Analyzer:   analyzer,
		Migrations: &controlplane.RecordingMigrationRunner{},
	},
		orchestrator.WithProber(probe.NewProber(probe.WithCheck(sim.Check))),
		orchestrator.WithAuditSink(sink),
		orchestrator.WithNotifier(notifier),
		orchestrator.WithProbeWindow(settings.ProbeWindow),
		orchestrator.WithMonitorInterval(settings.MonitorInterval),
	)

	return &engine{
		orchestrator: orch,
		store:        st,
		control:      sim,
		sink:         sink,
	}, nil
}
