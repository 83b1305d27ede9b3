package app

import (
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"marslog/internal/config"
	"marslog/internal/guard"
	"marslog/internal/license"
	"marslog/internal/storage"
)

// LicenseStack is the wired license subsystem: record store, validator and
// access guard.
type LicenseStack struct {
	Store     storage.Store
	Delegate  *license.ProcessDelegate
	Validator *license.Validator
	Guard     *guard.Guard

	closer io.Closer
}

// BuildLicenseStack wires the license subsystem from cfg. A nil meter
// disables metrics.
func BuildLicenseStack(cfg *config.Config, logger *slog.Logger, meter metric.Meter) (*LicenseStack, error) {
	lc := cfg.License
	stack := &LicenseStack{}

	switch lc.Store {
	case "bolt":
		store, err := storage.OpenBoltStore(lc.TrialCandidates(), lc.BoltFile, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		stack.Store = store
		stack.closer = store
	default:
		store, err := storage.NewKeyFileStore(lc.TrialCandidates(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create key file store: %w", err)
		}
		store.Recover(lc.TrialFile)
		stack.Store = store
	}

	stack.Delegate = license.NewProcessDelegate(license.ProcessConfig{
		Script:       lc.Delegate.Script,
		Interpreters: lc.Delegate.Interpreters,
		ProbeModules: lc.Delegate.ProbeModules,
		Timeout:      lc.Delegate.Timeout,
		ProbeTimeout: lc.Delegate.ProbeTimeout,
	}, logger)

	var metrics *license.Metrics
	if meter != nil {
		var err error
		metrics, err = license.NewMetrics(meter)
		if err != nil {
			stack.Close()
			return nil, fmt.Errorf("failed to create license metrics: %w", err)
		}
	}

	validator, err := license.NewValidator(stack.Store, stack.Delegate, license.Options{
		ArtifactPaths:   lc.ArtifactPaths,
		TrialFile:       lc.TrialFile,
		MirrorPath:      lc.MirrorPath,
		TrialDuration:   lc.TrialDuration,
		DelegateTimeout: lc.Delegate.Timeout,
		TrialLimits:     license.Limits{Devices: lc.TrialDevices, EPS: lc.TrialEPS},
		StoreBackend:    lc.Store,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("failed to create license validator: %w", err)
	}
	stack.Validator = validator

	pages := make([]guard.PageID, 0, len(lc.AllowedPages))
	for _, p := range lc.AllowedPages {
		pages = append(pages, guard.PageID(p))
	}
	g, err := guard.New(validator, guard.Options{
		AllowedPages:       pages,
		LicensePage:        lc.LicensePage,
		TrialWarnThreshold: lc.TrialWarnThreshold,
		LicenseWarnDays:    lc.LicenseWarnDays,
		WarningCycle:       lc.WarningCycle,
		Logger:             logger,
		Meter:              meter,
	})
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("failed to create access guard: %w", err)
	}
	stack.Guard = g

	return stack, nil
}

// Close releases the record store.
func (s *LicenseStack) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	if err != nil {
		return fmt.Errorf("failed to close record store: %w", err)
	}
	return nil
}
