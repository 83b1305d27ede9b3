package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"marslog/internal/storage"
	"marslog/internal/trial"
)

// Fallback reasons, used in logs and metrics.
const (
	reasonArtifactMissing      = "artifact_missing"
	reasonDelegateUnavailable  = "delegate_unavailable"
	reasonDelegateInconclusive = "delegate_inconclusive"
	reasonTrialRecordCorrupt   = "trial_record_corrupt"
)

// maxCreateAttempts bounds how often activation removes an unusable record
// and retries the exclusive create.
const maxCreateAttempts = 3

// Options configures a Validator.
type Options struct {
	// ArtifactPaths is the ordered license artifact search path.
	ArtifactPaths []string
	// TrialFile is the record name in the store.
	TrialFile string
	// MirrorPath, when set, receives a best-effort copy of the record.
	MirrorPath      string
	TrialDuration   time.Duration
	DelegateTimeout time.Duration
	// TrialLimits apply while the trial is active.
	TrialLimits  Limits
	StoreBackend string

	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

// Validator produces license verdicts and owns the trial record lifecycle.
type Validator struct {
	store    storage.Store
	mirror   storage.Store
	delegate Delegate
	resolver *ArtifactResolver
	clock    trial.Clock
	opts     Options
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	// activateMu serializes activation and reset within the process; the
	// store's exclusive create covers other processes.
	activateMu sync.Mutex
}

// NewValidator creates a Validator. A nil delegate makes every artifact
// unverifiable, so verdicts come from the trial clock.
func NewValidator(store storage.Store, delegate Delegate, opts Options) (*Validator, error) {
	if store == nil {
		return nil, errors.New("license: nil store")
	}
	if opts.TrialFile == "" {
		opts.TrialFile = "trial_started.json"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.With(slog.String("component", "license_validator"))

	v := &Validator{
		store:    store,
		delegate: delegate,
		resolver: NewArtifactResolver(opts.ArtifactPaths),
		clock:    trial.NewClock(opts.TrialDuration),
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}

	if opts.MirrorPath != "" {
		mirror, err := storage.NewKeyFileStore([]string{filepath.Dir(opts.MirrorPath)}, opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("mirror store: %w", err)
		}
		v.mirror = mirror
	}
	return v, nil
}

// Validate computes a fresh verdict. It never fails: every error degrades to
// the next tier and ends, at worst, in the trial clock fallback.
func (v *Validator) Validate(ctx context.Context) Verdict {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "license.validate",
		trace.WithAttributes(attribute.String("component", "license_validator")))
	defer span.End()

	start := time.Now()
	verdict := v.validate(ctx)
	v.metrics.recordValidation(ctx, verdict, time.Since(start))

	span.SetAttributes(
		attribute.Bool("license.valid", verdict.Valid),
		attribute.String("license.status", string(verdict.Status)),
		attribute.String("license.source", string(verdict.Source)),
	)
	if verdict.Valid {
		span.SetStatus(codes.Ok, string(verdict.Status))
	} else {
		span.SetStatus(codes.Error, string(verdict.Status))
	}
	return verdict
}

func (v *Validator) validate(ctx context.Context) Verdict {
	state := v.TrialState(ctx)

	artifact, ok := v.resolver.Resolve()
	if !ok {
		v.logFallback(ctx, reasonArtifactMissing, slog.String("primary", v.resolver.Primary()))
		return v.fallback(state, StatusNoLicenseFile, msgNoLicense)
	}

	if v.delegate == nil {
		v.logFallback(ctx, reasonDelegateUnavailable, slog.String("error", "no delegate configured"))
		return v.fallback(state, StatusInvalidLicense, msgInvalidLicense)
	}

	res, err := v.invoke(ctx, artifact)
	if err != nil {
		reason := reasonDelegateInconclusive
		if errors.Is(err, ErrDelegateUnavailable) {
			reason = reasonDelegateUnavailable
		}
		v.logFallback(ctx, reason,
			slog.String("artifact", artifact),
			slog.String("error", err.Error()))
		return v.fallback(state, StatusInvalidLicense, msgInvalidLicense)
	}

	return v.passthrough(res, state)
}

// invoke calls the delegate, converting a panic into an inconclusive answer.
func (v *Validator) invoke(ctx context.Context, artifact string) (res Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("%w: delegate panic: %v", ErrDelegateInconclusive, r)
		}
		outcome := "conclusive"
		switch {
		case errors.Is(err, ErrDelegateUnavailable):
			outcome = "unavailable"
		case err != nil:
			outcome = "inconclusive"
		}
		v.metrics.recordDelegate(ctx, time.Since(start), outcome)
	}()

	res, err = v.delegate.Invoke(ctx, artifact, v.opts.DelegateTimeout)
	if err != nil && !errors.Is(err, ErrDelegateUnavailable) && !errors.Is(err, ErrDelegateInconclusive) {
		err = fmt.Errorf("%w: %v", ErrDelegateInconclusive, err)
	}
	return res, err
}

// passthrough turns a conclusive delegate answer into the verdict as is.
func (v *Validator) passthrough(res Result, state trial.State) Verdict {
	verdict := Verdict{
		Valid:         res.Valid,
		Status:        Status(res.Status),
		TrialMode:     res.TrialMode,
		Trial:         state,
		Error:         res.Error,
		ExpiresSoon:   res.ExpiresSoon,
		DaysRemaining: res.DaysRemaining,
		ExpireDate:    res.ExpireDate,
		Customer:      res.Customer,
		Source:        SourceDelegate,
	}

	missing := 0
	if res.Valid {
		missing = Unlimited
	}
	verdict.Limits = Limits{Devices: missing, EPS: missing}
	if res.Devices != nil {
		verdict.Limits.Devices = *res.Devices
	}
	if res.EPS != nil {
		verdict.Limits.EPS = *res.EPS
	}
	return verdict
}

// fallback builds the verdict from trial state alone. noTrial is the status
// used when the trial was never started.
func (v *Validator) fallback(state trial.State, noTrial Status, msg string) Verdict {
	switch {
	case state.Active:
		return Verdict{
			Valid:         true,
			Status:        StatusTrialMode,
			TrialMode:     true,
			Trial:         state,
			DaysRemaining: state.DaysRemaining,
			Limits:        v.opts.TrialLimits,
			Source:        SourceTrial,
		}
	case state.Started:
		return Verdict{
			Status: StatusTrialExpired,
			Trial:  state,
			Error:  msgTrialExpired,
			Source: SourceTrial,
		}
	default:
		return Verdict{
			Status: noTrial,
			Trial:  state,
			Error:  msg,
			Source: SourceTrial,
		}
	}
}

func (v *Validator) logFallback(ctx context.Context, reason string, attrs ...any) {
	v.metrics.recordFallback(ctx, reason)
	v.logger.WarnContext(ctx, "license verdict falling back to trial clock",
		append([]any{slog.String("reason", reason)}, attrs...)...)
}

// TrialState returns the current trial state.
func (v *Validator) TrialState(ctx context.Context) trial.State {
	return v.clock.State(v.loadRecord(ctx), v.now())
}

// loadRecord reads the trial record. Missing, unreadable and corrupt records
// all read as never started.
func (v *Validator) loadRecord(ctx context.Context) trial.Record {
	rec, _ := v.readRecord(ctx)
	return rec
}

// readRecord also returns the stored bytes, so an unusable record can be
// removed only while it is still the same one.
func (v *Validator) readRecord(ctx context.Context) (trial.Record, []byte) {
	data, err := v.store.Read(v.opts.TrialFile)
	if errors.Is(err, storage.ErrNotFound) {
		return trial.Record{}, nil
	}
	if err != nil {
		v.logger.WarnContext(ctx, "trial record unreadable",
			slog.String("path", v.store.Location(v.opts.TrialFile)),
			slog.String("error", err.Error()))
		return trial.Record{}, nil
	}

	rec, err := trial.Decode(data)
	if err != nil {
		v.metrics.recordFallback(ctx, reasonTrialRecordCorrupt)
		v.logger.WarnContext(ctx, "trial record corrupt, treating as not started",
			slog.String("reason", reasonTrialRecordCorrupt),
			slog.String("path", v.store.Location(v.opts.TrialFile)),
			slog.String("error", err.Error()))
		return trial.Record{}, data
	}
	return rec, data
}

// ActivateTrial starts the trial once. A trial that is already started,
// including one started concurrently by another caller, is reported with
// success false and the existing start date.
func (v *Validator) ActivateTrial(ctx context.Context) ActivationResult {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "license.activate_trial",
		trace.WithAttributes(attribute.String("component", "license_validator")))
	defer span.End()

	v.activateMu.Lock()
	defer v.activateMu.Unlock()

	result := v.activate(ctx)
	span.SetAttributes(attribute.Bool("trial.success", result.Success))
	if !result.Success {
		span.SetStatus(codes.Error, result.Message)
	}
	return result
}

func (v *Validator) activate(ctx context.Context) ActivationResult {
	now := v.now()
	if current := v.loadRecord(ctx); current.Started {
		v.metrics.recordActivation(ctx, "already_started")
		return ActivationResult{
			Message: MsgTrialAlreadyStarted,
			Trial:   v.clock.State(current, now),
			Path:    v.store.Location(v.opts.TrialFile),
		}
	}

	rec := v.clock.Activate(now)
	data := trial.Encode(rec)

	// A failed Create means another writer got there first, or a corrupt
	// record is in the way. Corrupt records are removed only while they are
	// unchanged, and the record is only ever published through Create.
	path, err := v.store.Create(v.opts.TrialFile, data)
	for attempt := 1; errors.Is(err, storage.ErrExists); attempt++ {
		winner, raw := v.readRecord(ctx)
		if winner.Started {
			v.metrics.recordActivation(ctx, "already_started")
			v.logger.InfoContext(ctx, "trial activated concurrently by another caller",
				slog.String("start_date", trial.FormatDate(winner.StartDate)))
			return ActivationResult{
				Message: MsgTrialAlreadyStarted,
				Trial:   v.clock.State(winner, now),
				Path:    path,
			}
		}
		if attempt > maxCreateAttempts {
			err = fmt.Errorf("trial record at %s still unusable after %d attempts", path, maxCreateAttempts)
			break
		}

		v.logger.WarnContext(ctx, "removing unusable trial record",
			slog.String("path", path),
			slog.Int("attempt", attempt))
		derr := v.store.DeleteIf(v.opts.TrialFile, raw)
		if derr != nil && !errors.Is(derr, storage.ErrNotFound) && !errors.Is(derr, storage.ErrChanged) {
			err = derr
			break
		}
		path, err = v.store.Create(v.opts.TrialFile, data)
	}
	if err != nil {
		v.metrics.recordActivation(ctx, "persist_failed")
		v.logger.ErrorContext(ctx, "trial activation could not be persisted",
			slog.String("error", err.Error()))
		return ActivationResult{
			Message: MsgTrialPermission,
			Trial:   v.clock.State(trial.Record{}, now),
		}
	}

	v.writeMirror(ctx, path, data)
	v.metrics.recordActivation(ctx, "started")
	v.logger.InfoContext(ctx, "trial started",
		slog.String("path", path),
		slog.String("start_date", trial.FormatDate(rec.StartDate)))

	return ActivationResult{
		Success: true,
		Message: MsgTrialStarted,
		Trial:   v.clock.State(rec, now),
		Path:    path,
	}
}

func (v *Validator) writeMirror(ctx context.Context, primary string, data []byte) {
	if v.mirror == nil || filepath.Clean(primary) == filepath.Clean(v.opts.MirrorPath) {
		return
	}
	if _, err := v.mirror.Write(filepath.Base(v.opts.MirrorPath), data); err != nil {
		v.logger.WarnContext(ctx, "trial record mirror not written",
			slog.String("mirror", v.opts.MirrorPath),
			slog.String("error", err.Error()))
	}
}

// ResetTrial deletes the trial record and, best effort, its mirror.
func (v *Validator) ResetTrial(ctx context.Context) ResetResult {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "license.reset_trial",
		trace.WithAttributes(attribute.String("component", "license_validator")))
	defer span.End()

	v.activateMu.Lock()
	defer v.activateMu.Unlock()

	err := v.store.Delete(v.opts.TrialFile)
	if v.mirror != nil {
		if merr := v.mirror.Delete(filepath.Base(v.opts.MirrorPath)); merr != nil && !errors.Is(merr, storage.ErrNotFound) {
			v.logger.WarnContext(ctx, "trial record mirror not removed",
				slog.String("mirror", v.opts.MirrorPath),
				slog.String("error", merr.Error()))
		}
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		v.metrics.recordReset(ctx, "not_started")
		span.SetStatus(codes.Error, MsgTrialNotStarted)
		return ResetResult{Message: MsgTrialNotStarted}
	case err != nil:
		v.metrics.recordReset(ctx, "failed")
		v.logger.ErrorContext(ctx, "trial reset failed", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, MsgTrialResetFailed)
		return ResetResult{Message: MsgTrialResetFailed}
	}

	v.metrics.recordReset(ctx, "reset")
	v.logger.InfoContext(ctx, "trial reset")
	return ResetResult{Success: true, Message: MsgTrialReset}
}

// Limits returns the limits in force under a fresh verdict.
func (v *Validator) Limits(ctx context.Context) Limits {
	return v.Validate(ctx).Limits
}

// Info gathers a diagnostic snapshot.
func (v *Validator) Info(ctx context.Context) Info {
	var (
		verdict   Verdict
		available bool
		writable  bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		verdict = v.Validate(gctx)
		return nil
	})
	g.Go(func() error {
		available = v.delegateAvailable(gctx)
		return nil
	})
	g.Go(func() error {
		writable = v.store.Writable(v.opts.TrialFile)
		return nil
	})
	_ = g.Wait()

	artifact, exists := v.resolver.Resolve()
	if !exists {
		artifact = v.resolver.Primary()
	}

	return Info{
		Verdict: verdict,
		Trial:   verdict.Trial,
		SystemInfo: SystemInfo{
			LicenseFile:       artifact,
			LicenseExists:     exists,
			TrialFile:         v.store.Location(v.opts.TrialFile),
			TrialWritable:     writable,
			DelegateAvailable: available,
			StoreBackend:      v.opts.StoreBackend,
		},
	}
}

func (v *Validator) delegateAvailable(ctx context.Context) bool {
	if v.delegate == nil {
		return false
	}
	if p, ok := v.delegate.(Prober); ok {
		return p.Probe(ctx) == nil
	}
	return true
}
