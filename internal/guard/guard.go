// Package guard applies the license verdict to page requests.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"marslog/internal/license"
	"marslog/internal/trial"
)

const (
	DefaultLicensePage        = "/ui/license_info.php"
	DefaultTrialWarnThreshold = 72 * time.Hour
	DefaultLicenseWarnDays    = 7
	DefaultWarningCycle       = 5 * time.Minute
)

// Reason explains why a decision restricts access.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonTrialExpired   Reason = "trial_expired"
	ReasonNoLicense      Reason = "no_license"
	ReasonInvalidLicense Reason = "invalid_license"
	ReasonUnavailable    Reason = "unavailable"
)

const (
	msgTrialExpired   = "Trial period has expired. Please activate your license to continue."
	msgLicenseInvalid = "License expired or invalid. Please activate your license."
	msgUnavailable    = "License status could not be determined. Please check your license."
)

// VerdictSource computes license verdicts.
type VerdictSource interface {
	Validate(ctx context.Context) license.Verdict
}

// Decision is the outcome of one access check.
type Decision struct {
	Allow          bool           `json:"allow"`
	RedirectTarget string         `json:"redirect_target,omitempty"`
	Page           PageID         `json:"page"`
	Status         license.Status `json:"status"`
	Reason         Reason         `json:"reason,omitempty"`
	Message        string         `json:"message,omitempty"`
	Warnings       []Warning      `json:"warnings,omitempty"`
}

// Options configures a Guard. Zero values select the defaults.
type Options struct {
	AllowedPages       []PageID
	LicensePage        string
	TrialWarnThreshold time.Duration
	LicenseWarnDays    int
	WarningCycle       time.Duration

	Logger *slog.Logger
	Meter  metric.Meter
	Now    func() time.Time
}

// Guard decides page access from a fresh verdict per check.
type Guard struct {
	source  VerdictSource
	allowed map[PageID]bool
	opts    Options
	box     *warningBox
	logger  *slog.Logger
	now     func() time.Time

	decisions metric.Int64Counter
	warnings  metric.Int64Counter
}

// New creates a Guard over source.
func New(source VerdictSource, opts Options) (*Guard, error) {
	if len(opts.AllowedPages) == 0 {
		opts.AllowedPages = DefaultAllowList()
	}
	if opts.LicensePage == "" {
		opts.LicensePage = DefaultLicensePage
	}
	if opts.TrialWarnThreshold <= 0 {
		opts.TrialWarnThreshold = DefaultTrialWarnThreshold
	}
	if opts.LicenseWarnDays <= 0 {
		opts.LicenseWarnDays = DefaultLicenseWarnDays
	}
	if opts.WarningCycle <= 0 {
		opts.WarningCycle = DefaultWarningCycle
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	g := &Guard{
		source:  source,
		allowed: make(map[PageID]bool, len(opts.AllowedPages)),
		opts:    opts,
		box:     newWarningBox(opts.WarningCycle),
		logger:  opts.Logger.With(slog.String("component", "access_guard")),
		now:     opts.Now,
	}
	for _, p := range opts.AllowedPages {
		g.allowed[p] = true
	}

	if opts.Meter != nil {
		var err error
		g.decisions, err = opts.Meter.Int64Counter("license_guard_decisions_total",
			metric.WithDescription("Total number of page access decisions"))
		if err != nil {
			return nil, fmt.Errorf("failed to create decisions counter: %w", err)
		}
		g.warnings, err = opts.Meter.Int64Counter("license_guard_warnings_total",
			metric.WithDescription("Total number of expiry warnings attached to decisions"))
		if err != nil {
			return nil, fmt.Errorf("failed to create warnings counter: %w", err)
		}
	}
	return g, nil
}

// LicensePage returns the redirect target for denied requests.
func (g *Guard) LicensePage() string { return g.opts.LicensePage }

// Allowed reports whether page is reachable without an entitlement.
func (g *Guard) Allowed(page PageID) bool { return g.allowed[page] }

// CheckPath is Check for the page named by a request URI. Static assets are
// always allowed without evaluating a verdict, so they neither trigger
// validation nor consume pending warnings.
func (g *Guard) CheckPath(ctx context.Context, session, requestURI string) Decision {
	page := PageFromPath(requestURI)
	if !IsPagePath(requestURI) {
		return Decision{Allow: true, Page: page}
	}
	return g.Check(ctx, session, page)
}

// Check decides access to page for session. It always returns a decision;
// when no verdict can be formed the request is denied and redirected to the
// license page.
func (g *Guard) Check(ctx context.Context, session string, page PageID) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "access check failed, denying",
				slog.String("page", string(page)),
				slog.Any("panic", r))
			d = g.restrict(page, "", ReasonUnavailable, msgUnavailable)
		}
		g.record(ctx, d)
	}()

	if g.source == nil {
		return g.restrict(page, "", ReasonUnavailable, msgUnavailable)
	}

	verdict := g.source.Validate(ctx)
	d = g.decide(page, verdict)
	d.Warnings = g.box.offer(session, g.conditions(verdict), g.now())

	if !d.Allow {
		g.logger.InfoContext(ctx, "page access denied",
			slog.String("page", string(page)),
			slog.String("status", string(verdict.Status)),
			slog.String("reason", string(d.Reason)))
	}
	return d
}

func (g *Guard) decide(page PageID, v license.Verdict) Decision {
	switch v.Status {
	case license.StatusLicensed, license.StatusTrialMode:
		if v.Valid {
			return Decision{Allow: true, Page: page, Status: v.Status}
		}
		return g.restrict(page, v.Status, ReasonInvalidLicense, msgLicenseInvalid)
	case license.StatusTrialExpired:
		return g.restrict(page, v.Status, ReasonTrialExpired, msgTrialExpired)
	case license.StatusNoLicenseFile:
		return g.restrict(page, v.Status, ReasonNoLicense, msgLicenseInvalid)
	case license.StatusInvalidLicense:
		return g.restrict(page, v.Status, ReasonInvalidLicense, msgLicenseInvalid)
	default:
		// statuses passed through from the delegate follow its valid flag
		if v.Valid {
			return Decision{Allow: true, Page: page, Status: v.Status}
		}
		return g.restrict(page, v.Status, ReasonInvalidLicense, msgLicenseInvalid)
	}
}

// restrict applies the allow-list: listed pages stay reachable, everything
// else redirects to the license page.
func (g *Guard) restrict(page PageID, status license.Status, reason Reason, msg string) Decision {
	d := Decision{
		Allow:   g.allowed[page],
		Page:    page,
		Status:  status,
		Reason:  reason,
		Message: msg,
	}
	if !d.Allow {
		d.RedirectTarget = g.opts.LicensePage
	}
	return d
}

// conditions lists the expiry warnings that currently apply to v.
func (g *Guard) conditions(v license.Verdict) []Warning {
	var out []Warning
	if remaining, ok := trialRemaining(v); ok && remaining <= g.opts.TrialWarnThreshold {
		out = append(out, Warning{Kind: TrialExpiringSoon, Remaining: remaining})
	}
	if v.ExpiresSoon && v.DaysRemaining <= g.opts.LicenseWarnDays {
		days := max(v.DaysRemaining, 0)
		out = append(out, Warning{Kind: LicenseExpiringSoon, Remaining: time.Duration(days) * 24 * time.Hour})
	}
	return out
}

// trialRemaining returns the time left in a valid trial verdict. A delegate
// reporting trial mode is trusted for its day count; otherwise the local
// trial clock answers.
func trialRemaining(v license.Verdict) (time.Duration, bool) {
	if !v.Valid || (v.Status != license.StatusTrialMode && !v.TrialMode) {
		return 0, false
	}
	if v.Source == license.SourceDelegate && v.DaysRemaining > 0 {
		return time.Duration(v.DaysRemaining) * trial.Day, true
	}
	if v.Trial.Active {
		return v.Trial.Remaining, true
	}
	return 0, false
}

// TakeWarnings returns the warnings pending for session and consumes them.
func (g *Guard) TakeWarnings(session string) []Warning {
	return g.box.take(session)
}

// DeviceLimit returns the device limit under a fresh verdict.
func (g *Guard) DeviceLimit(ctx context.Context) int {
	return g.limits(ctx).Devices
}

// EPSLimit returns the events-per-second limit under a fresh verdict.
func (g *Guard) EPSLimit(ctx context.Context) int {
	return g.limits(ctx).EPS
}

// CanAddDevice reports whether one more device fits next to current.
func (g *Guard) CanAddDevice(ctx context.Context, current int) bool {
	return g.limits(ctx).AllowsDevice(current)
}

func (g *Guard) limits(ctx context.Context) (l license.Limits) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "limit lookup failed", slog.Any("panic", r))
			l = license.Limits{}
		}
	}()
	if g.source == nil {
		return license.Limits{}
	}
	return g.source.Validate(ctx).Limits
}

func (g *Guard) record(ctx context.Context, d Decision) {
	if g.decisions == nil {
		return
	}
	g.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("allow", d.Allow),
		attribute.String("reason", string(d.Reason)),
	))
	for _, w := range d.Warnings {
		g.warnings.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(w.Kind))))
	}
}
