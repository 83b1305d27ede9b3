package license

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultDelegateTimeout = 15 * time.Second
	defaultProbeTimeout    = 5 * time.Second
	maxStderrLog           = 512
)

// ProcessConfig configures a ProcessDelegate.
type ProcessConfig struct {
	// Script is the validator program. It receives the artifact path as its
	// only argument and prints a JSON result on stdout.
	Script string
	// Interpreters are tried in order; the first one whose capability probe
	// passes runs Script. Empty means Script is executed directly.
	Interpreters []string
	// ProbeModules are the modules the interpreter must be able to import.
	// Empty means an interpreter only has to be found on PATH.
	ProbeModules []string
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// ProcessDelegate runs the validator as an external process. The process is
// detached from the caller's cancellation and bounded only by its timeout.
type ProcessDelegate struct {
	cfg    ProcessConfig
	logger *slog.Logger
	probes singleflight.Group
}

// NewProcessDelegate creates a delegate running cfg.Script.
func NewProcessDelegate(cfg ProcessConfig, logger *slog.Logger) *ProcessDelegate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDelegateTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDelegate{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "validation_delegate")),
	}
}

// Probe reports whether the delegate can run.
func (d *ProcessDelegate) Probe(ctx context.Context) error {
	_, err := d.interpreter(ctx)
	return err
}

// Invoke validates artifactPath. A non-positive timeout selects the
// configured one.
func (d *ProcessDelegate) Invoke(ctx context.Context, artifactPath string, timeout time.Duration) (Result, error) {
	interp, err := d.interpreter(ctx)
	if err != nil {
		return Result{}, err
	}
	if timeout <= 0 {
		timeout = d.cfg.Timeout
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	cmd := d.command(runCtx, interp, d.cfg.Script, artifactPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		d.logger.WarnContext(ctx, "validation delegate timed out",
			slog.Duration("timeout", timeout),
			slog.String("artifact", artifactPath))
		return Result{}, fmt.Errorf("%w: timed out after %s", ErrDelegateInconclusive, timeout)
	}
	if err != nil {
		d.logger.WarnContext(ctx, "validation delegate failed",
			slog.String("error", err.Error()),
			slog.String("stderr", truncate(stderr.String(), maxStderrLog)),
			slog.Duration("duration", elapsed))
		return Result{}, fmt.Errorf("%w: %v", ErrDelegateInconclusive, err)
	}

	res, err := ParseResult(stdout.Bytes())
	if err != nil {
		d.logger.WarnContext(ctx, "validation delegate output rejected",
			slog.String("error", err.Error()),
			slog.Int("stdout_bytes", stdout.Len()))
		return Result{}, err
	}

	d.logger.DebugContext(ctx, "validation delegate answered",
		slog.Bool("valid", res.Valid),
		slog.String("status", res.Status),
		slog.Duration("duration", elapsed))
	return res, nil
}

// interpreter returns the interpreter to run the script with, or "" to run
// it directly. Concurrent callers share one probe.
func (d *ProcessDelegate) interpreter(ctx context.Context) (string, error) {
	v, err, _ := d.probes.Do("probe", func() (any, error) {
		return d.findInterpreter(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (d *ProcessDelegate) findInterpreter(ctx context.Context) (string, error) {
	if d.cfg.Script == "" {
		return "", fmt.Errorf("%w: no script configured", ErrDelegateUnavailable)
	}
	info, err := os.Stat(d.cfg.Script)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: script %s not found", ErrDelegateUnavailable, d.cfg.Script)
	}

	if len(d.cfg.Interpreters) == 0 {
		if info.Mode().Perm()&0o111 == 0 {
			return "", fmt.Errorf("%w: script %s is not executable", ErrDelegateUnavailable, d.cfg.Script)
		}
		return "", nil
	}

	var reasons []string
	for _, name := range d.cfg.Interpreters {
		path, err := exec.LookPath(name)
		if err != nil {
			reasons = append(reasons, name+": not found")
			continue
		}
		if err := d.probeModules(ctx, path); err != nil {
			reasons = append(reasons, name+": "+err.Error())
			continue
		}
		return path, nil
	}

	d.logger.WarnContext(ctx, "no usable interpreter for validation delegate",
		slog.String("reasons", strings.Join(reasons, "; ")))
	return "", fmt.Errorf("%w: %s", ErrDelegateUnavailable, strings.Join(reasons, "; "))
}

// probeModules asks the interpreter to import the required modules.
func (d *ProcessDelegate) probeModules(ctx context.Context, interp string) error {
	if len(d.cfg.ProbeModules) == 0 {
		return nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, interp, "-c", "import "+strings.Join(d.cfg.ProbeModules, ", "))
	cmd.WaitDelay = time.Second
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("capability probe failed: %v: %s", err, truncate(strings.TrimSpace(string(out)), 120))
	}
	return nil
}

func (d *ProcessDelegate) command(ctx context.Context, interp, script, artifact string) *exec.Cmd {
	var cmd *exec.Cmd
	if interp == "" {
		cmd = exec.CommandContext(ctx, script, artifact)
	} else {
		cmd = exec.CommandContext(ctx, interp, script, artifact)
	}
	cmd.WaitDelay = time.Second
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
