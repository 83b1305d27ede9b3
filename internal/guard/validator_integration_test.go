package guard

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marslog/internal/license"
	"marslog/internal/storage"
	"marslog/internal/trial"
)

type stubDelegate struct {
	result license.Result
}

func (s stubDelegate) Invoke(context.Context, string, time.Duration) (license.Result, error) {
	return s.result, nil
}

func newValidator(t *testing.T, d license.Delegate, startedAgo time.Duration, withArtifact bool) *license.Validator {
	t.Helper()
	dir := t.TempDir()
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.Local)

	store, err := storage.NewKeyFileStore([]string{dir}, nil)
	require.NoError(t, err)
	if startedAgo > 0 {
		_, err := store.Write("trial_started.json", trial.Encode(trial.Activate(now.Add(-startedAgo))))
		require.NoError(t, err)
	}

	artifact := filepath.Join(dir, "license_0.json.enc")
	if withArtifact {
		require.NoError(t, os.WriteFile(artifact, []byte("blob"), 0o644))
	}

	v, err := license.NewValidator(store, d, license.Options{
		ArtifactPaths: []string{artifact},
		TrialLimits:   license.Limits{Devices: 10, EPS: 1000},
		Now:           func() time.Time { return now },
	})
	require.NoError(t, err)
	return v
}

func TestGuardWithValidator_ExpiredTrial(t *testing.T) {
	v := newValidator(t, nil, 31*trial.Day, false)
	g := newGuard(t, v, nil)

	d := g.Check(context.Background(), "s", "settings")
	assert.False(t, d.Allow)
	assert.Equal(t, license.StatusTrialExpired, d.Status)
	assert.Equal(t, ReasonTrialExpired, d.Reason)

	assert.True(t, g.Check(context.Background(), "s", PageDashboardMonitor).Allow)
	assert.False(t, g.CanAddDevice(context.Background(), 0))
}

func TestGuardWithValidator_ActiveTrial(t *testing.T) {
	v := newValidator(t, nil, 29*trial.Day, false)
	g := newGuard(t, v, nil)

	d := g.Check(context.Background(), "s", "settings")
	assert.True(t, d.Allow)
	assert.Equal(t, license.StatusTrialMode, d.Status)
	require.Len(t, d.Warnings, 1)
	assert.Equal(t, TrialExpiringSoon, d.Warnings[0].Kind)
	assert.Equal(t, 10, g.DeviceLimit(context.Background()))
}

func TestGuardWithValidator_LicensedPassthrough(t *testing.T) {
	v := newValidator(t, stubDelegate{result: license.Result{Valid: true, Status: "Licensed"}}, 0, true)
	g := newGuard(t, v, nil)

	for _, page := range testPages {
		d := g.Check(context.Background(), "s", page)
		assert.True(t, d.Allow, page)
		assert.Empty(t, d.Warnings, page)
	}
	assert.Equal(t, license.Unlimited, g.EPSLimit(context.Background()))
	assert.True(t, g.CanAddDevice(context.Background(), 1_000_000))
}
