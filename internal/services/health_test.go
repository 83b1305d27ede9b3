package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"marslog/internal/license"
)

type fakeInfo struct {
	info license.Info
}

func (f fakeInfo) Info(context.Context) license.Info { return f.info }

func TestReadinessCheck(t *testing.T) {
	tests := []struct {
		name      string
		writable  bool
		delegate  bool
		want      string
		wantStore string
		wantDeleg string
	}{
		{"all ready", true, true, StatusReady, StatusReady, StatusReady},
		{"delegate missing degrades only", true, false, StatusReady, StatusReady, StatusDegraded},
		{"store not writable", false, true, StatusNotReady, StatusNotReady, StatusReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := fakeInfo{info: license.Info{
				Verdict: license.Verdict{Status: license.StatusTrialMode},
				SystemInfo: license.SystemInfo{
					TrialFile:         "/data/trial_started.json",
					TrialWritable:     tt.writable,
					DelegateAvailable: tt.delegate,
				},
			}}
			hs := NewHealthService("1.2.3", src, nil)

			got := hs.ReadinessCheck(context.Background())
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, "1.2.3", got.Version)
			assert.Equal(t, tt.wantStore, got.Services["trial_store"].Status)
			assert.Equal(t, tt.wantDeleg, got.Services["delegate"].Status)
			assert.Equal(t, string(license.StatusTrialMode), got.Services["license"].Message)
		})
	}
}

func TestReadinessCheck_NoSource(t *testing.T) {
	got := NewHealthService("1.0.0", nil, nil).ReadinessCheck(context.Background())
	assert.Equal(t, StatusNotReady, got.Status)
	assert.Equal(t, StatusNotReady, got.Services["license"].Status)
}

func TestLivenessAndVersion(t *testing.T) {
	hs := NewHealthService("1.0.0", nil, nil)

	live := hs.LivenessCheck(context.Background())
	assert.Equal(t, StatusAlive, live.Status)
	assert.Contains(t, live.Runtime, "goroutines")

	assert.Equal(t, StatusOK, hs.HealthCheck(context.Background()).Status)
	assert.Equal(t, "1.0.0", hs.Version()["version"])
}
