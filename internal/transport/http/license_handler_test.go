package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"marslog/internal/guard"
	"marslog/internal/license"
	"marslog/internal/middleware"
	"marslog/internal/trial"
)

// MockLicenseService implements LicenseService for testing
type MockLicenseService struct {
	mock.Mock
}

func (m *MockLicenseService) Validate(ctx context.Context) license.Verdict {
	return m.Called(ctx).Get(0).(license.Verdict)
}

func (m *MockLicenseService) TrialState(ctx context.Context) trial.State {
	return m.Called(ctx).Get(0).(trial.State)
}

func (m *MockLicenseService) ActivateTrial(ctx context.Context) license.ActivationResult {
	return m.Called(ctx).Get(0).(license.ActivationResult)
}

func (m *MockLicenseService) ResetTrial(ctx context.Context) license.ResetResult {
	return m.Called(ctx).Get(0).(license.ResetResult)
}

func (m *MockLicenseService) Limits(ctx context.Context) license.Limits {
	return m.Called(ctx).Get(0).(license.Limits)
}

func (m *MockLicenseService) Info(ctx context.Context) license.Info {
	return m.Called(ctx).Get(0).(license.Info)
}

type MockWarnings struct {
	mock.Mock
}

func (m *MockWarnings) TakeWarnings(session string) []guard.Warning {
	args := m.Called(session)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]guard.Warning)
}

const adminToken = "s3cret-admin-token"

func adminHash(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newHandler(svc LicenseService, warnings WarningSource, cfg HandlerConfig) http.Handler {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewLicenseHandler(svc, warnings, cfg, logger).Routes()
}

func do(h http.Handler, method, target string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestGetStatus(t *testing.T) {
	svc := new(MockLicenseService)
	svc.On("Validate", mock.Anything).Return(license.Verdict{
		Valid:     true,
		Status:    license.StatusTrialMode,
		TrialMode: true,
		Limits:    license.Limits{Devices: 10, EPS: 1000},
		Source:    license.SourceTrial,
	})

	rec := do(newHandler(svc, nil, HandlerConfig{}), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "Trial Mode", body["status"])
	assert.Equal(t, "trial", body["source"])
	svc.AssertExpectations(t)
}

func TestGetInfoAndTrial(t *testing.T) {
	svc := new(MockLicenseService)
	svc.On("Info", mock.Anything).Return(license.Info{
		SystemInfo: license.SystemInfo{TrialFile: "/app/data/trial_started.json", StoreBackend: "file"},
	})
	svc.On("TrialState", mock.Anything).Return(trial.State{CanStart: true})

	h := newHandler(svc, nil, HandlerConfig{})

	rec := do(h, http.MethodGet, "/info")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store_backend":"file"`)

	rec = do(h, http.MethodGet, "/trial")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["can_start"])
}

func TestGetLimits(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		limits     license.Limits
		wantStatus int
		wantCanAdd any
	}{
		{name: "no query", query: "", limits: license.Limits{Devices: 10, EPS: 1000}, wantStatus: http.StatusOK},
		{name: "room left", query: "?current=9", limits: license.Limits{Devices: 10, EPS: 1000}, wantStatus: http.StatusOK, wantCanAdd: true},
		{name: "at limit", query: "?current=10", limits: license.Limits{Devices: 10, EPS: 1000}, wantStatus: http.StatusOK, wantCanAdd: false},
		{name: "unlimited", query: "?current=5000", limits: license.Limits{Devices: license.Unlimited, EPS: license.Unlimited}, wantStatus: http.StatusOK, wantCanAdd: true},
		{name: "not a number", query: "?current=abc", wantStatus: http.StatusBadRequest},
		{name: "negative", query: "?current=-1", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockLicenseService)
			svc.On("Limits", mock.Anything).Return(tt.limits).Maybe()

			rec := do(newHandler(svc, nil, HandlerConfig{}), http.MethodGet, "/limits"+tt.query)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			body := decode(t, rec)
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, "/errors/validation", body["type"])
				svc.AssertNotCalled(t, "Limits", mock.Anything)
				return
			}
			assert.Equal(t, float64(tt.limits.Devices), body["devices"])
			assert.Equal(t, tt.wantCanAdd, body["can_add_device"])
		})
	}
}

func TestGetWarnings(t *testing.T) {
	warnings := new(MockWarnings)
	warnings.On("TakeWarnings", "sess-1").Return([]guard.Warning{{Kind: guard.TrialExpiringSoon, Remaining: 5 * time.Hour}}).Once()
	warnings.On("TakeWarnings", "sess-1").Return(nil)

	h := newHandler(new(MockLicenseService), warnings, HandlerConfig{SessionCookie: "PHPSESSID"})
	withSession := func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "PHPSESSID", Value: "sess-1"}) }

	rec := do(h, http.MethodGet, "/warnings", withSession)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["warnings"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "trial_expiring_soon", list[0].(map[string]any)["kind"])

	rec = do(h, http.MethodGet, "/warnings", withSession)
	assert.Empty(t, decode(t, rec)["warnings"])

	// no session, no lookup
	rec = do(h, http.MethodGet, "/warnings")
	assert.Empty(t, decode(t, rec)["warnings"])
	warnings.AssertNumberOfCalls(t, "TakeWarnings", 2)
}

func TestActivateTrial(t *testing.T) {
	tests := []struct {
		name       string
		result     license.ActivationResult
		wantStatus int
	}{
		{
			name:       "started",
			result:     license.ActivationResult{Success: true, Message: license.MsgTrialStarted, Trial: trial.State{Active: true, Started: true, DaysRemaining: 30}},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "already started",
			result:     license.ActivationResult{Success: false, Message: license.MsgTrialAlreadyStarted},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "no writable location",
			result:     license.ActivationResult{Success: false, Message: license.MsgTrialPermission},
			wantStatus: http.StatusInsufficientStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockLicenseService)
			svc.On("ActivateTrial", mock.Anything).Return(tt.result)

			rec := do(newHandler(svc, nil, HandlerConfig{}), http.MethodPost, "/trial/activate")
			assert.Equal(t, tt.wantStatus, rec.Code)

			body := decode(t, rec)
			if tt.wantStatus == http.StatusInsufficientStorage {
				assert.Equal(t, tt.result.Message, body["detail"])
				return
			}
			assert.Equal(t, tt.result.Success, body["success"])
			assert.Equal(t, tt.result.Message, body["message"])
		})
	}
}

func TestActivateTrial_RateLimited(t *testing.T) {
	svc := new(MockLicenseService)
	svc.On("ActivateTrial", mock.Anything).Return(license.ActivationResult{Success: false, Message: license.MsgTrialAlreadyStarted})

	limiter := middleware.NewRateLimiter(0.001, 1, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	h := newHandler(svc, nil, HandlerConfig{ActivationLimit: limiter.Handler})

	assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/trial/activate").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodPost, "/trial/activate").Code)
	svc.AssertNumberOfCalls(t, "ActivateTrial", 1)

	// the limit applies to activation only
	svc.On("Validate", mock.Anything).Return(license.Verdict{})
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/status").Code)
}

func TestResetTrial(t *testing.T) {
	hash := adminHash(t)
	header := func(v string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set(AdminTokenHeader, v) }
	}
	bearer := func(v string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+v) }
	}

	tests := []struct {
		name       string
		hash       string
		auth       func(*http.Request)
		result     *license.ResetResult
		wantStatus int
	}{
		{name: "disabled", hash: "", auth: header(adminToken), wantStatus: http.StatusForbidden},
		{name: "missing token", hash: hash, auth: func(*http.Request) {}, wantStatus: http.StatusUnauthorized},
		{name: "wrong token", hash: hash, auth: header("nope"), wantStatus: http.StatusUnauthorized},
		{name: "oversized token", hash: hash, auth: header(strings.Repeat("x", 100)), wantStatus: http.StatusUnauthorized},
		{
			name:       "header token",
			hash:       hash,
			auth:       header(adminToken),
			result:     &license.ResetResult{Success: true, Message: license.MsgTrialReset},
			wantStatus: http.StatusOK,
		},
		{
			name:       "bearer token",
			hash:       hash,
			auth:       bearer(adminToken),
			result:     &license.ResetResult{Success: true, Message: license.MsgTrialReset},
			wantStatus: http.StatusOK,
		},
		{
			name:       "nothing to reset",
			hash:       hash,
			auth:       header(adminToken),
			result:     &license.ResetResult{Success: false, Message: license.MsgTrialNotStarted},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "delete failed",
			hash:       hash,
			auth:       header(adminToken),
			result:     &license.ResetResult{Success: false, Message: license.MsgTrialResetFailed},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockLicenseService)
			if tt.result != nil {
				svc.On("ResetTrial", mock.Anything).Return(*tt.result)
			}

			rec := do(newHandler(svc, nil, HandlerConfig{AdminTokenHash: tt.hash}), http.MethodPost, "/trial/reset", tt.auth)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.result == nil {
				svc.AssertNotCalled(t, "ResetTrial", mock.Anything)
			}
		})
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := newHandler(new(MockLicenseService), nil, HandlerConfig{})

	rec := do(h, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodDelete, "/status")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
