package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marslog/internal/config"
	"marslog/internal/license"
)

// testConfig keeps every path inside a temp dir.
func testConfig(t *testing.T, store string) *config.Config {
	t.Helper()
	root := t.TempDir()

	webDir := filepath.Join(root, "web")
	require.NoError(t, os.MkdirAll(webDir, 0o755))
	for _, page := range []string{"dashboard_monitor.php", "devices.php", "license_info.php"} {
		require.NoError(t, os.WriteFile(filepath.Join(webDir, page), []byte("<html>"+page+"</html>"), 0o644))
	}

	require.NoError(t, os.MkdirAll(filepath.Join(webDir, "assets", "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(webDir, "assets", "css", "style.css"), []byte("body{}"), 0o644))

	cfg := config.Default()
	cfg.Server.WebDir = webDir
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(root, "logs", "marslog.log")
	cfg.License.ArtifactPaths = []string{filepath.Join(root, "license", "license_0.json.enc")}
	cfg.License.TrialDirs = []string{filepath.Join(root, "data")}
	cfg.License.FallbackDirs = []string{filepath.Join(root, "fallback")}
	cfg.License.MirrorPath = ""
	cfg.License.Store = store
	cfg.License.Delegate.Script = filepath.Join(root, "missing_validator.py")
	cfg.Security.ActivationRPS = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, store string) (*Application, *httptest.Server) {
	t.Helper()
	a, err := New(testConfig(t, store))
	require.NoError(t, err)
	srv := httptest.NewServer(a.Router)
	t.Cleanup(func() {
		srv.Close()
		a.release(context.Background())
	})
	return a, srv
}

func noRedirectClient() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func getJSON(t *testing.T, client *http.Client, method, url string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &body), string(data))
	return resp.StatusCode, body
}

func TestApplication_TrialLifecycle(t *testing.T) {
	for _, store := range []string{"file", "bolt"} {
		t.Run(store, func(t *testing.T) {
			a, srv := newTestApp(t, store)
			client := noRedirectClient()

			// fresh install: no license, no trial
			code, body := getJSON(t, client, http.MethodGet, srv.URL+"/api/license/status")
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, string(license.StatusNoLicenseFile), body["status"])
			assert.Equal(t, false, body["valid"])

			resp, err := client.Get(srv.URL + "/ui/devices.php")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusFound, resp.StatusCode)
			assert.Equal(t, "/ui/license_info.php?reason=no_license", resp.Header.Get("Location"))

			// static assets load without an entitlement
			resp, err = client.Get(srv.URL + "/ui/assets/css/style.css")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			// the license page itself stays reachable
			resp, err = client.Get(srv.URL + "/ui/license_info.php")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			code, body = getJSON(t, client, http.MethodPost, srv.URL+"/api/license/trial/activate")
			require.Equal(t, http.StatusCreated, code)
			assert.Equal(t, license.MsgTrialStarted, body["message"])

			code, body = getJSON(t, client, http.MethodPost, srv.URL+"/api/license/trial/activate")
			assert.Equal(t, http.StatusConflict, code)
			assert.Equal(t, license.MsgTrialAlreadyStarted, body["message"])

			code, body = getJSON(t, client, http.MethodGet, srv.URL+"/api/license/status")
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, string(license.StatusTrialMode), body["status"])

			resp, err = client.Get(srv.URL + "/ui/devices.php")
			require.NoError(t, err)
			page, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, string(page), "devices.php")

			code, body = getJSON(t, client, http.MethodGet, srv.URL+"/api/license/limits?current=10")
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, float64(10), body["devices"])
			assert.Equal(t, false, body["can_add_device"])

			code, body = getJSON(t, client, http.MethodGet, srv.URL+"/api/license/info")
			require.Equal(t, http.StatusOK, code)
			sys := body["system_info"].(map[string]any)
			assert.Equal(t, store, sys["store_backend"])
			assert.Equal(t, true, sys["trial_writable"])
			assert.Equal(t, false, sys["license_exists"])

			assert.True(t, a.License.Validator.TrialState(context.Background()).Started)
		})
	}
}

func TestApplication_ResetDisabledByDefault(t *testing.T) {
	_, srv := newTestApp(t, "file")
	code, body := getJSON(t, http.DefaultClient, http.MethodPost, srv.URL+"/api/license/trial/reset")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "RESET_DISABLED", body["error_code"])
}

func TestApplication_MetricsAndNotFound(t *testing.T) {
	_, srv := newTestApp(t, "file")

	resp, err := http.Get(srv.URL + "/api/license/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(metrics), "license_validations")

	code, body := getJSON(t, http.DefaultClient, http.MethodGet, srv.URL+"/api/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
	services := body["services"].(map[string]any)
	assert.Equal(t, "degraded", services["delegate"].(map[string]any)["status"])

	code, body = getJSON(t, http.DefaultClient, http.MethodGet, srv.URL+"/api/version")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, VERSION, body["version"])

	code, body = getJSON(t, http.DefaultClient, http.MethodGet, srv.URL+"/nowhere")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "/errors/not-found", body["type"])
}

func TestApplication_ServeAndStop(t *testing.T) {
	a, err := New(testConfig(t, "bolt"))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	errCh := a.Serve(context.Background(), ln)

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/license/trial")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.Stop(context.Background()))
	_, open := <-errCh
	assert.False(t, open)
}

func TestBuildLicenseStack_BadBoltLocation(t *testing.T) {
	cfg := testConfig(t, "bolt")
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.License.TrialDirs = []string{filepath.Join(blocker, "data")}
	cfg.License.FallbackDirs = []string{filepath.Join(blocker, "fallback")}

	_, err := BuildLicenseStack(cfg, nil, nil)
	assert.Error(t, err)
}
