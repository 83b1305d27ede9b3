package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageFromPath(t *testing.T) {
	tests := []struct {
		path string
		want PageID
	}{
		{"/ui/license_info.php", PageLicenseInfo},
		{"/ui/license_info.php?tab=activate", PageLicenseInfo},
		{"/ui/dashboard_monitor.php#top", PageDashboardMonitor},
		{"/auth/login.php", PageLogin},
		{"/logout", PageLogout},
		{"/ui/dashboard_admin/", PageDashboardAdmin},
		{"devices.php", PageID("devices")},
		{"/ui/settings.php", PageID("settings")},
		{"/assets/app.js", PageID("app.js")},
		{"/", PageIndex},
		{"", PageIndex},
		{"/ui/.php", PageIndex},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, PageFromPath(tt.path))
		})
	}
}

func TestIsPagePath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/ui/license_info.php", true},
		{"/ui/license_info.php?tab=activate", true},
		{"/logout", true},
		{"/ui/dashboard_admin/", true},
		{"/", true},
		{"/ui/assets/js/login.js", false},
		{"/ui/assets/css/style.css", false},
		{"/ui/img/logo.png?v=2", false},
		{"/ui/favicon.ico", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPagePath(tt.path))
		})
	}
}

func TestDefaultAllowList(t *testing.T) {
	assert.ElementsMatch(t, []PageID{
		"dashboard_monitor", "dashboard_admin", "license_info", "login", "logout",
	}, DefaultAllowList())
}
