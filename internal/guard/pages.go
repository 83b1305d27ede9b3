package guard

import (
	"net/url"
	"path"
	"strings"
)

// PageID identifies a page by the base name of its route, without extension.
type PageID string

const (
	PageDashboardMonitor PageID = "dashboard_monitor"
	PageDashboardAdmin   PageID = "dashboard_admin"
	PageLicenseInfo      PageID = "license_info"
	PageLogin            PageID = "login"
	PageLogout           PageID = "logout"
	PageIndex            PageID = "index"
)

// DefaultAllowList is the set of pages reachable without an entitlement.
func DefaultAllowList() []PageID {
	return []PageID{
		PageDashboardMonitor,
		PageDashboardAdmin,
		PageLicenseInfo,
		PageLogin,
		PageLogout,
	}
}

// PageFromPath derives the page identifier from a request URI: the last path
// segment without a ".php" suffix, so "/ui/license_info.php?x=1" is
// "license_info". The root maps to PageIndex.
func PageFromPath(raw string) PageID {
	base := path.Base(strings.TrimRight(requestPath(raw), "/"))
	if base == "." || base == "/" || base == "" {
		return PageIndex
	}
	base = strings.TrimSuffix(base, ".php")
	if base == "" {
		return PageIndex
	}
	return PageID(base)
}

// IsPagePath reports whether a request URI names a page rather than a static
// asset. Pages are ".php" routes and extensionless routes; anything else,
// such as "/ui/assets/js/login.js", is an asset.
func IsPagePath(raw string) bool {
	ext := path.Ext(strings.TrimRight(requestPath(raw), "/"))
	return ext == "" || ext == ".php"
}

func requestPath(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Path
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}
