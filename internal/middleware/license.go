package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	apierrors "marslog/internal/errors"
	"marslog/internal/guard"
)

// WarningHeader carries expiry warnings attached to an allowed page.
const WarningHeader = "X-License-Warning"

type decisionKey struct{}

// WithDecision stores the access decision for downstream handlers.
func WithDecision(ctx context.Context, d guard.Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// DecisionFromContext returns the decision made by PageGuard, if any.
func DecisionFromContext(ctx context.Context) (guard.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(guard.Decision)
	return d, ok
}

// PageGuard runs the access guard in front of dashboard pages.
type PageGuard struct {
	guard  *guard.Guard
	cookie string
	logger *slog.Logger
}

// NewPageGuard binds g to the session cookie named cookie.
func NewPageGuard(g *guard.Guard, cookie string, logger *slog.Logger) *PageGuard {
	if logger == nil {
		logger = slog.Default()
	}
	if cookie == "" {
		cookie = "PHPSESSID"
	}
	return &PageGuard{
		guard:  g,
		cookie: cookie,
		logger: logger.With(slog.String("component", "page_guard")),
	}
}

// Handler checks every page request against the guard; static assets pass
// straight through. Allowed requests continue
// with the decision in their context and any warnings in WarningHeader;
// denied page requests are redirected to the license page, denied API
// requests get 428 Precondition Required.
func (pg *PageGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := pg.session(w, r)
		d := pg.guard.CheckPath(r.Context(), session, r.URL.Path)

		if d.Allow {
			for _, warning := range d.Warnings {
				w.Header().Add(WarningHeader, warning.Message())
			}
			next.ServeHTTP(w, r.WithContext(WithDecision(r.Context(), d)))
			return
		}

		pg.logger.DebugContext(r.Context(), "redirecting to license page",
			slog.String("path", r.URL.Path),
			slog.String("reason", string(d.Reason)))

		if wantsJSON(r) {
			problem := apierrors.NewProblemDetails(
				http.StatusPreconditionRequired,
				apierrors.TypeLicenseRequired,
				"License Required",
				d.Message,
				r.URL.Path,
			).WithExtension("reason", d.Reason).
				WithExtension("license_status", d.Status).
				WithExtension("redirect", d.RedirectTarget).
				WithExtension("trace_id", GetRequestID(r.Context()))
			render.Render(w, r, problem)
			return
		}

		target := d.RedirectTarget
		if d.Reason != guard.ReasonNone {
			target += "?" + url.Values{"reason": {string(d.Reason)}}.Encode()
		}
		http.Redirect(w, r, target, http.StatusFound)
	})
}

// session returns the caller's session ID, issuing a new session cookie
// when the request has none.
func (pg *PageGuard) session(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(pg.cookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     pg.cookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
