// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package tracking

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/ocms-analytics/internal/classify"
)

// SessionCookie carries the visit id between page loads.
const SessionCookie = "ocms_sid"

// sessionIdle is the cookie lifetime, renewed on every tracked page.
const sessionIdle = 30 * time.Minute

const trackTimeout = 5 * time.Second

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.status = http.StatusOK
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}

// MiddlewareConfig configures the tracking middleware.
type MiddlewareConfig struct {
	// ExcludePaths are extra path prefixes that are never tracked.
	ExcludePaths []string
	// UserID returns the authenticated principal of a request, or nil.
	UserID func(*http.Request) *int64
	// Secure marks the session cookie as HTTPS-only.
	Secure bool
}

// Middleware returns middleware that tracks successful page renders.
// Tracking runs after the response and in its own goroutine; Wait drains
// the writes still in flight.
func (t *Tracker) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !shouldTrack(r, cfg.ExcludePaths) {
				next.ServeHTTP(w, r)
				return
			}

			sid, isNew := sessionID(r)
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    sid,
				Path:     "/",
				MaxAge:   int(sessionIdle.Seconds()),
				HttpOnly: true,
				Secure:   cfg.Secure,
				SameSite: http.SameSiteLaxMode,
			})

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			if rw.status != http.StatusOK {
				t.logger.Debug("analytics: skipping non-200 response", "path", r.URL.Path, "status", rw.status)
				return
			}

			var userID *int64
			if cfg.UserID != nil {
				userID = cfg.UserID(r)
			}
			session := SessionData{
				SessionID:   sid,
				UserID:      userID,
				IPAddress:   t.classifier.RequestIP(r),
				UserAgent:   r.UserAgent(),
				Referrer:    r.Referer(),
				Language:    classify.PrimaryLanguage(r.Header.Get("Accept-Language")),
				LandingPage: r.URL.Path,
			}
			view := PageViewData{SessionID: sid, UserID: userID, Page: r.URL.Path}

			ctx := context.WithoutCancel(r.Context())
			t.wg.Go(func() {
				ctx, cancel := context.WithTimeout(ctx, trackTimeout)
				defer cancel()
				t.TrackVisit(ctx, session, view, isNew)
			})
		})
	}
}

// Wait blocks until every visit detached by Middleware has been written.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// sessionID returns the visit id from the cookie, or a new one.
func sessionID(r *http.Request) (string, bool) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value, false
		}
	}
	return uuid.NewString(), true
}

var staticPrefixes = []string{
	"/static/",
	"/assets/",
	"/media/",
	"/uploads/",
	"/favicon.",
	"/robots.txt",
	"/sitemap",
	"/.well-known/",
}

var staticExtensions = []string{
	".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp",
	".woff", ".woff2", ".ttf", ".eot", ".otf",
	".xml", ".json", ".txt", ".pdf",
	".mp3", ".mp4", ".webm", ".ogg", ".wav",
	".zip", ".tar", ".gz", ".rar",
}

var adminAPIPrefixes = []string{
	"/admin",
	"/api/",
	"/health",
	"/metrics",
}

// shouldTrack reports whether a request is a trackable page render.
func shouldTrack(r *http.Request, exclude []string) bool {
	if r.Method != http.MethodGet {
		return false
	}

	path := r.URL.Path
	for _, prefix := range staticPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}

	pathLower := strings.ToLower(path)
	for _, ext := range staticExtensions {
		if strings.HasSuffix(pathLower, ext) {
			return false
		}
	}

	for _, prefix := range adminAPIPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}

	for _, prefix := range exclude {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return false
		}
	}

	return true
}
