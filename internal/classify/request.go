// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package classify

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/language"
)

// DefaultFallbackIP is used when a request carries no parseable address.
const DefaultFallbackIP = "0.0.0.0"

// ClientIP returns the best-effort caller address: the first X-Forwarded-For
// entry, then X-Real-IP, then the peer address, then the fallback. Each
// candidate must parse as an IP. It never fails.
func (c *Classifier) ClientIP(h http.Header, remoteAddr string) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
	}

	if ip := parseIP(h.Get("X-Real-IP")); ip != "" {
		return ip
	}

	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		if ip := parseIP(host); ip != "" {
			return ip
		}
	}
	if ip := parseIP(remoteAddr); ip != "" {
		return ip
	}

	return c.fallbackIP
}

// RequestIP is ClientIP for an incoming request.
func (c *Classifier) RequestIP(r *http.Request) string {
	return c.ClientIP(r.Header, r.RemoteAddr)
}

func parseIP(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}

// ReferrerHost extracts the lowercase host of a referrer URL, without port.
func ReferrerHost(referrer string) string {
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// PrimaryLanguage returns the base language of the highest-weighted
// Accept-Language entry ("en" for "en-US,fr;q=0.8"), or "" if none.
func PrimaryLanguage(header string) string {
	if header == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 || tags[0] == language.Und {
		return ""
	}
	base, conf := tags[0].Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}
