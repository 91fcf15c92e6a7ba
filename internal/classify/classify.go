// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package classify derives device, browser, OS and bot status from user-agent
// strings and extracts client IPs from request metadata.
//
// Classification is first-match-wins over ordered, read-only signature tables
// that are compiled in. A Classifier is safe for concurrent use.
package classify

import (
	"strings"

	"github.com/mileusna/useragent"

	"github.com/olegiv/ocms-analytics/internal/model"
)

// Unknown is reported when no signature matches.
const Unknown = "unknown"

// signature maps a lowercase substring to a display name.
type signature struct {
	token string
	name  string
}

// Tablet tokens are checked before mobile tokens: tablet user agents often
// carry phone tokens too ("iPad ... Mobile/15E148").
var tabletTokens = []string{"tablet", "ipad", "kindle", "silk", "playbook", "nook", "kobo"}

var mobileTokens = []string{
	"mobile", "iphone", "ipod", "android", "blackberry",
	"windows phone", "opera mini", "iemobile", "webos",
}

// Browsers embed the names of the engines they build on, so more specific
// signatures come first (Edge and Opera before Chrome, Chrome before Safari).
var browserSignatures = []signature{
	{"edg", "Edge"},
	{"opr/", "Opera"},
	{"opera", "Opera"},
	{"samsungbrowser", "Samsung Internet"},
	{"ucbrowser", "UC Browser"},
	{"yabrowser", "Yandex"},
	{"vivaldi", "Vivaldi"},
	{"firefox", "Firefox"},
	{"fxios", "Firefox"},
	{"crios", "Chrome"},
	{"chromium", "Chromium"},
	{"chrome", "Chrome"},
	{"safari", "Safari"},
	{"msie", "Internet Explorer"},
	{"trident", "Internet Explorer"},
}

var osSignatures = []signature{
	{"windows phone", "Windows Phone"},
	{"windows", "Windows"},
	{"ipad", "iOS"},
	{"iphone", "iOS"},
	{"ipod", "iOS"},
	{"android", "Android"},
	{"cros ", "Chrome OS"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"linux", "Linux"},
}

var botTokens = []string{
	"bot", "crawler", "spider", "scraper",
	"slurp", "baiduspider", "yandex.com/bots", "facebookexternalhit", "facebot",
	"ia_archiver", "semrush", "ahrefs", "mj12", "dotbot", "petalbot", "bytespider",
	"whatsapp", "embedly", "quora link preview",
	"headlesschrome", "phantomjs", "lighthouse", "pingdom", "uptimerobot",
	"python-requests", "python-urllib", "curl/", "wget", "go-http-client", "java/",
	"okhttp", "libwww-perl", "httpclient", "scrapy",
}

// Result is the combined classification of one user agent.
type Result struct {
	Device         model.DeviceType
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	IsBot          bool
}

// Classifier holds the signature tables and the IP fallback.
type Classifier struct {
	tablet     []string
	mobile     []string
	browsers   []signature
	systems    []signature
	bots       []string
	fallbackIP string
}

// New returns a Classifier with the built-in tables. fallbackIP is returned by
// ClientIP when no usable address is found.
func New(fallbackIP string) *Classifier {
	if fallbackIP == "" {
		fallbackIP = DefaultFallbackIP
	}
	return &Classifier{
		tablet:     tabletTokens,
		mobile:     mobileTokens,
		browsers:   browserSignatures,
		systems:    osSignatures,
		bots:       botTokens,
		fallbackIP: fallbackIP,
	}
}

// Device classifies the device type. Empty input is unknown, unmatched input desktop.
func (c *Classifier) Device(ua string) model.DeviceType {
	s := normalize(ua)
	if s == "" {
		return model.DeviceUnknown
	}
	if containsAny(s, c.tablet) {
		return model.DeviceTablet
	}
	if containsAny(s, c.mobile) {
		return model.DeviceMobile
	}
	return model.DeviceDesktop
}

// Browser returns the browser family or Unknown.
func (c *Classifier) Browser(ua string) string {
	return firstMatch(normalize(ua), c.browsers)
}

// OS returns the operating system family or Unknown.
func (c *Classifier) OS(ua string) string {
	return firstMatch(normalize(ua), c.systems)
}

// IsBot reports whether ua contains any bot token. Empty input is not a bot.
func (c *Classifier) IsBot(ua string) bool {
	s := normalize(ua)
	return s != "" && containsAny(s, c.bots)
}

// Classify runs every classification on ua. Versions come from the
// useragent parser and are left empty when the family is Unknown.
func (c *Classifier) Classify(ua string) Result {
	r := Result{
		Device:  c.Device(ua),
		Browser: c.Browser(ua),
		OS:      c.OS(ua),
		IsBot:   c.IsBot(ua),
	}
	if r.Browser == Unknown && r.OS == Unknown {
		return r
	}
	parsed := useragent.Parse(ua)
	if r.Browser != Unknown {
		r.BrowserVersion = parsed.Version
	}
	if r.OS != Unknown {
		r.OSVersion = parsed.OSVersion
	}
	return r
}

func normalize(ua string) string {
	return strings.ToLower(strings.TrimSpace(ua))
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func firstMatch(s string, sigs []signature) string {
	if s == "" {
		return Unknown
	}
	for _, sig := range sigs {
		if strings.Contains(s, sig.token) {
			return sig.name
		}
	}
	return Unknown
}
