// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package classify

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/olegiv/ocms-analytics/internal/model"
)

const (
	uaWindowsChrome = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaWindowsEdge   = uaWindowsChrome + " Edg/120.0.0.0"
	uaMacFirefox    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0"
	uaMacSafari     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"
	uaLinuxFirefox  = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	uaChromeOS      = "Mozilla/5.0 (X11; CrOS x86_64 14541.0.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaIPhone        = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaIPad          = "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaAndroid       = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	uaAndroidTab    = "Mozilla/5.0 (Linux; Android 13; SM-X200 Tablet) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	uaKindle        = "Mozilla/5.0 (Linux; U; Android 4.0.3; en-us; KFTT Build/IML74K) AppleWebKit/537.36 (KHTML, like Gecko) Silk/3.68 like Chrome/39.0.2171.93 Safari/537.36"
	uaWindowsPhone  = "Mozilla/5.0 (Windows Phone 10.0; Android 6.0.1; Microsoft; Lumia 950) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/52.0.2743.116 Mobile Safari/537.36 Edge/15.15063"
	uaIE11          = "Mozilla/5.0 (Windows NT 10.0; Trident/7.0; rv:11.0) like Gecko"
	uaOpera         = uaWindowsChrome + " OPR/105.0.0.0"
	uaSamsung       = "Mozilla/5.0 (Linux; Android 13; SM-S911B) AppleWebKit/537.36 (KHTML, like Gecko) SamsungBrowser/23.0 Chrome/115.0.0.0 Mobile Safari/537.36"
	uaChromeIOS     = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/120.0.6099.119 Mobile/15E148 Safari/604.1"
	uaGooglebot     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	uaGooglebotMob  = "Mozilla/5.0 (Linux; Android 6.0.1; Nexus 5X Build/MMB29P) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestDevice(t *testing.T) {
	c := New("")
	tests := []struct {
		name string
		ua   string
		want model.DeviceType
	}{
		{"empty", "", model.DeviceUnknown},
		{"whitespace", "   ", model.DeviceUnknown},
		{"windows chrome", uaWindowsChrome, model.DeviceDesktop},
		{"mac safari", uaMacSafari, model.DeviceDesktop},
		{"iphone", uaIPhone, model.DeviceMobile},
		{"android phone", uaAndroid, model.DeviceMobile},
		{"windows phone", uaWindowsPhone, model.DeviceMobile},
		{"ipad with mobile token", uaIPad, model.DeviceTablet},
		{"android tablet with mobile token", uaAndroidTab, model.DeviceTablet},
		{"kindle silk", uaKindle, model.DeviceTablet},
		{"unmatched", "SomethingWeird/1.0", model.DeviceDesktop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Device(tt.ua))
		})
	}
}

func TestDevice_TabletBeatsMobile(t *testing.T) {
	c := New("")
	for _, tab := range tabletTokens {
		for _, mob := range mobileTokens {
			ua := "Mozilla/5.0 (" + mob + "; " + tab + ")"
			assert.Equal(t, model.DeviceTablet, c.Device(ua), ua)
		}
	}
}

func TestBrowser(t *testing.T) {
	c := New("")
	tests := []struct {
		ua   string
		want string
	}{
		{"", Unknown},
		{uaWindowsChrome, "Chrome"},
		{uaWindowsEdge, "Edge"},
		{uaWindowsPhone, "Edge"},
		{uaOpera, "Opera"},
		{uaSamsung, "Samsung Internet"},
		{uaChromeIOS, "Chrome"},
		{uaMacFirefox, "Firefox"},
		{uaMacSafari, "Safari"},
		{uaIPhone, "Safari"},
		{uaIE11, "Internet Explorer"},
		{"SomethingWeird/1.0", Unknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Browser(tt.ua), tt.ua)
	}
}

func TestOS(t *testing.T) {
	c := New("")
	tests := []struct {
		ua   string
		want string
	}{
		{"", Unknown},
		{uaWindowsChrome, "Windows"},
		{uaWindowsPhone, "Windows Phone"},
		{uaMacFirefox, "macOS"},
		{uaIPhone, "iOS"},
		{uaIPad, "iOS"},
		{uaAndroid, "Android"},
		{uaChromeOS, "Chrome OS"},
		{uaLinuxFirefox, "Linux"},
		{"SomethingWeird/1.0", Unknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.OS(tt.ua), tt.ua)
	}
}

func TestIsBot(t *testing.T) {
	c := New("")
	bots := []string{
		uaGooglebot,
		uaGooglebotMob,
		"Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)",
		"facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)",
		"Mozilla/5.0 (compatible; AhrefsBot/7.0; +http://ahrefs.com/robot/)",
		"Some Web Crawler 1.0",
		"MySpider",
		"content-scraper",
		"curl/8.4.0",
		"python-requests/2.31.0",
		"Go-http-client/1.1",
		"Wget/1.21",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36",
	}
	for _, ua := range bots {
		assert.True(t, c.IsBot(ua), ua)
	}

	humans := []string{"", uaWindowsChrome, uaIPhone, uaIPad, uaAndroid, uaMacFirefox, uaIE11}
	for _, ua := range humans {
		assert.False(t, c.IsBot(ua), ua)
	}
}

func TestEmptyInputIsUnknown(t *testing.T) {
	c := New("")
	r := c.Classify("")
	assert.Equal(t, model.DeviceUnknown, r.Device)
	assert.Equal(t, Unknown, r.Browser)
	assert.Equal(t, Unknown, r.OS)
	assert.False(t, r.IsBot)
	assert.Empty(t, r.BrowserVersion)
	assert.Empty(t, r.OSVersion)
}

func TestClassify(t *testing.T) {
	r := New("").Classify(uaWindowsChrome)
	assert.Equal(t, model.DeviceDesktop, r.Device)
	assert.Equal(t, "Chrome", r.Browser)
	assert.Equal(t, "Windows", r.OS)
	assert.False(t, r.IsBot)
	assert.NotEmpty(t, r.BrowserVersion)

	r = New("").Classify("SomethingWeird/1.0")
	assert.Empty(t, r.BrowserVersion)
	assert.Empty(t, r.OSVersion)
}

func TestClassifier_Concurrent(t *testing.T) {
	c := New("")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, model.DeviceTablet, c.Device(uaIPad))
			assert.Equal(t, "Edge", c.Browser(uaWindowsEdge))
		}()
	}
	wg.Wait()
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		fallback   string
		want       string
	}{
		{
			name:       "forwarded-for first entry",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1", "X-Real-IP": "198.51.100.7"},
			remoteAddr: "10.0.0.2:4000",
			want:       "203.0.113.5",
		},
		{
			name:       "invalid forwarded-for falls through to real ip",
			headers:    map[string]string{"X-Forwarded-For": "unknown", "X-Real-IP": "198.51.100.7"},
			remoteAddr: "10.0.0.2:4000",
			want:       "198.51.100.7",
		},
		{
			name:       "peer address",
			remoteAddr: "192.0.2.1:1234",
			want:       "192.0.2.1",
		},
		{
			name:       "ipv6 peer address",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "peer address without port",
			remoteAddr: "192.0.2.9",
			want:       "192.0.2.9",
		},
		{
			name: "default fallback",
			want: DefaultFallbackIP,
		},
		{
			name:       "configured fallback",
			headers:    map[string]string{"X-Real-IP": "garbage"},
			remoteAddr: "pipe",
			fallback:   "127.0.0.1",
			want:       "127.0.0.1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, New(tt.fallback).ClientIP(h, tt.remoteAddr))
		})
	}
}

func TestRequestIP(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.44:5555"
	assert.Equal(t, "192.0.2.44", New("").RequestIP(r))
}

func TestReferrerHost(t *testing.T) {
	assert.Equal(t, "", ReferrerHost(""))
	assert.Equal(t, "www.google.com", ReferrerHost("https://www.Google.com/search?q=x"))
	assert.Equal(t, "example.org", ReferrerHost("http://example.org:8080/a"))
	assert.Equal(t, "", ReferrerHost("::not a url"))
}

func TestPrimaryLanguage(t *testing.T) {
	assert.Equal(t, "", PrimaryLanguage(""))
	assert.Equal(t, "en", PrimaryLanguage("en-US,en;q=0.9"))
	assert.Equal(t, "fr", PrimaryLanguage("fr-CH, fr;q=0.9, en;q=0.8"))
	assert.Equal(t, "pt", PrimaryLanguage("de;q=0.5, pt-BR;q=0.9"))
}
