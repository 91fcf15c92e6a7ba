// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package geoip provides IP-to-location lookup using a MaxMind GeoLite2-City
// (or GeoLite2-Country) database.
package geoip

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/olegiv/ocms-analytics/internal/util"
)

// LocalCountry is reported for private, loopback and reserved addresses.
const LocalCountry = "LOCAL"

// Location is the result of a lookup. Empty fields mean unknown.
type Location struct {
	Country string // ISO 3166-1 alpha-2
	City    string // English name
}

// Lookup handles IP to location lookup. The zero value is disabled.
type Lookup struct {
	db          *maxminddb.Reader
	dbPath      string
	dbModTime   time.Time
	initialized bool
	enabled     bool
	mu          sync.RWMutex
}

// geoRecord matches the GeoLite2-City structure. Country databases leave City empty.
type geoRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
}

// NewLookup creates a new GeoIP lookup instance.
func NewLookup() *Lookup {
	return &Lookup{}
}

// Init loads the database from path. An empty path disables lookups.
func (g *Lookup) Init(dbPath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.initialized = true
	g.dbPath = dbPath

	if dbPath == "" {
		g.enabled = false
		return nil
	}

	return g.loadDatabase()
}

// loadDatabase loads or reloads the MaxMind database.
// Caller must hold g.mu write lock.
func (g *Lookup) loadDatabase() error {
	info, err := os.Stat(g.dbPath)
	if err != nil {
		g.enabled = false
		if os.IsNotExist(err) {
			return fmt.Errorf("GeoIP database not found: %s", g.dbPath)
		}
		return fmt.Errorf("GeoIP database stat error: %w", err)
	}

	// Skip reload if not modified
	if g.db != nil && info.ModTime().Equal(g.dbModTime) {
		return nil
	}

	if g.db != nil {
		_ = g.db.Close()
		g.db = nil
	}

	db, err := maxminddb.Open(g.dbPath)
	if err != nil {
		g.enabled = false
		return fmt.Errorf("failed to open GeoIP database: %w", err)
	}

	g.db = db
	g.dbModTime = info.ModTime()
	g.enabled = true

	return nil
}

// Reload reopens the database if the file changed since the last load.
func (g *Lookup) Reload() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.dbPath == "" {
		return nil
	}

	return g.loadDatabase()
}

// Locate returns the country and city for ip.
// Private and reserved addresses map to LocalCountry; invalid input and
// disabled lookups yield an empty Location.
func (g *Lookup) Locate(ip string) Location {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.initialized {
		return Location{}
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return Location{}
	}

	if util.IsPrivateIP(parsedIP) {
		return Location{Country: LocalCountry}
	}

	if !g.enabled || g.db == nil {
		return Location{}
	}

	var record geoRecord
	if err := g.db.Lookup(parsedIP, &record); err != nil {
		return Location{}
	}

	return Location{
		Country: record.Country.ISOCode,
		City:    record.City.Names["en"],
	}
}

// IsEnabled returns whether GeoIP lookups are available.
func (g *Lookup) IsEnabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// Close closes the GeoIP database.
func (g *Lookup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db != nil {
		err := g.db.Close()
		g.db = nil
		g.enabled = false
		return err
	}
	return nil
}

var countries = sync.OnceValue(gountries.New)

// CountryName returns the common English name for a 2-letter country code.
func CountryName(code string) string {
	switch code {
	case "":
		return "Unknown"
	case LocalCountry:
		return "Local Network"
	}
	c, err := countries().FindCountryByAlpha(code)
	if err != nil {
		return cases.Upper(language.Und).String(code)
	}
	return c.Name.Common
}
