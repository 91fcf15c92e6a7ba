// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/olegiv/ocms-analytics/internal/model"
	"github.com/olegiv/ocms-analytics/internal/store"
)

// EventsPerPage is the default number of events per page.
const EventsPerPage = 25

// maxEventsPerPage caps the limit query parameter.
const maxEventsPerPage = 100

// EventStore reads the event log. *store.Queries satisfies it.
type EventStore interface {
	ListEvents(ctx context.Context, arg store.ListEventsParams) ([]model.Event, error)
	CountEvents(ctx context.Context, category string) (int64, error)
}

// EventsHandler handles the event log route.
type EventsHandler struct {
	store  EventStore
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(s EventStore, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{store: s, logger: logger}
}

// EventEntry is the JSON form of an event log row. Metadata is decoded
// so clients do not have to parse a JSON string.
type EventEntry struct {
	ID        int64          `json:"id"`
	Level     string         `json:"level"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// List handles GET /api/admin/events?category=&page=&limit=.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	page, limit := parsePage(r, EventsPerPage, maxEventsPerPage)

	total, err := h.store.CountEvents(r.Context(), category)
	if err != nil {
		writeServiceError(w, h.logger, "count events", err)
		return
	}
	events, err := h.store.ListEvents(r.Context(), store.ListEventsParams{
		Category: category,
		Limit:    int64(limit),
		Offset:   int64((page - 1) * limit),
	})
	if err != nil {
		writeServiceError(w, h.logger, "list events", err)
		return
	}

	out := make([]EventEntry, len(events))
	for i, e := range events {
		out[i] = EventEntry{
			ID:        e.ID,
			Level:     e.Level,
			Category:  e.Category,
			Message:   e.Message,
			Metadata:  decodeMetadata(e.Metadata),
			CreatedAt: e.CreatedAt,
		}
	}
	writeSuccess(w, out, &Meta{Total: total, Page: page, PerPage: limit, Pages: pages(total, limit)})
}

// decodeMetadata returns nil for empty or malformed metadata.
func decodeMetadata(s string) map[string]any {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
