package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"str-manager/internal/model"
)

// History returns the state changes of one entity since the given time,
// oldest first. Entries whose state is unavailable, unknown or empty are
// dropped.
func (c *Client) History(ctx context.Context, entityID string, since time.Time) ([]model.StateChange, error) {
	q := url.Values{}
	q.Set("filter_entity_id", entityID)
	path := "/api/history/period/" + url.PathEscape(since.UTC().Format(time.RFC3339)) +
		"?" + q.Encode() + "&minimal_response&no_attributes"

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history of %s: %w", entityID, err)
	}
	return parseHistoryResponse(body)
}

// parseHistoryResponse parses the HA history API response.
// Format: array of arrays, one inner array per entity. With
// minimal_response only the first entry carries entity_id and full fields.
func parseHistoryResponse(data []byte) ([]model.StateChange, error) {
	var outer [][]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	var changes []model.StateChange
	for _, entityHistory := range outer {
		for _, raw := range entityHistory {
			var entry struct {
				State       string `json:"state"`
				LastChanged string `json:"last_changed"`
			}
			if err := json.Unmarshal(raw, &entry); err != nil {
				continue
			}
			if entry.State == "unavailable" || entry.State == "unknown" || entry.State == "" {
				continue
			}

			ts, err := time.Parse(time.RFC3339Nano, entry.LastChanged)
			if err != nil {
				continue
			}
			changes = append(changes, model.StateChange{State: entry.State, ChangedAt: ts})
		}
	}

	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].ChangedAt.Before(changes[j].ChangedAt)
	})
	return changes, nil
}
