package adapters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/providers"
)

// UptimeGridAdapter mirrors monitors to the UptimeGrid uptime-monitoring
// provider and normalizes its check-state webhooks
type UptimeGridAdapter struct {
	providers.BaseAdapter
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewUptimeGridAdapter creates an adapter against the given API endpoint
func NewUptimeGridAdapter(baseURL, apiKey string, timeout time.Duration) *UptimeGridAdapter {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UptimeGridAdapter{
		BaseAdapter: providers.BaseAdapter{Provider: "uptimegrid"},
		baseURL:     baseURL,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: timeout},
	}
}

type uptimeGridCheck struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Target   string `json:"target"`
	State    string `json:"state,omitempty"`
	Interval int    `json:"interval,omitempty"`
}

// uptimeGridEvent is a single entry in an UptimeGrid webhook delivery
type uptimeGridEvent struct {
	EventID    string    `json:"event_id"`
	CheckID    string    `json:"check_id"`
	State      string    `json:"state"`
	OccurredAt time.Time `json:"occurred_at"`
}

type uptimeGridWebhook struct {
	Events []uptimeGridEvent `json:"events"`
}

// uptimeGridStates maps provider check states to internal monitor statuses
var uptimeGridStates = map[string]string{
	"ok":       string(database.MonitorStatusUp),
	"failing":  string(database.MonitorStatusDown),
	"degraded": string(database.MonitorStatusDegraded),
	"paused":   string(database.MonitorStatusMaintenance),
}

// monitorStates maps internal monitor statuses to provider check states
var monitorStates = map[string]string{
	string(database.MonitorStatusUp):          "ok",
	string(database.MonitorStatusDown):        "failing",
	string(database.MonitorStatusDegraded):    "degraded",
	string(database.MonitorStatusMaintenance): "paused",
}

// Create registers the monitor as a provider check
func (a *UptimeGridAdapter) Create(entity providers.Entity) (string, error) {
	check := uptimeGridCheck{Name: entity.Name, Target: entity.Target}
	var created uptimeGridCheck
	if err := a.do(http.MethodPost, "/api/v1/checks", check, &created); err != nil {
		return "", &providers.ExternalServiceError{Provider: a.Name(), Operation: "create", Err: err}
	}
	if created.ID == "" {
		return "", &providers.ExternalServiceError{Provider: a.Name(), Operation: "create", Err: fmt.Errorf("provider returned no check id")}
	}
	return created.ID, nil
}

// Update pushes the monitor's current state to the provider check
func (a *UptimeGridAdapter) Update(entity providers.Entity) error {
	check := uptimeGridCheck{
		Name:   entity.Name,
		Target: entity.Target,
		State:  monitorStates[entity.Status],
	}
	if err := a.do(http.MethodPut, "/api/v1/checks/"+entity.ExternalID, check, nil); err != nil {
		return &providers.ExternalServiceError{Provider: a.Name(), Operation: "update", Err: err}
	}
	return nil
}

// Remove deletes the provider check
func (a *UptimeGridAdapter) Remove(externalID string) error {
	if err := a.do(http.MethodDelete, "/api/v1/checks/"+externalID, nil, nil); err != nil {
		return &providers.ExternalServiceError{Provider: a.Name(), Operation: "remove", Err: err}
	}
	return nil
}

// Acknowledge is a no-op for a pure uptime provider; checks have no
// acknowledgement concept
func (a *UptimeGridAdapter) Acknowledge(externalID string) error {
	return nil
}

// Resolve marks the provider check as recovered
func (a *UptimeGridAdapter) Resolve(externalID string) error {
	body := map[string]string{"state": "ok"}
	if err := a.do(http.MethodPost, "/api/v1/checks/"+externalID+"/resolve", body, nil); err != nil {
		return &providers.ExternalServiceError{Provider: a.Name(), Operation: "resolve", Err: err}
	}
	return nil
}

// ParseWebhook normalizes an UptimeGrid delivery into canonical events
func (a *UptimeGridAdapter) ParseWebhook(body []byte) ([]providers.NormalizedEvent, error) {
	var payload uptimeGridWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse uptimegrid payload: %w", err)
	}

	var events []providers.NormalizedEvent
	for _, ev := range payload.Events {
		status, ok := uptimeGridStates[ev.State]
		if !ok {
			// Unknown states are skipped rather than failing the delivery
			continue
		}
		events = append(events, providers.NormalizedEvent{
			EntityType: providers.EntityTypeMonitor,
			ExternalID: ev.CheckID,
			EventID:    ev.EventID,
			Status:     status,
			UpdatedAt:  ev.OccurredAt,
		})
	}
	return events, nil
}

func (a *UptimeGridAdapter) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
