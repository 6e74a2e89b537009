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

// PagerLineAdapter mirrors alerts to the PagerLine on-call alerting provider
// and normalizes its incident webhooks
type PagerLineAdapter struct {
	providers.BaseAdapter
	baseURL string
	token   string
	client  *http.Client
}

// NewPagerLineAdapter creates an adapter against the given API endpoint
func NewPagerLineAdapter(baseURL, token string, timeout time.Duration) *PagerLineAdapter {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &PagerLineAdapter{
		BaseAdapter: providers.BaseAdapter{Provider: "pagerline"},
		baseURL:     baseURL,
		token:       token,
		client:      &http.Client{Timeout: timeout},
	}
}

type pagerLineIncident struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Body    string `json:"body,omitempty"`
	Urgency string `json:"urgency,omitempty"`
	Status  string `json:"status,omitempty"`
}

// pagerLineEvent is a single PagerLine webhook delivery
type pagerLineEvent struct {
	EventID    string    `json:"event_id"`
	IncidentID string    `json:"incident_id"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// pagerLineStatuses maps provider incident statuses to internal alert statuses
var pagerLineStatuses = map[string]string{
	"triggered":    string(database.AlertStatusActive),
	"acknowledged": string(database.AlertStatusAcknowledged),
	"resolved":     string(database.AlertStatusResolved),
}

// pagerLineUrgencies maps internal severities to provider urgency levels
var pagerLineUrgencies = map[string]string{
	string(database.AlertSeverityLow):      "low",
	string(database.AlertSeverityMedium):   "low",
	string(database.AlertSeverityHigh):     "high",
	string(database.AlertSeverityCritical): "high",
}

// Create opens a provider incident for the alert
func (a *PagerLineAdapter) Create(entity providers.Entity) (string, error) {
	incident := pagerLineIncident{
		Title:   entity.Name,
		Body:    entity.Summary,
		Urgency: pagerLineUrgencies[entity.Severity],
	}
	var created pagerLineIncident
	if err := a.do(http.MethodPost, "/v2/incidents", incident, &created); err != nil {
		return "", &providers.ExternalServiceError{Provider: a.Name(), Operation: "create", Err: err}
	}
	if created.ID == "" {
		return "", &providers.ExternalServiceError{Provider: a.Name(), Operation: "create", Err: fmt.Errorf("provider returned no incident id")}
	}
	return created.ID, nil
}

// Update pushes the alert's current state to the provider incident
func (a *PagerLineAdapter) Update(entity providers.Entity) error {
	incident := pagerLineIncident{
		Title:   entity.Name,
		Body:    entity.Summary,
		Urgency: pagerLineUrgencies[entity.Severity],
	}
	if err := a.do(http.MethodPut, "/v2/incidents/"+entity.ExternalID, incident, nil); err != nil {
		return &providers.ExternalServiceError{Provider: a.Name(), Operation: "update", Err: err}
	}
	return nil
}

// Remove deletes the provider incident
func (a *PagerLineAdapter) Remove(externalID string) error {
	if err := a.do(http.MethodDelete, "/v2/incidents/"+externalID, nil, nil); err != nil {
		return &providers.ExternalServiceError{Provider: a.Name(), Operation: "remove", Err: err}
	}
	return nil
}

// Acknowledge marks the provider incident as acknowledged
func (a *PagerLineAdapter) Acknowledge(externalID string) error {
	body := map[string]string{"status": "acknowledged"}
	if err := a.do(http.MethodPost, "/v2/incidents/"+externalID+"/status", body, nil); err != nil {
		return &providers.ExternalServiceError{Provider: a.Name(), Operation: "acknowledge", Err: err}
	}
	return nil
}

// Resolve marks the provider incident as resolved
func (a *PagerLineAdapter) Resolve(externalID string) error {
	body := map[string]string{"status": "resolved"}
	if err := a.do(http.MethodPost, "/v2/incidents/"+externalID+"/status", body, nil); err != nil {
		return &providers.ExternalServiceError{Provider: a.Name(), Operation: "resolve", Err: err}
	}
	return nil
}

// ParseWebhook normalizes a PagerLine delivery into a canonical event
func (a *PagerLineAdapter) ParseWebhook(body []byte) ([]providers.NormalizedEvent, error) {
	var payload pagerLineEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse pagerline payload: %w", err)
	}
	status, ok := pagerLineStatuses[payload.Status]
	if !ok {
		return nil, fmt.Errorf("unknown pagerline status %q", payload.Status)
	}
	return []providers.NormalizedEvent{{
		EntityType: providers.EntityTypeAlert,
		ExternalID: payload.IncidentID,
		EventID:    payload.EventID,
		Status:     status,
		UpdatedAt:  payload.UpdatedAt,
	}}, nil
}

func (a *PagerLineAdapter) do(method, path string, body, out interface{}) error {
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
	req.Header.Set("Authorization", "Token "+a.token)

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
