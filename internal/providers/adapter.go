// Package providers defines the capability interface the event bridge uses to
// talk to external monitoring and alerting providers, plus the normalized
// event format their webhooks are parsed into. Providers are interchangeable
// implementations of one interface; the bridge never branches on a vendor.
package providers

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/beaconhq/beacon/internal/database"
)

// EntityType identifies which internal entity a sync operation refers to
type EntityType string

const (
	EntityTypeMonitor EntityType = "monitor"
	EntityTypeAlert   EntityType = "alert"
)

// Entity is the provider-agnostic projection of an internal entity that
// adapters translate into their provider's representation
type Entity struct {
	Type       EntityType
	ID         uint
	TenantID   uint
	ExternalID string // provider-assigned id, empty on create
	Name       string
	Target     string
	Status     string
	Summary    string
	Severity   string
}

// NormalizedEvent is the canonical form of an inbound provider event
type NormalizedEvent struct {
	EntityType EntityType
	ExternalID string
	EventID    string // idempotency key; replays are no-ops
	Status     string // normalized to internal status values
	UpdatedAt  time.Time
}

// Adapter is the outbound capability set the bridge requires of every
// provider, plus inbound webhook parsing for the same provider
type Adapter interface {
	// Name returns the provider name used in external_ids and sync records
	Name() string

	// Create mirrors the entity to the provider, returning its assigned id
	Create(entity Entity) (string, error)

	// Update pushes the entity's current state to the provider
	Update(entity Entity) error

	// Remove deletes the provider-side object
	Remove(externalID string) error

	// Acknowledge marks the provider-side alert as acknowledged
	Acknowledge(externalID string) error

	// Resolve marks the provider-side alert as resolved
	Resolve(externalID string) error

	// ParseWebhook normalizes a raw webhook body into canonical events.
	// One delivery may carry multiple events.
	ParseWebhook(body []byte) ([]NormalizedEvent, error)

	// ValidateWebhookSecret authenticates an inbound delivery against the
	// configured webhook source
	ValidateWebhookSecret(r *http.Request, source *database.WebhookSource) error
}

// ExternalServiceError wraps an adapter call failure. It is never fatal to the
// internal operation that triggered the call.
type ExternalServiceError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("provider %s: %s failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// BaseAdapter provides shared behavior for concrete adapters
type BaseAdapter struct {
	Provider string
}

// Name returns the provider name
func (b *BaseAdapter) Name() string {
	return b.Provider
}

// ValidateWebhookSecret checks the shared secret header against the bcrypt
// hash stored on the webhook source. No configured secret means open access.
func (b *BaseAdapter) ValidateWebhookSecret(r *http.Request, source *database.WebhookSource) error {
	if source.SecretHash == "" {
		return nil
	}
	secret := r.Header.Get("X-Webhook-Secret")
	if secret == "" {
		secret = r.Header.Get("Authorization")
		if len(secret) > 7 && secret[:7] == "Bearer " {
			secret = secret[7:]
		}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(source.SecretHash), []byte(secret)); err != nil {
		return fmt.Errorf("invalid webhook secret")
	}
	return nil
}

// HashWebhookSecret produces the at-rest form of a webhook shared secret
func HashWebhookSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
