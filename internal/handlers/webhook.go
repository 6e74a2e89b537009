package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/bridge"
	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/providers"
)

// maxWebhookBody caps inbound webhook payloads at 1 MiB
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider webhooks, authenticates them against the
// configured webhook source and hands them to the per-tenant queues. The
// request is acknowledged as soon as the delivery is enqueued; processing
// happens off the request path.
type WebhookHandler struct {
	db       *gorm.DB
	registry *providers.Registry
	queues   *bridge.TenantQueues
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(db *gorm.DB, registry *providers.Registry, queues *bridge.TenantQueues) *WebhookHandler {
	return &WebhookHandler{db: db, registry: registry, queues: queues}
}

// HandleWebhook processes POST /webhook/{provider}/{uuid}
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	provider, sourceUUID, err := parseWebhookPath(r.URL.Path)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	adapter, err := h.registry.Get(provider)
	if err != nil {
		log.Printf("Webhook for unknown provider %q", provider)
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	source, err := database.GetWebhookSourceByUUID(h.db, sourceUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		log.Printf("Error loading webhook source %s: %v", sourceUUID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if source.Provider != provider {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	if err := adapter.ValidateWebhookSecret(r, source); err != nil {
		log.Printf("Rejected %s webhook for tenant %d: %v", provider, source.TenantID, err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	h.queues.Enqueue(bridge.Delivery{
		TenantID: source.TenantID,
		Source:   provider,
		Body:     body,
	})

	// Acknowledge before processing; the provider should not wait on
	// reconciliation.
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprint(w, "Accepted")
}

// parseWebhookPath extracts provider and source uuid from
// /webhook/{provider}/{uuid}
func parseWebhookPath(path string) (provider, uuid string, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "webhook" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid webhook path %q", path)
	}
	return parts[1], parts[2], nil
}
