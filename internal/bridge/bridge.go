// Package bridge keeps internal monitor/alert state and the configured
// external providers convergent. Internal mutations are mirrored outward
// without blocking the caller; external webhook events are reconciled against
// the store with last-writer-wins by timestamp.
package bridge

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/notify"
	"github.com/beaconhq/beacon/internal/providers"
)

// Operation names the outbound sync verbs
const (
	OpCreate      = "create"
	OpUpdate      = "update"
	OpRemove      = "remove"
	OpAcknowledge = "acknowledge"
	OpResolve     = "resolve"
)

// casAttempts bounds the read-modify-write retry loop on version conflicts
const casAttempts = 5

// InternalEvent describes an internal mutation the bridge mirrors outward
type InternalEvent struct {
	TenantID   uint
	EntityType providers.EntityType
	EntityID   uint
	Operation  string
	// ExternalIDs carries the provider id snapshot for remove operations,
	// where the internal row may already be gone
	ExternalIDs map[string]string
}

// Bridge orchestrates outbound mirroring, inbound reconciliation and
// notification fan-out
type Bridge struct {
	db         *gorm.DB
	registry   *providers.Registry
	dispatcher *notify.Dispatcher
	// providersFor routes entity types to the providers that mirror them
	providersFor map[providers.EntityType][]string
	retryBase    time.Duration
	now          func() time.Time
}

// New creates a bridge. providersFor maps each entity type to the provider
// names that should mirror it.
func New(db *gorm.DB, registry *providers.Registry, dispatcher *notify.Dispatcher, providersFor map[providers.EntityType][]string) *Bridge {
	return &Bridge{
		db:           db,
		registry:     registry,
		dispatcher:   dispatcher,
		providersFor: providersFor,
		retryBase:    30 * time.Second,
		now:          time.Now,
	}
}

// ========== Outbound ==========

// EmitInternal mirrors an internal mutation to every configured provider.
// Adapter calls run asynchronously relative to the caller; failures are
// recorded as SyncError rows and retried with backoff, never surfaced to the
// originating operation.
func (b *Bridge) EmitInternal(event InternalEvent) {
	go b.emit(event)
}

// EmitInternalSync is the synchronous form used by the retry worker and tests
func (b *Bridge) EmitInternalSync(event InternalEvent) {
	b.emit(event)
}

func (b *Bridge) emit(event InternalEvent) {
	for _, name := range b.providersFor[event.EntityType] {
		adapter, err := b.registry.Get(name)
		if err != nil {
			log.Printf("Skipping emit for unknown provider %s: %v", name, err)
			continue
		}
		if err := b.emitToProvider(adapter, event); err != nil {
			log.Printf("Warning: sync to provider %s failed for %s %d: %v",
				name, event.EntityType, event.EntityID, err)
			b.recordSyncFailure(adapter.Name(), event, err)
		}
	}
}

// emitToProvider performs one adapter call with a couple of quick inline
// retries before handing the failure to the slow retry path
func (b *Bridge) emitToProvider(adapter providers.Adapter, event InternalEvent) error {
	op := func() error {
		return b.callAdapter(adapter, event)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.RandomizationFactor = 0
	return backoff.Retry(op, backoff.WithMaxRetries(bo, 2))
}

func (b *Bridge) callAdapter(adapter providers.Adapter, event InternalEvent) error {
	switch event.Operation {
	case OpRemove:
		externalID := event.ExternalIDs[adapter.Name()]
		if externalID == "" {
			return nil // never mirrored to this provider
		}
		return adapter.Remove(externalID)

	case OpCreate:
		entity, err := b.buildEntity(event, adapter.Name())
		if err != nil {
			return err
		}
		externalID, err := adapter.Create(*entity)
		if err != nil {
			return err
		}
		return b.storeExternalID(event, adapter.Name(), externalID)

	case OpUpdate:
		entity, err := b.buildEntity(event, adapter.Name())
		if err != nil {
			return err
		}
		if entity.ExternalID == "" {
			// The create never reached this provider; promote to a create
			externalID, err := adapter.Create(*entity)
			if err != nil {
				return err
			}
			return b.storeExternalID(event, adapter.Name(), externalID)
		}
		return adapter.Update(*entity)

	case OpAcknowledge, OpResolve:
		entity, err := b.buildEntity(event, adapter.Name())
		if err != nil {
			return err
		}
		if entity.ExternalID == "" {
			return nil // nothing to transition provider-side
		}
		if event.Operation == OpAcknowledge {
			return adapter.Acknowledge(entity.ExternalID)
		}
		return adapter.Resolve(entity.ExternalID)

	default:
		return fmt.Errorf("unknown sync operation %q", event.Operation)
	}
}

// buildEntity loads the current row and projects it into the provider-agnostic
// form, resolving the external id for the given provider
func (b *Bridge) buildEntity(event InternalEvent, provider string) (*providers.Entity, error) {
	switch event.EntityType {
	case providers.EntityTypeMonitor:
		monitor, err := database.GetMonitor(b.db, event.TenantID, event.EntityID)
		if err != nil {
			return nil, err
		}
		return &providers.Entity{
			Type:       providers.EntityTypeMonitor,
			ID:         monitor.ID,
			TenantID:   monitor.TenantID,
			ExternalID: monitor.ExternalID(provider),
			Name:       monitor.Name,
			Target:     monitor.Target,
			Status:     string(monitor.Status),
		}, nil

	case providers.EntityTypeAlert:
		alert, err := database.GetAlert(b.db, event.TenantID, event.EntityID)
		if err != nil {
			return nil, err
		}
		monitor, err := database.GetMonitor(b.db, event.TenantID, alert.MonitorID)
		if err != nil {
			return nil, err
		}
		return &providers.Entity{
			Type:       providers.EntityTypeAlert,
			ID:         alert.ID,
			TenantID:   alert.TenantID,
			ExternalID: alert.ExternalAlertID,
			Name:       monitor.Name,
			Status:     string(alert.Status),
			Summary:    alert.Summary,
			Severity:   string(alert.Severity),
		}, nil

	default:
		return nil, fmt.Errorf("unknown entity type %q", event.EntityType)
	}
}

// storeExternalID persists a provider-assigned id after a successful create,
// enforcing per-provider uniqueness within the tenant
func (b *Bridge) storeExternalID(event InternalEvent, provider, externalID string) error {
	switch event.EntityType {
	case providers.EntityTypeMonitor:
		for attempt := 0; attempt < casAttempts; attempt++ {
			monitor, err := database.GetMonitor(b.db, event.TenantID, event.EntityID)
			if err != nil {
				return err
			}
			taken, err := database.MonitorExternalIDTaken(b.db, event.TenantID, provider, externalID, monitor.ID)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("external id %s/%s already assigned in tenant %d", provider, externalID, event.TenantID)
			}
			ids := monitor.ExternalIDs
			if ids == nil {
				ids = database.JSONB{}
			}
			ids[provider] = externalID
			err = database.CompareAndSwapMonitor(b.db, monitor, map[string]interface{}{"external_ids": ids})
			if err == nil {
				return nil
			}
			if !errors.Is(err, database.ErrVersionConflict) {
				return err
			}
		}
		return fmt.Errorf("gave up storing external id after %d version conflicts", casAttempts)

	case providers.EntityTypeAlert:
		for attempt := 0; attempt < casAttempts; attempt++ {
			alert, err := database.GetAlert(b.db, event.TenantID, event.EntityID)
			if err != nil {
				return err
			}
			taken, err := database.AlertExternalIDTaken(b.db, event.TenantID, externalID, alert.ID)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("external alert id %s/%s already assigned in tenant %d", provider, externalID, event.TenantID)
			}
			err = database.CompareAndSwapAlert(b.db, alert, map[string]interface{}{"external_alert_id": externalID})
			if err == nil {
				return nil
			}
			if !errors.Is(err, database.ErrVersionConflict) {
				return err
			}
		}
		return fmt.Errorf("gave up storing external alert id after %d version conflicts", casAttempts)
	}
	return fmt.Errorf("unknown entity type %q", event.EntityType)
}

// recordSyncFailure writes the SyncError row that feeds the retry worker
func (b *Bridge) recordSyncFailure(provider string, event InternalEvent, cause error) {
	next := b.now().Add(b.retryBase)
	// The external id snapshot rides along so a remove can still be replayed
	// after the internal row is gone
	var snapshot database.JSONB
	if len(event.ExternalIDs) > 0 {
		snapshot = database.JSONB{}
		for p, id := range event.ExternalIDs {
			snapshot[p] = id
		}
	}
	syncErr := &database.SyncError{
		TenantID:    event.TenantID,
		Provider:    provider,
		Operation:   event.Operation,
		EntityType:  string(event.EntityType),
		EntityID:    event.EntityID,
		ExternalIDs: snapshot,
		Message:     cause.Error(),
		Attempts:    1,
		NextRetryAt: &next,
	}
	if err := database.RecordSyncError(b.db, syncErr); err != nil {
		log.Printf("Failed to record sync error for %s %d: %v", event.EntityType, event.EntityID, err)
	}
}

// ========== Inbound ==========

// IngestExternal normalizes a provider webhook body, deduplicates it by
// external event id and reconciles each event against the store. Replaying a
// previously processed event id is a no-op.
func (b *Bridge) IngestExternal(tenantID uint, source string, body []byte) error {
	adapter, err := b.registry.Get(source)
	if err != nil {
		return err
	}

	events, err := adapter.ParseWebhook(body)
	if err != nil {
		return fmt.Errorf("failed to normalize %s payload: %w", source, err)
	}

	for _, event := range events {
		record := &database.IntegrationEvent{
			TenantID: tenantID,
			Source:   source,
			EventID:  event.EventID,
			Payload:  database.JSONB{"raw": string(body)},
		}
		created, err := database.InsertIntegrationEvent(b.db, record)
		if err != nil {
			return fmt.Errorf("failed to store integration event: %w", err)
		}
		if !created && record.Processed {
			log.Printf("Duplicate external event %s/%s, skipping", source, event.EventID)
			continue
		}

		if err := b.reconcile(tenantID, source, event); err != nil {
			return err
		}

		if err := database.MarkIntegrationEventProcessed(b.db, record.ID); err != nil {
			log.Printf("Failed to mark event %s/%s processed: %v", source, event.EventID, err)
		}
	}
	return nil
}

// reconcile applies one normalized event with last-writer-wins by timestamp.
// Ties go to the internal state.
func (b *Bridge) reconcile(tenantID uint, source string, event providers.NormalizedEvent) error {
	switch event.EntityType {
	case providers.EntityTypeMonitor:
		return b.reconcileMonitor(tenantID, source, event)
	case providers.EntityTypeAlert:
		return b.reconcileAlert(tenantID, source, event)
	default:
		return fmt.Errorf("unknown entity type %q in external event", event.EntityType)
	}
}

func (b *Bridge) reconcileMonitor(tenantID uint, source string, event providers.NormalizedEvent) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		monitor, err := database.FindMonitorByExternalID(b.db, tenantID, source, event.ExternalID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("Warning: external event for unknown monitor %s/%s, dropping", source, event.ExternalID)
				return nil
			}
			return err
		}

		if !event.UpdatedAt.After(monitor.UpdatedAt) {
			b.auditDecision(tenantID, database.AuditActionInternalWins, "monitor", monitor.ID, source, event)
			return nil
		}

		newStatus := database.MonitorStatus(event.Status)
		previous := monitor.Status
		err = database.CompareAndSwapMonitor(b.db, monitor, map[string]interface{}{
			"status":     newStatus,
			"updated_at": event.UpdatedAt,
		})
		if errors.Is(err, database.ErrVersionConflict) {
			continue // a concurrent writer moved the row, re-read and re-decide
		}
		if err != nil {
			return err
		}

		b.auditDecision(tenantID, database.AuditActionExternalWins, "monitor", monitor.ID, source, event)

		if previous != database.MonitorStatusDown && newStatus == database.MonitorStatusDown {
			b.raiseAlertForMonitor(monitor)
		}
		if previous == database.MonitorStatusDown && newStatus == database.MonitorStatusUp {
			b.resolveOpenAlertsForMonitor(monitor, event.UpdatedAt)
		}
		return nil
	}
	return fmt.Errorf("gave up reconciling monitor after %d version conflicts", casAttempts)
}

func (b *Bridge) reconcileAlert(tenantID uint, source string, event providers.NormalizedEvent) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		alert, err := database.FindAlertByExternalID(b.db, tenantID, event.ExternalID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("Warning: external event for unknown alert %s/%s, dropping", source, event.ExternalID)
				return nil
			}
			return err
		}

		if !event.UpdatedAt.After(alert.UpdatedAt) {
			b.auditDecision(tenantID, database.AuditActionInternalWins, "alert", alert.ID, source, event)
			return nil
		}

		newStatus := database.AlertStatus(event.Status)
		if newStatus == alert.Status {
			// External agrees with internal state; record the win but skip
			// the no-op transition
			b.auditDecision(tenantID, database.AuditActionExternalWins, "alert", alert.ID, source, event)
			return nil
		}
		if !alert.Status.CanTransitionTo(newStatus) {
			// Duplicate or late delivery; a warning, never an error
			log.Printf("Warning: ignoring invalid alert transition %s -> %s for alert %d (event %s/%s)",
				alert.Status, newStatus, alert.ID, source, event.EventID)
			b.auditDecision(tenantID, database.AuditActionInvalidTransition, "alert", alert.ID, source, event)
			return nil
		}

		updates := map[string]interface{}{
			"status":     newStatus,
			"updated_at": event.UpdatedAt,
		}
		switch newStatus {
		case database.AlertStatusAcknowledged:
			updates["acknowledged_by"] = source
			updates["acknowledged_at"] = event.UpdatedAt
		case database.AlertStatusResolved:
			updates["resolved_by"] = source
			updates["resolved_at"] = event.UpdatedAt
		}
		err = database.CompareAndSwapAlert(b.db, alert, updates)
		if errors.Is(err, database.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		b.auditDecision(tenantID, database.AuditActionExternalWins, "alert", alert.ID, source, event)
		b.notifyTransition(tenantID, alert.ID, source)
		return nil
	}
	return fmt.Errorf("gave up reconciling alert after %d version conflicts", casAttempts)
}

// raiseAlertForMonitor opens an alert when a monitor transitions to down
func (b *Bridge) raiseAlertForMonitor(monitor *database.Monitor) {
	alert := &database.Alert{
		UUID:      uuid.New().String(),
		TenantID:  monitor.TenantID,
		MonitorID: monitor.ID,
		Summary:   fmt.Sprintf("%s is down", monitor.Name),
		Severity:  database.AlertSeverityHigh,
		Status:    database.AlertStatusActive,
	}
	if err := b.db.Create(alert).Error; err != nil {
		log.Printf("Failed to raise alert for monitor %d: %v", monitor.ID, err)
		return
	}
	log.Printf("Raised alert %d for down monitor %s", alert.ID, monitor.Name)

	b.EmitInternal(InternalEvent{
		TenantID:   monitor.TenantID,
		EntityType: providers.EntityTypeAlert,
		EntityID:   alert.ID,
		Operation:  OpCreate,
	})
	b.notifyAlert(alert, monitor, notify.Options{Escalate: true})
}

// resolveOpenAlertsForMonitor closes the monitor's open alerts once it
// recovers
func (b *Bridge) resolveOpenAlertsForMonitor(monitor *database.Monitor, at time.Time) {
	alerts, err := database.ListAlertsForMonitor(b.db, monitor.TenantID, monitor.ID)
	if err != nil {
		log.Printf("Failed to list alerts for recovered monitor %d: %v", monitor.ID, err)
		return
	}
	for i := range alerts {
		alert := &alerts[i]
		if !alert.Status.CanTransitionTo(database.AlertStatusResolved) {
			continue
		}
		err := database.CompareAndSwapAlert(b.db, alert, map[string]interface{}{
			"status":      database.AlertStatusResolved,
			"resolved_by": "monitor_recovery",
			"resolved_at": at,
		})
		if err != nil {
			log.Printf("Failed to auto-resolve alert %d: %v", alert.ID, err)
			continue
		}
		b.EmitInternal(InternalEvent{
			TenantID:   alert.TenantID,
			EntityType: providers.EntityTypeAlert,
			EntityID:   alert.ID,
			Operation:  OpResolve,
		})
		b.notifyTransition(alert.TenantID, alert.ID, "monitor_recovery")
	}
}

// notifyTransition re-reads the alert and dispatches the notification for its
// new state
func (b *Bridge) notifyTransition(tenantID, alertID uint, actor string) {
	if b.dispatcher == nil {
		return
	}
	alert, err := database.GetAlert(b.db, tenantID, alertID)
	if err != nil {
		log.Printf("Failed to load alert %d for notification: %v", alertID, err)
		return
	}
	monitor, err := database.GetMonitor(b.db, tenantID, alert.MonitorID)
	if err != nil {
		log.Printf("Failed to load monitor %d for notification: %v", alert.MonitorID, err)
		return
	}
	b.notifyAlert(alert, monitor, notify.Options{Actor: actor})
}

func (b *Bridge) notifyAlert(alert *database.Alert, monitor *database.Monitor, opts notify.Options) {
	if b.dispatcher == nil {
		return
	}
	report, err := b.dispatcher.SendAlertNotification(alert, monitor, opts)
	if err != nil {
		log.Printf("Notification dispatch for alert %d failed: %v", alert.ID, err)
		return
	}
	if report.Failed > 0 {
		log.Printf("Notification for alert %d: %d/%d channels failed", alert.ID, report.Failed, report.Attempted)
	}
}

// auditDecision logs a conflict-resolution outcome
func (b *Bridge) auditDecision(tenantID uint, action database.AuditAction, entityType string, entityID uint, source string, event providers.NormalizedEvent) {
	detail := database.JSONB{
		"source":              source,
		"event_id":            event.EventID,
		"external_status":     event.Status,
		"external_updated_at": event.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := database.RecordAudit(b.db, tenantID, action, entityType, entityID, detail); err != nil {
		log.Printf("Failed to record audit entry for %s %d: %v", entityType, entityID, err)
	}
}
