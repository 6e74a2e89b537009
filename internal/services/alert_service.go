package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/bridge"
	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/notify"
	"github.com/beaconhq/beacon/internal/providers"
)

// AlertService owns the alert lifecycle: creation, acknowledgement and
// resolution. Transitions that the state machine forbids are warnings and
// no-ops, never errors, because duplicate or late deliveries produce them
// legitimately.
type AlertService struct {
	db         *gorm.DB
	bridge     *bridge.Bridge
	dispatcher *notify.Dispatcher
	now        func() time.Time
}

// NewAlertService creates a new AlertService
func NewAlertService(db *gorm.DB, b *bridge.Bridge, dispatcher *notify.Dispatcher) *AlertService {
	return &AlertService{
		db:         db,
		bridge:     b,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// CreateAlertInput carries the fields for a user-raised alert
type CreateAlertInput struct {
	MonitorID uint
	Summary   string
	Severity  database.AlertSeverity
	Escalate  bool
}

// CreateAlert raises an alert against a monitor in the same tenant. The
// referential check runs at write time; a nonexistent monitor aborts the
// operation.
func (s *AlertService) CreateAlert(tenantID uint, input CreateAlertInput) (*database.Alert, error) {
	if input.Summary == "" {
		return nil, &ValidationError{Field: "summary", Message: "must not be empty"}
	}
	if input.Severity == "" {
		input.Severity = database.AlertSeverityMedium
	}

	monitor, err := database.GetMonitor(s.db, tenantID, input.MonitorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "monitor", ID: input.MonitorID}
		}
		return nil, err
	}

	alert := &database.Alert{
		UUID:      uuid.New().String(),
		TenantID:  tenantID,
		MonitorID: monitor.ID,
		Summary:   input.Summary,
		Severity:  input.Severity,
		Status:    database.AlertStatusActive,
	}
	if err := s.db.Create(alert).Error; err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	s.bridge.EmitInternal(bridge.InternalEvent{
		TenantID:   tenantID,
		EntityType: providers.EntityTypeAlert,
		EntityID:   alert.ID,
		Operation:  bridge.OpCreate,
	})
	s.notify(alert, monitor, notify.Options{Escalate: input.Escalate})

	return alert, nil
}

// AcknowledgeAlert moves an active alert to acknowledged
func (s *AlertService) AcknowledgeAlert(tenantID, id uint, by string) (*database.Alert, error) {
	return s.transition(tenantID, id, database.AlertStatusAcknowledged, by)
}

// ResolveAlert moves an alert to its terminal resolved state
func (s *AlertService) ResolveAlert(tenantID, id uint, by string) (*database.Alert, error) {
	return s.transition(tenantID, id, database.AlertStatusResolved, by)
}

func (s *AlertService) transition(tenantID, id uint, next database.AlertStatus, by string) (*database.Alert, error) {
	for attempt := 0; attempt < 5; attempt++ {
		alert, err := database.GetAlert(s.db, tenantID, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &NotFoundError{Entity: "alert", ID: id}
			}
			return nil, err
		}

		if !alert.Status.CanTransitionTo(next) {
			// No-op; the caller gets the unchanged alert back
			invalid := &InvalidTransitionError{Entity: "alert", From: string(alert.Status), To: string(next)}
			log.Printf("Warning: ignoring %v for alert %d (by %s)", invalid, alert.ID, by)
			s.auditInvalidTransition(alert, next, by)
			return alert, nil
		}

		now := s.now()
		updates := map[string]interface{}{"status": next}
		operation := bridge.OpAcknowledge
		switch next {
		case database.AlertStatusAcknowledged:
			updates["acknowledged_by"] = by
			updates["acknowledged_at"] = now
		case database.AlertStatusResolved:
			updates["resolved_by"] = by
			updates["resolved_at"] = now
			operation = bridge.OpResolve
		}

		err = database.CompareAndSwapAlert(s.db, alert, updates)
		if errors.Is(err, database.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		updated, err := database.GetAlert(s.db, tenantID, id)
		if err != nil {
			return nil, err
		}

		s.bridge.EmitInternal(bridge.InternalEvent{
			TenantID:   tenantID,
			EntityType: providers.EntityTypeAlert,
			EntityID:   id,
			Operation:  operation,
		})

		monitor, err := database.GetMonitor(s.db, tenantID, updated.MonitorID)
		if err == nil {
			s.notify(updated, monitor, notify.Options{Actor: by})
		}
		return updated, nil
	}
	return nil, fmt.Errorf("alert %d: too many concurrent updates, giving up", id)
}

// GetAlert returns one alert within the tenant
func (s *AlertService) GetAlert(tenantID, id uint) (*database.Alert, error) {
	alert, err := database.GetAlert(s.db, tenantID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "alert", ID: id}
		}
		return nil, err
	}
	return alert, nil
}

// ListAlerts returns the tenant's alerts, newest first
func (s *AlertService) ListAlerts(tenantID uint) ([]database.Alert, error) {
	var alerts []database.Alert
	if err := s.db.Where("tenant_id = ?", tenantID).Order("id desc").Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

func (s *AlertService) notify(alert *database.Alert, monitor *database.Monitor, opts notify.Options) {
	if s.dispatcher == nil {
		return
	}
	report, err := s.dispatcher.SendAlertNotification(alert, monitor, opts)
	if err != nil {
		log.Printf("Notification dispatch for alert %d failed: %v", alert.ID, err)
		return
	}
	if report.Failed > 0 {
		log.Printf("Notification for alert %d: %d/%d channels failed", alert.ID, report.Failed, report.Attempted)
	}
}

func (s *AlertService) auditInvalidTransition(alert *database.Alert, next database.AlertStatus, by string) {
	detail := database.JSONB{
		"from":  string(alert.Status),
		"to":    string(next),
		"actor": by,
	}
	if err := database.RecordAudit(s.db, alert.TenantID, database.AuditActionInvalidTransition, "alert", alert.ID, detail); err != nil {
		log.Printf("Failed to record invalid transition audit for alert %d: %v", alert.ID, err)
	}
}
