package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/database"
)

// IncidentService manages public-facing incidents. Incident status only
// moves forward through the lifecycle; backward requests are logged and
// ignored.
type IncidentService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewIncidentService creates a new IncidentService
func NewIncidentService(db *gorm.DB) *IncidentService {
	return &IncidentService{db: db, now: time.Now}
}

// CreateIncidentInput carries the fields for a new incident
type CreateIncidentInput struct {
	Summary            string
	Severity           database.AlertSeverity
	AffectedMonitorIDs []uint
	IsPublic           bool
}

// CreateIncident validates and persists an incident in the investigating state
func (s *IncidentService) CreateIncident(tenantID uint, input CreateIncidentInput) (*database.Incident, error) {
	if input.Summary == "" {
		return nil, &ValidationError{Field: "summary", Message: "must not be empty"}
	}
	if input.Severity == "" {
		input.Severity = database.AlertSeverityMedium
	}

	// Affected monitors must exist within the tenant.
	affected := make([]interface{}, 0, len(input.AffectedMonitorIDs))
	for _, id := range input.AffectedMonitorIDs {
		if _, err := database.GetMonitor(s.db, tenantID, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &NotFoundError{Entity: "monitor", ID: id}
			}
			return nil, err
		}
		affected = append(affected, float64(id))
	}

	incident := &database.Incident{
		UUID:               uuid.New().String(),
		TenantID:           tenantID,
		Summary:            input.Summary,
		Severity:           input.Severity,
		Status:             database.IncidentStatusInvestigating,
		AffectedMonitorIDs: database.JSONB{"ids": affected},
		IsPublic:           input.IsPublic,
	}
	if err := s.db.Create(incident).Error; err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}
	return incident, nil
}

// AdvanceStatus moves an incident forward through its lifecycle. A request
// that would move it backward or sideways leaves the incident untouched.
func (s *IncidentService) AdvanceStatus(tenantID, id uint, next database.IncidentStatus) (*database.Incident, error) {
	incident, err := s.GetIncident(tenantID, id)
	if err != nil {
		return nil, err
	}

	if !incident.Status.CanTransitionTo(next) {
		invalid := &InvalidTransitionError{Entity: "incident", From: string(incident.Status), To: string(next)}
		log.Printf("Warning: ignoring %v for incident %d", invalid, incident.ID)
		if err := database.RecordAudit(s.db, tenantID, database.AuditActionInvalidTransition, "incident", incident.ID, database.JSONB{
			"from": string(incident.Status),
			"to":   string(next),
		}); err != nil {
			log.Printf("Failed to record invalid transition audit for incident %d: %v", incident.ID, err)
		}
		return incident, nil
	}

	updates := map[string]interface{}{"status": next}
	if next == database.IncidentStatusResolved {
		updates["resolved_at"] = s.now()
	}
	if err := s.db.Model(incident).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetIncident(tenantID, id)
}

// GetIncident fetches one incident scoped to the tenant
func (s *IncidentService) GetIncident(tenantID, id uint) (*database.Incident, error) {
	var incident database.Incident
	if err := s.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&incident).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "incident", ID: id}
		}
		return nil, err
	}
	return &incident, nil
}

// ListIncidents returns the tenant's incidents, newest first
func (s *IncidentService) ListIncidents(tenantID uint) ([]database.Incident, error) {
	var incidents []database.Incident
	if err := s.db.Where("tenant_id = ?", tenantID).Order("created_at desc").Find(&incidents).Error; err != nil {
		return nil, err
	}
	return incidents, nil
}

// PublicIncidents returns the incidents exposed on the public feed, newest
// first. Resolved incidents older than the window are dropped.
func (s *IncidentService) PublicIncidents(tenantID uint, window time.Duration) ([]database.Incident, error) {
	incidents, err := s.ListIncidents(tenantID)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-window)
	public := make([]database.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if !inc.IsPublic {
			continue
		}
		if inc.Status == database.IncidentStatusResolved && inc.ResolvedAt != nil && inc.ResolvedAt.Before(cutoff) {
			continue
		}
		public = append(public, inc)
	}
	return public, nil
}
