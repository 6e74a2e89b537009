package services

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/status"
)

// publicIncidentWindow keeps recently resolved incidents on the feed
const publicIncidentWindow = 7 * 24 * time.Hour

// StatusService derives the tenant health snapshot and serves the public
// status page surface
type StatusService struct {
	db        *gorm.DB
	incidents *IncidentService
	now       func() time.Time
}

// NewStatusService creates a new StatusService
func NewStatusService(db *gorm.DB) *StatusService {
	return &StatusService{db: db, incidents: NewIncidentService(db), now: time.Now}
}

// Overall computes the current tenant-wide status summary
func (s *StatusService) Overall(tenantID uint) (status.Summary, error) {
	monitors, err := database.ListMonitors(s.db, tenantID)
	if err != nil {
		return status.Summary{}, err
	}
	return status.Aggregate(monitors, s.now()), nil
}

// PublicPage is the externally visible status page payload
type PublicPage struct {
	Title     string                  `json:"title"`
	Summary   status.Summary          `json:"summary"`
	Incidents []status.PublicIncident `json:"incidents"`
}

// PublicPage assembles the public status page for a tenant. A tenant whose
// page is disabled gets a NotFoundError so the surface reveals nothing.
func (s *StatusService) PublicPage(tenantID uint) (*PublicPage, error) {
	config, err := s.GetPageConfig(tenantID)
	if err != nil {
		return nil, err
	}
	if !config.Public {
		return nil, &NotFoundError{Entity: "status page", ID: tenantID}
	}

	summary, err := s.Overall(tenantID)
	if err != nil {
		return nil, err
	}
	incidents, err := s.incidents.PublicIncidents(tenantID, publicIncidentWindow)
	if err != nil {
		return nil, err
	}

	return &PublicPage{
		Title:     config.Title,
		Summary:   summary,
		Incidents: status.PublicFeed(incidents),
	}, nil
}

// GetPageConfig fetches the tenant's status page settings
func (s *StatusService) GetPageConfig(tenantID uint) (*database.StatusPageConfig, error) {
	var config database.StatusPageConfig
	if err := s.db.Where("tenant_id = ?", tenantID).First(&config).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "status page", ID: tenantID}
		}
		return nil, err
	}
	return &config, nil
}

// UpdatePageConfig applies title and visibility changes
func (s *StatusService) UpdatePageConfig(tenantID uint, title string, public bool) (*database.StatusPageConfig, error) {
	config, err := s.GetPageConfig(tenantID)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"public": public}
	if title != "" {
		updates["title"] = title
	}
	if err := s.db.Model(config).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update status page config: %w", err)
	}
	return s.GetPageConfig(tenantID)
}
