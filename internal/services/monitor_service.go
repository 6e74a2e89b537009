package services

import (
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/bridge"
	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/providers"
)

// MonitorService owns monitor lifecycle operations. Every mutation is durable
// before the bridge mirrors it outward, so provider availability never blocks
// or rolls back a monitor write.
type MonitorService struct {
	db     *gorm.DB
	bridge *bridge.Bridge
}

// NewMonitorService creates a new MonitorService
func NewMonitorService(db *gorm.DB, b *bridge.Bridge) *MonitorService {
	return &MonitorService{db: db, bridge: b}
}

// CreateMonitorInput carries the fields for a new monitor
type CreateMonitorInput struct {
	Name             string
	Type             string
	Target           string
	IntervalSeconds  int
	TimeoutSeconds   int
	CreateInProvider bool
}

func (in *CreateMonitorInput) validate() error {
	if in.Name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if in.Target == "" {
		return &ValidationError{Field: "target", Message: "must not be empty"}
	}
	if in.IntervalSeconds < 0 {
		return &ValidationError{Field: "interval_seconds", Message: "must not be negative"}
	}
	if in.TimeoutSeconds < 0 {
		return &ValidationError{Field: "timeout_seconds", Message: "must not be negative"}
	}
	return nil
}

// CreateMonitor persists a monitor and, when requested, mirrors it to the
// configured providers. A failed provider call leaves the monitor persisted
// without an external id and records a SyncError; the create still succeeds.
func (s *MonitorService) CreateMonitor(tenantID uint, input CreateMonitorInput) (*database.Monitor, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	monitor := &database.Monitor{
		UUID:            uuid.New().String(),
		TenantID:        tenantID,
		Name:            input.Name,
		Type:            input.Type,
		Target:          input.Target,
		IntervalSeconds: input.IntervalSeconds,
		TimeoutSeconds:  input.TimeoutSeconds,
		Status:          database.MonitorStatusUp,
		ExternalIDs:     database.JSONB{},
	}
	if monitor.IntervalSeconds == 0 {
		monitor.IntervalSeconds = 60
	}
	if monitor.TimeoutSeconds == 0 {
		monitor.TimeoutSeconds = 10
	}

	if err := s.db.Create(monitor).Error; err != nil {
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}

	if input.CreateInProvider {
		s.bridge.EmitInternal(bridge.InternalEvent{
			TenantID:   tenantID,
			EntityType: providers.EntityTypeMonitor,
			EntityID:   monitor.ID,
			Operation:  bridge.OpCreate,
		})
	}
	return monitor, nil
}

// UpdateMonitorInput carries the mutable monitor fields
type UpdateMonitorInput struct {
	Name            string
	Target          string
	IntervalSeconds int
	TimeoutSeconds  int
	Status          database.MonitorStatus
}

// UpdateMonitor applies the input with optimistic concurrency and mirrors the
// result outward
func (s *MonitorService) UpdateMonitor(tenantID, id uint, input UpdateMonitorInput) (*database.Monitor, error) {
	if input.IntervalSeconds < 0 {
		return nil, &ValidationError{Field: "interval_seconds", Message: "must not be negative"}
	}
	if input.Status != "" && !validMonitorStatus(input.Status) {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", input.Status)}
	}

	for attempt := 0; attempt < 5; attempt++ {
		monitor, err := database.GetMonitor(s.db, tenantID, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &NotFoundError{Entity: "monitor", ID: id}
			}
			return nil, err
		}

		updates := map[string]interface{}{}
		if input.Name != "" {
			updates["name"] = input.Name
		}
		if input.Target != "" {
			updates["target"] = input.Target
		}
		if input.IntervalSeconds > 0 {
			updates["interval_seconds"] = input.IntervalSeconds
		}
		if input.TimeoutSeconds > 0 {
			updates["timeout_seconds"] = input.TimeoutSeconds
		}
		if input.Status != "" {
			updates["status"] = input.Status
		}
		if len(updates) == 0 {
			return monitor, nil
		}

		err = database.CompareAndSwapMonitor(s.db, monitor, updates)
		if errors.Is(err, database.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		updated, err := database.GetMonitor(s.db, tenantID, id)
		if err != nil {
			return nil, err
		}

		s.bridge.EmitInternal(bridge.InternalEvent{
			TenantID:   tenantID,
			EntityType: providers.EntityTypeMonitor,
			EntityID:   id,
			Operation:  bridge.OpUpdate,
		})
		return updated, nil
	}
	return nil, fmt.Errorf("monitor %d: too many concurrent updates, giving up", id)
}

// DeleteMonitor removes a monitor. Deletion is rejected while alerts still
// reference the monitor, so no alert is ever left dangling.
func (s *MonitorService) DeleteMonitor(tenantID, id uint) error {
	monitor, err := database.GetMonitor(s.db, tenantID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{Entity: "monitor", ID: id}
		}
		return err
	}

	alerts, err := database.ListAlertsForMonitor(s.db, tenantID, id)
	if err != nil {
		return err
	}
	if len(alerts) > 0 {
		return &ValidationError{
			Field:   "monitor_id",
			Message: fmt.Sprintf("%d alerts still reference this monitor; resolve and remove them first", len(alerts)),
		}
	}

	// Snapshot the provider ids before the row goes away
	externalIDs := make(map[string]string)
	for provider := range monitor.ExternalIDs {
		if id := monitor.ExternalID(provider); id != "" {
			externalIDs[provider] = id
		}
	}

	if err := s.db.Delete(monitor).Error; err != nil {
		return fmt.Errorf("failed to delete monitor: %w", err)
	}
	log.Printf("Deleted monitor %d (%s) for tenant %d", monitor.ID, monitor.Name, tenantID)

	if len(externalIDs) > 0 {
		s.bridge.EmitInternal(bridge.InternalEvent{
			TenantID:    tenantID,
			EntityType:  providers.EntityTypeMonitor,
			EntityID:    monitor.ID,
			Operation:   bridge.OpRemove,
			ExternalIDs: externalIDs,
		})
	}
	return nil
}

// GetMonitor returns one monitor within the tenant
func (s *MonitorService) GetMonitor(tenantID, id uint) (*database.Monitor, error) {
	monitor, err := database.GetMonitor(s.db, tenantID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "monitor", ID: id}
		}
		return nil, err
	}
	return monitor, nil
}

// ListMonitors returns all of the tenant's monitors
func (s *MonitorService) ListMonitors(tenantID uint) ([]database.Monitor, error) {
	return database.ListMonitors(s.db, tenantID)
}

func validMonitorStatus(status database.MonitorStatus) bool {
	for _, valid := range database.ValidMonitorStatuses() {
		if status == valid {
			return true
		}
	}
	return false
}
