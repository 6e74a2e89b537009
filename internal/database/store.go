package database

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrVersionConflict is returned by compare-and-swap updates when the stored
// version no longer matches the caller's snapshot
var ErrVersionConflict = errors.New("version conflict")

// ========== Monitors ==========

// GetMonitor retrieves a monitor by ID within a tenant
func GetMonitor(db *gorm.DB, tenantID, id uint) (*Monitor, error) {
	var monitor Monitor
	if err := db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&monitor).Error; err != nil {
		return nil, err
	}
	return &monitor, nil
}

// GetMonitorByUUID retrieves a monitor by UUID within a tenant
func GetMonitorByUUID(db *gorm.DB, tenantID uint, uuid string) (*Monitor, error) {
	var monitor Monitor
	if err := db.Where("tenant_id = ? AND uuid = ?", tenantID, uuid).First(&monitor).Error; err != nil {
		return nil, err
	}
	return &monitor, nil
}

// ListMonitors returns all monitors for a tenant
func ListMonitors(db *gorm.DB, tenantID uint) ([]Monitor, error) {
	var monitors []Monitor
	if err := db.Where("tenant_id = ?", tenantID).Order("id asc").Find(&monitors).Error; err != nil {
		return nil, err
	}
	return monitors, nil
}

// FindMonitorByExternalID locates the monitor a provider event refers to.
// The JSONB lookup is done in Go rather than SQL so it works on both
// postgres and the sqlite test driver.
func FindMonitorByExternalID(db *gorm.DB, tenantID uint, provider, externalID string) (*Monitor, error) {
	monitors, err := ListMonitors(db, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range monitors {
		if monitors[i].ExternalID(provider) == externalID {
			return &monitors[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// MonitorExternalIDTaken reports whether another monitor in the tenant already
// claims the given provider-assigned id
func MonitorExternalIDTaken(db *gorm.DB, tenantID uint, provider, externalID string, excludeID uint) (bool, error) {
	monitors, err := ListMonitors(db, tenantID)
	if err != nil {
		return false, err
	}
	for i := range monitors {
		if monitors[i].ID == excludeID {
			continue
		}
		if monitors[i].ExternalID(provider) == externalID {
			return true, nil
		}
	}
	return false, nil
}

// CompareAndSwapMonitor applies updates only if the stored version still
// matches snapshot.Version, bumping the version on success. Returns
// ErrVersionConflict when a concurrent writer got there first.
func CompareAndSwapMonitor(db *gorm.DB, snapshot *Monitor, updates map[string]interface{}) error {
	updates["version"] = snapshot.Version + 1
	result := db.Model(&Monitor{}).
		Where("id = ? AND version = ?", snapshot.ID, snapshot.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ========== Alerts ==========

// GetAlert retrieves an alert by ID within a tenant
func GetAlert(db *gorm.DB, tenantID, id uint) (*Alert, error) {
	var alert Alert
	if err := db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&alert).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

// GetAlertByUUID retrieves an alert by UUID within a tenant
func GetAlertByUUID(db *gorm.DB, tenantID uint, uuid string) (*Alert, error) {
	var alert Alert
	if err := db.Where("tenant_id = ? AND uuid = ?", tenantID, uuid).First(&alert).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

// FindAlertByExternalID locates an alert by its provider-assigned id
func FindAlertByExternalID(db *gorm.DB, tenantID uint, externalID string) (*Alert, error) {
	var alert Alert
	if err := db.Where("tenant_id = ? AND external_alert_id = ?", tenantID, externalID).First(&alert).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

// AlertExternalIDTaken reports whether another alert in the tenant already
// carries the provider-assigned alert id
func AlertExternalIDTaken(db *gorm.DB, tenantID uint, externalID string, excludeID uint) (bool, error) {
	var count int64
	err := db.Model(&Alert{}).
		Where("tenant_id = ? AND external_alert_id = ? AND id <> ?", tenantID, externalID, excludeID).
		Count(&count).Error
	return count > 0, err
}

// ListAlertsForMonitor returns all alerts referencing the given monitor
func ListAlertsForMonitor(db *gorm.DB, tenantID, monitorID uint) ([]Alert, error) {
	var alerts []Alert
	if err := db.Where("tenant_id = ? AND monitor_id = ?", tenantID, monitorID).Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// CountOpenAlertsForMonitor counts non-resolved alerts referencing the monitor
func CountOpenAlertsForMonitor(db *gorm.DB, tenantID, monitorID uint) (int64, error) {
	var count int64
	err := db.Model(&Alert{}).
		Where("tenant_id = ? AND monitor_id = ? AND status <> ?", tenantID, monitorID, AlertStatusResolved).
		Count(&count).Error
	return count, err
}

// CompareAndSwapAlert applies updates only if the stored version still matches
// snapshot.Version, bumping the version on success
func CompareAndSwapAlert(db *gorm.DB, snapshot *Alert, updates map[string]interface{}) error {
	updates["version"] = snapshot.Version + 1
	result := db.Model(&Alert{}).
		Where("id = ? AND version = ?", snapshot.ID, snapshot.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ========== Integration events ==========

// InsertIntegrationEvent stores a raw inbound payload. Returns created=false
// when the tenant already has an event with the same (source, eventID), which
// makes webhook replays no-ops.
func InsertIntegrationEvent(db *gorm.DB, event *IntegrationEvent) (bool, error) {
	var existing IntegrationEvent
	err := db.Where("tenant_id = ? AND source = ? AND event_id = ?",
		event.TenantID, event.Source, event.EventID).First(&existing).Error
	if err == nil {
		*event = existing
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if err := db.Create(event).Error; err != nil {
		return false, err
	}
	return true, nil
}

// MarkIntegrationEventProcessed flips the processed flag
func MarkIntegrationEventProcessed(db *gorm.DB, id uint) error {
	return db.Model(&IntegrationEvent{}).Where("id = ?", id).Update("processed", true).Error
}

// ========== Audit log ==========

// RecordAudit appends a reconciliation or dispatch decision
func RecordAudit(db *gorm.DB, tenantID uint, action AuditAction, entityType string, entityID uint, detail JSONB) error {
	entry := &AuditLog{
		TenantID:   tenantID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
	}
	return db.Create(entry).Error
}

// ListAuditLogs returns audit entries for a tenant, newest first
func ListAuditLogs(db *gorm.DB, tenantID uint, limit int) ([]AuditLog, error) {
	var logs []AuditLog
	q := db.Where("tenant_id = ?", tenantID).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// ========== Sync errors ==========

// RecordSyncError appends a failed adapter call with its first retry time
func RecordSyncError(db *gorm.DB, syncErr *SyncError) error {
	return db.Create(syncErr).Error
}

// DueSyncErrors returns unresolved sync errors whose retry time has passed
func DueSyncErrors(db *gorm.DB, now time.Time, limit int) ([]SyncError, error) {
	var errs []SyncError
	q := db.Where("resolved = ? AND exhausted = ? AND abandoned = ? AND next_retry_at <= ?", false, false, false, now).
		Order("next_retry_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&errs).Error; err != nil {
		return nil, err
	}
	return errs, nil
}

// ListSyncErrors returns all sync errors for a tenant, newest first
func ListSyncErrors(db *gorm.DB, tenantID uint) ([]SyncError, error) {
	var errs []SyncError
	if err := db.Where("tenant_id = ?", tenantID).Order("id desc").Find(&errs).Error; err != nil {
		return nil, err
	}
	return errs, nil
}

// ========== Notification preferences ==========

// GetPreferences returns all channel preferences for a set of users
func GetPreferences(db *gorm.DB, tenantID uint, userIDs []string) ([]NotificationPreference, error) {
	var prefs []NotificationPreference
	if err := db.Where("tenant_id = ? AND user_id IN ?", tenantID, userIDs).Find(&prefs).Error; err != nil {
		return nil, err
	}
	return prefs, nil
}

// ========== Schedules ==========

// GetSchedule retrieves a schedule by ID within a tenant
func GetSchedule(db *gorm.DB, tenantID, id uint) (*OnCallSchedule, error) {
	var schedule OnCallSchedule
	if err := db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&schedule).Error; err != nil {
		return nil, err
	}
	return &schedule, nil
}

// ListAssignments returns all assignments for a schedule ordered by start
func ListAssignments(db *gorm.DB, scheduleID uint) ([]ScheduleAssignment, error) {
	var assignments []ScheduleAssignment
	if err := db.Where("schedule_id = ?", scheduleID).Order("start asc").Find(&assignments).Error; err != nil {
		return nil, err
	}
	return assignments, nil
}

// ========== Webhook sources ==========

// GetWebhookSourceByUUID retrieves an enabled webhook source used to route
// and authenticate an inbound delivery
func GetWebhookSourceByUUID(db *gorm.DB, uuid string) (*WebhookSource, error) {
	var source WebhookSource
	if err := db.Where("uuid = ? AND enabled = ?", uuid, true).First(&source).Error; err != nil {
		return nil, err
	}
	return &source, nil
}
