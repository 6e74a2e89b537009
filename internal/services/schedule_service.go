package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/oncall"
)

// ScheduleService manages on-call schedules and overrides and answers
// current/upcoming queries through the pure scheduler
type ScheduleService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewScheduleService creates a new ScheduleService
func NewScheduleService(db *gorm.DB) *ScheduleService {
	return &ScheduleService{db: db, now: time.Now}
}

// CreateScheduleInput carries the fields for a new schedule
type CreateScheduleInput struct {
	Name         string
	Timezone     string
	RotationType database.RotationType
	Anchor       time.Time
	Participants []string
	PeriodHours  int // custom rotations only
}

// CreateSchedule validates and persists a schedule. The rotation config is
// parsed up front so an unusable schedule is rejected at write time.
func (s *ScheduleService) CreateSchedule(tenantID uint, input CreateScheduleInput) (*database.OnCallSchedule, error) {
	if input.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if len(input.Participants) == 0 {
		return nil, &ValidationError{Field: "participants", Message: "must not be empty"}
	}
	if input.Anchor.IsZero() {
		return nil, &ValidationError{Field: "anchor", Message: "must be set"}
	}
	if input.RotationType == "" {
		input.RotationType = database.RotationTypeWeekly
	}
	if input.RotationType == database.RotationTypeCustom && input.PeriodHours <= 0 {
		return nil, &ValidationError{Field: "period_hours", Message: "must be positive for custom rotations"}
	}
	if input.Timezone == "" {
		input.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(input.Timezone); err != nil {
		return nil, &ValidationError{Field: "timezone", Message: fmt.Sprintf("unknown timezone %q", input.Timezone)}
	}

	participants := make([]interface{}, len(input.Participants))
	for i, p := range input.Participants {
		if p == "" {
			return nil, &ValidationError{Field: "participants", Message: "must not contain empty entries"}
		}
		participants[i] = p
	}

	config := database.JSONB{
		"anchor":       input.Anchor.UTC().Format(time.RFC3339),
		"participants": participants,
	}
	if input.RotationType == database.RotationTypeCustom {
		config["period_hours"] = float64(input.PeriodHours)
	}

	schedule := &database.OnCallSchedule{
		UUID:           uuid.New().String(),
		TenantID:       tenantID,
		Name:           input.Name,
		Timezone:       input.Timezone,
		RotationType:   input.RotationType,
		RotationConfig: config,
	}

	if _, err := oncall.ParseRotation(schedule); err != nil {
		return nil, &ValidationError{Field: "rotation_config", Message: err.Error()}
	}

	if err := s.db.Create(schedule).Error; err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	return schedule, nil
}

// UpdateScheduleInput carries the mutable schedule fields; zero values leave
// the stored value untouched
type UpdateScheduleInput struct {
	Name         string
	Timezone     string
	Participants []string
}

// UpdateSchedule applies the input to an existing schedule
func (s *ScheduleService) UpdateSchedule(tenantID, id uint, input UpdateScheduleInput) (*database.OnCallSchedule, error) {
	schedule, err := s.getSchedule(tenantID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.Name != "" {
		updates["name"] = input.Name
	}
	if input.Timezone != "" {
		if _, err := time.LoadLocation(input.Timezone); err != nil {
			return nil, &ValidationError{Field: "timezone", Message: fmt.Sprintf("unknown timezone %q", input.Timezone)}
		}
		updates["timezone"] = input.Timezone
	}
	if len(input.Participants) > 0 {
		participants := make([]interface{}, len(input.Participants))
		for i, p := range input.Participants {
			if p == "" {
				return nil, &ValidationError{Field: "participants", Message: "must not contain empty entries"}
			}
			participants[i] = p
		}
		config := schedule.RotationConfig
		config["participants"] = participants
		updates["rotation_config"] = config
	}
	if len(updates) == 0 {
		return schedule, nil
	}

	if err := s.db.Model(schedule).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.getSchedule(tenantID, id)
}

// Current answers who is on call right now for the schedule
func (s *ScheduleService) Current(tenantID, scheduleID uint) (oncall.Slot, error) {
	return s.CurrentAt(tenantID, scheduleID, s.now())
}

// CurrentAt answers who is on call at an explicit instant
func (s *ScheduleService) CurrentAt(tenantID, scheduleID uint, at time.Time) (oncall.Slot, error) {
	schedule, err := s.getSchedule(tenantID, scheduleID)
	if err != nil {
		return oncall.Slot{}, err
	}
	assignments, err := database.ListAssignments(s.db, schedule.ID)
	if err != nil {
		return oncall.Slot{}, err
	}
	return oncall.ComputeCurrent(schedule, assignments, at)
}

// Upcoming returns the resolved on-call slots from now up to the horizon
func (s *ScheduleService) Upcoming(tenantID, scheduleID uint, horizon time.Duration) ([]oncall.Slot, error) {
	schedule, err := s.getSchedule(tenantID, scheduleID)
	if err != nil {
		return nil, err
	}
	assignments, err := database.ListAssignments(s.db, schedule.ID)
	if err != nil {
		return nil, err
	}
	return oncall.Upcoming(schedule, assignments, s.now(), horizon)
}

// CreateOverride records an emergency override that preempts the rotation for
// its interval
func (s *ScheduleService) CreateOverride(tenantID, scheduleID uint, userID string, start, end time.Time) (*database.ScheduleAssignment, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if !end.After(start) {
		return nil, &ValidationError{Field: "end", Message: "must be after start"}
	}

	schedule, err := s.getSchedule(tenantID, scheduleID)
	if err != nil {
		return nil, err
	}

	override := &database.ScheduleAssignment{
		ScheduleID: schedule.ID,
		UserID:     userID,
		Start:      start,
		End:        end,
		IsOverride: true,
	}
	if err := s.db.Create(override).Error; err != nil {
		return nil, fmt.Errorf("failed to create override: %w", err)
	}
	return override, nil
}

func (s *ScheduleService) getSchedule(tenantID, id uint) (*database.OnCallSchedule, error) {
	schedule, err := database.GetSchedule(s.db, tenantID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "schedule", ID: id}
		}
		return nil, err
	}
	return schedule, nil
}
