// Package oncall computes on-call rotations and override precedence. All
// functions are pure over a schedule snapshot and an explicit instant, so the
// results are deterministic and testable without touching the wall clock.
package oncall

import (
	"fmt"
	"sort"
	"time"

	"github.com/beaconhq/beacon/internal/database"
)

// Slot is one resolved on-call interval
type Slot struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	UserID string    `json:"user_id"`
}

// Rotation is the parsed form of a schedule's rotation config
type Rotation struct {
	Anchor       time.Time
	Participants []string
	Period       time.Duration
}

// ParseRotation extracts the rotation parameters from a schedule's config.
// Weekly rotations have a fixed seven-day period; custom rotations carry an
// explicit period_hours value.
func ParseRotation(schedule *database.OnCallSchedule) (*Rotation, error) {
	cfg := schedule.RotationConfig
	if cfg == nil {
		return nil, fmt.Errorf("schedule %d has no rotation config", schedule.ID)
	}

	anchorRaw, ok := cfg["anchor"].(string)
	if !ok || anchorRaw == "" {
		return nil, fmt.Errorf("rotation config missing anchor")
	}
	anchor, err := time.Parse(time.RFC3339, anchorRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid rotation anchor: %w", err)
	}

	rawParticipants, ok := cfg["participants"].([]interface{})
	if !ok || len(rawParticipants) == 0 {
		return nil, fmt.Errorf("rotation config has no participants")
	}
	participants := make([]string, 0, len(rawParticipants))
	for _, p := range rawParticipants {
		s, ok := p.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("rotation participants must be non-empty strings")
		}
		participants = append(participants, s)
	}

	period := 7 * 24 * time.Hour
	if schedule.RotationType == database.RotationTypeCustom {
		hours, ok := cfg["period_hours"].(float64)
		if !ok || hours <= 0 {
			return nil, fmt.Errorf("custom rotation requires a positive period_hours")
		}
		period = time.Duration(hours) * time.Hour
	}

	return &Rotation{Anchor: anchor, Participants: participants, Period: period}, nil
}

// periodIndex returns how many whole periods have elapsed between the anchor
// and t. Instants before the anchor yield negative indexes.
func (r *Rotation) periodIndex(t time.Time) int {
	elapsed := t.Sub(r.Anchor)
	idx := int(elapsed / r.Period)
	if elapsed < 0 && elapsed%r.Period != 0 {
		idx--
	}
	return idx
}

// participantAt selects the on-call participant for a period index,
// wrapping correctly for negative indexes
func (r *Rotation) participantAt(periodIdx int) string {
	n := len(r.Participants)
	i := ((periodIdx % n) + n) % n
	return r.Participants[i]
}

// slotAt returns the rotation slot containing t
func (r *Rotation) slotAt(t time.Time) Slot {
	idx := r.periodIndex(t)
	start := r.Anchor.Add(time.Duration(idx) * r.Period)
	return Slot{
		Start:  start,
		End:    start.Add(r.Period),
		UserID: r.participantAt(idx),
	}
}

// activeOverride returns the override assignment covering now, if any.
// Among overlapping overrides the most recently created one wins.
func activeOverride(assignments []database.ScheduleAssignment, now time.Time) *database.ScheduleAssignment {
	var winner *database.ScheduleAssignment
	for i := range assignments {
		a := &assignments[i]
		if !a.IsOverride || !a.Covers(now) {
			continue
		}
		if winner == nil || a.CreatedAt.After(winner.CreatedAt) ||
			(a.CreatedAt.Equal(winner.CreatedAt) && a.ID > winner.ID) {
			winner = a
		}
	}
	return winner
}

// ComputeCurrent determines who is on call for the schedule at the given
// instant. An active override wins unconditionally over the computed
// rotation; otherwise the rotation index selects the participant.
func ComputeCurrent(schedule *database.OnCallSchedule, assignments []database.ScheduleAssignment, now time.Time) (Slot, error) {
	if override := activeOverride(assignments, now); override != nil {
		return Slot{Start: override.Start, End: override.End, UserID: override.UserID}, nil
	}

	rotation, err := ParseRotation(schedule)
	if err != nil {
		return Slot{}, err
	}
	return rotation.slotAt(now), nil
}

// Upcoming produces the finite sequence of on-call slots from `from` up to
// `from + horizon`, with future override intervals taking precedence over the
// rotation slots they cover.
func Upcoming(schedule *database.OnCallSchedule, assignments []database.ScheduleAssignment, from time.Time, horizon time.Duration) ([]Slot, error) {
	rotation, err := ParseRotation(schedule)
	if err != nil {
		return nil, err
	}
	until := from.Add(horizon)

	var slots []Slot
	for cursor := from; cursor.Before(until); {
		slot := rotation.slotAt(cursor)
		if slot.Start.Before(from) {
			slot.Start = from
		}
		if slot.End.After(until) {
			slot.End = until
		}
		slots = append(slots, slot)
		cursor = slot.End
	}

	// Apply overrides oldest-first so the most recently created override ends
	// up on top where they overlap each other.
	overrides := make([]database.ScheduleAssignment, 0)
	for _, a := range assignments {
		if a.IsOverride && a.End.After(from) && a.Start.Before(until) {
			overrides = append(overrides, a)
		}
	}
	sort.Slice(overrides, func(i, j int) bool {
		if overrides[i].CreatedAt.Equal(overrides[j].CreatedAt) {
			return overrides[i].ID < overrides[j].ID
		}
		return overrides[i].CreatedAt.Before(overrides[j].CreatedAt)
	})

	for _, o := range overrides {
		start := o.Start
		if start.Before(from) {
			start = from
		}
		end := o.End
		if end.After(until) {
			end = until
		}
		slots = carve(slots, Slot{Start: start, End: end, UserID: o.UserID})
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots, nil
}

// carve removes the override's interval from every existing slot and inserts
// the override as its own slot
func carve(slots []Slot, override Slot) []Slot {
	out := make([]Slot, 0, len(slots)+2)
	for _, s := range slots {
		// No intersection
		if !s.End.After(override.Start) || !override.End.After(s.Start) {
			out = append(out, s)
			continue
		}
		if s.Start.Before(override.Start) {
			out = append(out, Slot{Start: s.Start, End: override.Start, UserID: s.UserID})
		}
		if s.End.After(override.End) {
			out = append(out, Slot{Start: override.End, End: s.End, UserID: s.UserID})
		}
	}
	out = append(out, override)
	return out
}
