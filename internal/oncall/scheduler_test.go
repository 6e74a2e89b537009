package oncall

import (
	"testing"
	"time"

	"github.com/beaconhq/beacon/internal/database"
)

func weeklySchedule(anchor time.Time, participants ...string) *database.OnCallSchedule {
	ps := make([]interface{}, len(participants))
	for i, p := range participants {
		ps[i] = p
	}
	return &database.OnCallSchedule{
		ID:           1,
		TenantID:     1,
		Name:         "primary",
		Timezone:     "UTC",
		RotationType: database.RotationTypeWeekly,
		RotationConfig: database.JSONB{
			"anchor":       anchor.Format(time.RFC3339),
			"participants": ps,
		},
	}
}

func TestComputeCurrent_WeeklyRotation(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := weeklySchedule(anchor, "alice", "bob", "carol")

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"first week", time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC), "alice"},
		{"second week", time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC), "bob"},
		{"third week", time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC), "carol"},
		{"fourth week wraps to first participant", time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC), "alice"},
		{"exactly on anchor", anchor, "alice"},
		{"exactly on week boundary", time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), "bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot, err := ComputeCurrent(schedule, nil, tt.at)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if slot.UserID != tt.want {
				t.Errorf("expected %s on call at %s, got %s", tt.want, tt.at, slot.UserID)
			}
			if !slot.Start.Before(tt.at) && !slot.Start.Equal(tt.at) {
				t.Errorf("slot start %s is after query instant %s", slot.Start, tt.at)
			}
			if !slot.End.After(tt.at) {
				t.Errorf("slot end %s does not cover query instant %s", slot.End, tt.at)
			}
		})
	}
}

func TestComputeCurrent_IsDeterministic(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := weeklySchedule(anchor, "alice", "bob")
	at := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)

	first, err := ComputeCurrent(schedule, nil, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := ComputeCurrent(schedule, nil, at)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again != first {
			t.Fatalf("same inputs produced different slots: %+v vs %+v", first, again)
		}
	}
}

func TestComputeCurrent_BeforeAnchor(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := weeklySchedule(anchor, "alice", "bob", "carol")

	// One week before the anchor the rotation wraps backwards to carol.
	slot, err := ComputeCurrent(schedule, nil, time.Date(2023, 12, 28, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot.UserID != "carol" {
		t.Errorf("expected carol on call before the anchor, got %s", slot.UserID)
	}
}

func TestComputeCurrent_CustomPeriod(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := weeklySchedule(anchor, "alice", "bob")
	schedule.RotationType = database.RotationTypeCustom
	schedule.RotationConfig["period_hours"] = float64(24)

	slot, err := ComputeCurrent(schedule, nil, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot.UserID != "bob" {
		t.Errorf("expected bob on day two of a daily rotation, got %s", slot.UserID)
	}
	if got := slot.End.Sub(slot.Start); got != 24*time.Hour {
		t.Errorf("expected 24h slot, got %s", got)
	}
}

func TestComputeCurrent_OverrideWins(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := weeklySchedule(anchor, "alice", "bob")

	at := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	assignments := []database.ScheduleAssignment{
		{
			ID:         1,
			ScheduleID: 1,
			UserID:     "dave",
			Start:      time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			End:        time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
			IsOverride: true,
			CreatedAt:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		},
	}

	slot, err := ComputeCurrent(schedule, assignments, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot.UserID != "dave" {
		t.Errorf("expected override user dave, got %s", slot.UserID)
	}
}

func TestComputeCurrent_OverlappingOverrides_MostRecentWins(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := weeklySchedule(anchor, "alice")
	at := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)

	assignments := []database.ScheduleAssignment{
		{
			ID:         1,
			UserID:     "dave",
			Start:      time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			End:        time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
			IsOverride: true,
			CreatedAt:  time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			ID:         2,
			UserID:     "erin",
			Start:      time.Date(2024, 1, 3, 6, 0, 0, 0, time.UTC),
			End:        time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
			IsOverride: true,
			CreatedAt:  time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		},
	}

	slot, err := ComputeCurrent(schedule, assignments, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot.UserID != "erin" {
		t.Errorf("expected most recently created override to win, got %s", slot.UserID)
	}
}

func TestComputeCurrent_ExpiredOverrideIgnored(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := weeklySchedule(anchor, "alice", "bob")

	assignments := []database.ScheduleAssignment{
		{
			ID:         1,
			UserID:     "dave",
			Start:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			End:        time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			IsOverride: true,
			CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	// Once the override window closes, the rotation resumes.
	slot, err := ComputeCurrent(schedule, assignments, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot.UserID != "alice" {
		t.Errorf("expected rotation to resume after override expiry, got %s", slot.UserID)
	}
}

func TestUpcoming_CarvesOverrides(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := weeklySchedule(anchor, "alice", "bob")

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assignments := []database.ScheduleAssignment{
		{
			ID:         1,
			UserID:     "dave",
			Start:      time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			End:        time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
			IsOverride: true,
			CreatedAt:  from,
		},
	}

	slots, err := Upcoming(schedule, assignments, from, 14*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// alice [1..3), dave [3..4), alice [4..8), bob [8..15)
	want := []struct {
		user  string
		start time.Time
		end   time.Time
	}{
		{"alice", from, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
		{"dave", time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)},
		{"alice", time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)},
		{"bob", time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
	}

	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d: %+v", len(want), len(slots), slots)
	}
	for i, w := range want {
		if slots[i].UserID != w.user || !slots[i].Start.Equal(w.start) || !slots[i].End.Equal(w.end) {
			t.Errorf("slot %d: expected %s [%s, %s), got %s [%s, %s)",
				i, w.user, w.start, w.end, slots[i].UserID, slots[i].Start, slots[i].End)
		}
	}
}

func TestUpcoming_SlotsAreContiguous(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := weeklySchedule(anchor, "alice", "bob", "carol")
	from := time.Date(2024, 2, 10, 13, 45, 0, 0, time.UTC)

	slots, err := Upcoming(schedule, nil, from, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("expected at least one slot")
	}
	if !slots[0].Start.Equal(from) {
		t.Errorf("first slot should start at the query instant, got %s", slots[0].Start)
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i].Start.Equal(slots[i-1].End) {
			t.Errorf("gap between slot %d end %s and slot %d start %s", i-1, slots[i-1].End, i, slots[i].Start)
		}
	}
	last := slots[len(slots)-1]
	if !last.End.Equal(from.Add(30 * 24 * time.Hour)) {
		t.Errorf("last slot should be clipped to the horizon, got end %s", last.End)
	}
}

func TestParseRotation_Errors(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(*database.OnCallSchedule)
	}{
		{"nil config", func(s *database.OnCallSchedule) { s.RotationConfig = nil }},
		{"missing anchor", func(s *database.OnCallSchedule) { delete(s.RotationConfig, "anchor") }},
		{"invalid anchor", func(s *database.OnCallSchedule) { s.RotationConfig["anchor"] = "not-a-time" }},
		{"no participants", func(s *database.OnCallSchedule) { s.RotationConfig["participants"] = []interface{}{} }},
		{"empty participant", func(s *database.OnCallSchedule) { s.RotationConfig["participants"] = []interface{}{""} }},
		{"custom without period", func(s *database.OnCallSchedule) {
			s.RotationType = database.RotationTypeCustom
			delete(s.RotationConfig, "period_hours")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule := weeklySchedule(anchor, "alice")
			tt.mutate(schedule)
			if _, err := ParseRotation(schedule); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
