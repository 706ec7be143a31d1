package domain

import "time"

// ShiftPreference describes when a team prefers to receive new work.
// Hours are in local time, 24h clock. An empty Weekdays set means any day.
type ShiftPreference struct {
	StartHour int            `json:"start_hour"`
	EndHour   int            `json:"end_hour"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
}

// Matches reports whether t falls inside the preferred shift window.
func (p ShiftPreference) Matches(t time.Time) bool {
	if p.StartHour == 0 && p.EndHour == 0 {
		return false
	}
	hour := t.Hour()
	inHours := false
	if p.StartHour <= p.EndHour {
		inHours = hour >= p.StartHour && hour < p.EndHour
	} else {
		// Overnight shift, e.g. 22-6.
		inHours = hour >= p.StartHour || hour < p.EndHour
	}
	if !inHours {
		return false
	}
	if len(p.Weekdays) == 0 {
		return true
	}
	for _, d := range p.Weekdays {
		if d == t.Weekday() {
			return true
		}
	}
	return false
}

// Team represents a crew of workers under one manager.
type Team struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	ManagerID       string          `json:"manager_id"`
	LeaderID        *string         `json:"leader_id,omitempty"`
	Zone            string          `json:"zone,omitempty"`
	Capabilities    []string        `json:"capabilities,omitempty"`
	Shift           ShiftPreference `json:"shift"`
	IsAvailable     bool            `json:"is_available"`
	CurrentCapacity int             `json:"current_capacity"`
	MaxCapacity     int             `json:"max_capacity"`
	PriorityLevel   int             `json:"priority_level"`
	LastActivity    *time.Time      `json:"last_activity,omitempty"`
	AvailableFrom   *time.Time      `json:"available_from,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HasCapacity returns true if the team can accept one more work order.
func (t *Team) HasCapacity() bool {
	return t.CurrentCapacity < t.MaxCapacity
}

// HasCapability returns true if the team carries the given capability tag.
func (t *Team) HasCapability(tag string) bool {
	for _, c := range t.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// TeamMember binds a worker account to a team.
type TeamMember struct {
	ID       string    `json:"id"`
	TeamID   string    `json:"team_id"`
	UserID   string    `json:"user_id"`
	IsActive bool      `json:"is_active"`
	JoinedAt time.Time `json:"joined_at"`
}
