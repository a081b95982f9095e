package snapshot

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns an empty snapshot stamped with the given capture time.
// All maps are allocated so sources can fill them directly.
func New(ts time.Time) *Snapshot {
	return &Snapshot{
		Timestamp:       ts,
		Roles:           []Record{},
		Users:           []Record{},
		Databases:       []Record{},
		RoleGrants:      make(map[string][]Record),
		UserGrants:      make(map[string][]Record),
		RoleMemberships: make(map[string][]Record),
		TableGrants:     make(map[string][]Record),
	}
}

// Summarize counts the entities of a snapshot. Grant totals are summed over
// every role and user.
func Summarize(s *Snapshot) Summary {
	if s == nil {
		return Summary{}
	}
	return Summary{
		TotalRoles:      len(s.Roles),
		TotalUsers:      len(s.Users),
		TotalDatabases:  len(s.Databases),
		TotalRoleGrants: countGrants(s.RoleGrants),
		TotalUserGrants: countGrants(s.UserGrants),
	}
}

// NewChangeEvent builds the event recorded when a snapshot differs from the
// previous one.
func NewChangeEvent(s *Snapshot, changedSections []string, now time.Time) ChangeEvent {
	return ChangeEvent{
		ID:              uuid.New(),
		Timestamp:       now,
		ChangesDetected: true,
		Summary:         Summarize(s),
		ChangedSections: changedSections,
	}
}

// Names extracts the "name" column from a list of records, skipping rows
// without one.
func Names(records []Record) []string {
	names := make([]string, 0, len(records))
	for _, r := range records {
		if name, ok := r.Name(); ok {
			names = append(names, name)
		}
	}
	return names
}

// Name returns the record's "name" column rendered as a string.
func (r Record) Name() (string, bool) {
	v, ok := r["name"]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, s != ""
	}
	return fmt.Sprint(v), true
}

func countGrants(m map[string][]Record) int {
	total := 0
	for _, grants := range m {
		total += len(grants)
	}
	return total
}
