package snapshot

import (
	"time"

	"github.com/google/uuid"
)

// Record is a single row returned by a SHOW statement, keyed by column name.
// Values are normalized by the source to strings, numbers, booleans or nil.
type Record map[string]any

// Snapshot represents one full capture of the warehouse access-control metadata.
type Snapshot struct {
	// Timestamp records when the capture started
	Timestamp time.Time `json:"timestamp"`

	Roles     []Record `json:"roles"`
	Users     []Record `json:"users"`
	Databases []Record `json:"databases"`

	// RoleGrants maps a role name to the privileges granted to it
	RoleGrants map[string][]Record `json:"role_grants"`

	// UserGrants maps a user name to the roles granted to it
	UserGrants map[string][]Record `json:"user_grants"`

	// RoleMemberships maps a role name to the grantees holding it
	RoleMemberships map[string][]Record `json:"role_memberships"`

	// TableGrants maps a "database.schema.table" key to the grants on that table
	TableGrants map[string][]Record `json:"table_grants"`
}

// Summary holds per-category counts written with every ChangeEvent.
type Summary struct {
	TotalRoles      int `json:"total_roles"`
	TotalUsers      int `json:"total_users"`
	TotalDatabases  int `json:"total_databases"`
	TotalRoleGrants int `json:"total_role_grants"`
	TotalUserGrants int `json:"total_user_grants"`
}

// ChangeEvent is the durable record of a detected change. It is appended to
// the event log and never mutated afterwards.
type ChangeEvent struct {
	ID              uuid.UUID `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	ChangesDetected bool      `json:"changes_detected"`
	Summary         Summary   `json:"summary"`
	ChangedSections []string  `json:"changed_sections,omitempty"`
}
