package database

// SQL statements for the change event tables created by schema.sql.

const (
	// A replayed event keeps its first row.
	InsertChangeEvent = `
		INSERT INTO change_events (
			event_id,
			detected_at,
			changes_detected,
			total_roles,
			total_users,
			total_databases,
			total_role_grants,
			total_user_grants,
			summary
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`

	InsertChangedSection = `
		INSERT INTO change_event_sections (event_id, section)
		VALUES ($1, $2)
		ON CONFLICT (event_id, section) DO NOTHING`

	CountChangeEvents = `SELECT COUNT(*) FROM change_events`
)
