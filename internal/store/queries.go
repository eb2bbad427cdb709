package store

// SQL constants, grouped by domain. Multi-line to keep lines readable.

// Contact queries.
const (
	sqlContactColumns = `id, user_id, source, external_id, part,
		display_name, company, primary_email, primary_phone,
		emails, phones, provenance, last_communication_at,
		created_at, updated_at, is_deleted`

	sqlGetContact = `SELECT ` + sqlContactColumns + `
		FROM contacts WHERE user_id = ? AND source = ? AND external_id = ?`

	sqlUpsertContact = `INSERT INTO contacts
		(id, user_id, source, external_id, part,
		 display_name, name_fold, company, company_fold,
		 primary_email, primary_phone, emails, phones, provenance,
		 last_communication_at, created_at, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(user_id, source, external_id) DO UPDATE SET
			part                  = excluded.part,
			display_name          = excluded.display_name,
			name_fold             = excluded.name_fold,
			company               = excluded.company,
			company_fold          = excluded.company_fold,
			primary_email         = excluded.primary_email,
			primary_phone         = excluded.primary_phone,
			emails                = excluded.emails,
			phones                = excluded.phones,
			provenance            = excluded.provenance,
			last_communication_at = MAX(contacts.last_communication_at,
			                            excluded.last_communication_at),
			updated_at            = excluded.updated_at,
			is_deleted            = 0`

	sqlMarkContactDeleted = `UPDATE contacts
		SET is_deleted = 1, updated_at = ?
		WHERE user_id = ? AND source = ? AND external_id = ?`

	sqlListActiveContacts = `SELECT ` + sqlContactColumns + `
		FROM contacts WHERE user_id = ? AND is_deleted = 0
		ORDER BY last_communication_at DESC, name_fold ASC`

	// Search pushes the predicate down to the store: the whole contact
	// set is the searchable pool, never a pre-capped window. Rank 0 is an
	// exact folded-name match, 1 a prefix match, 2 a substring match
	// anywhere in name, company, email, or phone.
	sqlSearchContacts = `SELECT ` + sqlContactColumns + `,
		CASE WHEN name_fold = ? THEN 0
		     WHEN name_fold LIKE ? ESCAPE '\' THEN 1
		     ELSE 2 END AS rank
		FROM contacts
		WHERE user_id = ? AND is_deleted = 0
		  AND (name_fold     LIKE ? ESCAPE '\'
		    OR company_fold  LIKE ? ESCAPE '\'
		    OR primary_email LIKE ? ESCAPE '\'
		    OR primary_phone LIKE ? ESCAPE '\'
		    OR emails        LIKE ? ESCAPE '\'
		    OR phones        LIKE ? ESCAPE '\')
		ORDER BY rank ASC, last_communication_at DESC, name_fold ASC`
)

// Communication queries. Groups collapse sightings of one identity within
// one source; the representative display name is the earliest sighting's.
const (
	sqlInsertCommunication = `INSERT INTO communications
		(user_id, source, identity, display_name, name_fold, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, source, identity, occurred_at) DO NOTHING`

	sqlTouchContactCommunication = `UPDATE contacts
		SET last_communication_at = MAX(last_communication_at, ?), updated_at = ?
		WHERE user_id = ? AND is_deleted = 0
		  AND (primary_email = ? OR primary_phone = ? OR emails LIKE ? ESCAPE '\')`

	sqlCommunicationGroupColumns = `c.identity,
		(SELECT c2.display_name FROM communications c2
		  WHERE c2.user_id = c.user_id AND c2.source = c.source
		    AND c2.identity = c.identity
		  ORDER BY c2.occurred_at ASC LIMIT 1),
		MIN(c.occurred_at), MAX(c.occurred_at)`

	sqlCommunicationGroups = `SELECT ` + sqlCommunicationGroupColumns + `
		FROM communications c
		WHERE c.user_id = ? AND c.source = ?
		GROUP BY c.identity`

	sqlSearchCommunicationGroups = `SELECT ` + sqlCommunicationGroupColumns + `
		FROM communications c
		WHERE c.user_id = ? AND c.source = ?
		  AND (c.identity LIKE ? ESCAPE '\' OR c.name_fold LIKE ? ESCAPE '\')
		GROUP BY c.identity`
)

// Cursor queries.
const (
	sqlGetCursor = `SELECT cursor FROM sync_cursors
		WHERE user_id = ? AND source = ? AND kind = ?`

	sqlSaveCursor = `INSERT INTO sync_cursors
		(user_id, source, kind, cursor, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, source, kind) DO UPDATE
		SET cursor = excluded.cursor, updated_at = excluded.updated_at`
)
