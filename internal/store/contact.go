package store

import "github.com/andrefarinha/courier/internal/state"

// UpsertContact inserts or updates a contact. The added_at of an existing
// row is preserved.
func (db *DB) UpsertContact(c state.Contact) error {
	_, err := db.Exec(`
		INSERT INTO contacts (username, nickname, avatar_color, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			nickname = excluded.nickname,
			avatar_color = excluded.avatar_color`,
		c.Username, c.Nickname, c.AvatarColor, c.AddedAt)
	return err
}

// ListContacts returns all contacts ordered by nickname.
func (db *DB) ListContacts() ([]state.Contact, error) {
	rows, err := db.Query(`
		SELECT username, nickname, avatar_color, added_at
		FROM contacts
		ORDER BY nickname ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []state.Contact
	for rows.Next() {
		var c state.Contact
		if err := rows.Scan(&c.Username, &c.Nickname, &c.AvatarColor, &c.AddedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
