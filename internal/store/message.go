package store

import (
	"database/sql"
	"time"

	"github.com/andrefarinha/courier/internal/state"
)

// UpsertMessage inserts or updates a message row, idempotent on local_id.
// A server id, once stored, is never replaced.
func (db *DB) UpsertMessage(m state.Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation, local_id, server_id, sender, recipient, body, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			server_id = CASE WHEN messages.server_id != '' THEN messages.server_id ELSE excluded.server_id END,
			body = excluded.body,
			status = excluded.status,
			timestamp = excluded.timestamp`,
		m.Conversation(), m.LocalID, m.ServerID, m.From, m.To, m.Body, string(m.Status), m.Timestamp, now)
	return err
}

// BulkUpsert writes a batch of messages in a single transaction.
func (db *DB) BulkUpsert(msgs []state.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation, local_id, server_id, sender, recipient, body, status, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(local_id) DO UPDATE SET
				server_id = CASE WHEN messages.server_id != '' THEN messages.server_id ELSE excluded.server_id END,
				body = excluded.body,
				status = excluded.status,
				timestamp = excluded.timestamp`,
			m.Conversation(), m.LocalID, m.ServerID, m.From, m.To, m.Body, string(m.Status), m.Timestamp, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListByConversation returns every message for a conversation key, ordered
// by timestamp ascending.
func (db *DB) ListByConversation(key string) ([]state.Message, error) {
	rows, err := db.Query(`
		SELECT local_id, server_id, sender, recipient, body, status, timestamp
		FROM messages
		WHERE conversation = ?
		ORDER BY timestamp ASC, local_id ASC`, key)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// GetRecent returns the most recent limit messages across all
// conversations, ordered by timestamp ascending. Used for cold-start
// hydration.
func (db *DB) GetRecent(limit int) ([]state.Message, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.Query(`
		SELECT local_id, server_id, sender, recipient, body, status, timestamp FROM (
			SELECT local_id, server_id, sender, recipient, body, status, timestamp
			FROM messages
			ORDER BY timestamp DESC
			LIMIT ?
		) ORDER BY timestamp ASC, local_id ASC`, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// MarkRead flips every message in the conversation not authored by reader
// to read.
func (db *DB) MarkRead(key, reader string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = 'read'
		WHERE conversation = ? AND sender != ? AND status != 'read'`, key, reader)
	return err
}

// DeleteByConversation removes all rows for a conversation key.
func (db *DB) DeleteByConversation(key string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation = ?`, key)
	return err
}

// ClearAll wipes the ledger (messages and contacts).
func (db *DB) ClearAll() error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM contacts`); err != nil {
		return err
	}
	return tx.Commit()
}

func scanMessages(rows *sql.Rows) ([]state.Message, error) {
	defer func() { _ = rows.Close() }()
	var msgs []state.Message
	for rows.Next() {
		var m state.Message
		var status string
		if err := rows.Scan(&m.LocalID, &m.ServerID, &m.From, &m.To, &m.Body, &status, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Status = state.MessageStatus(status)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
