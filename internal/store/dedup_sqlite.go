package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) IsDuplicate(messageID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT 1 FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&n)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to look up inbound message %s: %w", messageID, err)
	}
	return true, nil
}

func (s *SQLiteStore) RecordInbound(messageID, sender string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (message_id, sender, received_at) VALUES (?, ?, ?)`,
		messageID, sender, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record inbound message %s: %w", messageID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for inbound message %s: %w", messageID, err)
	}
	if inserted == 0 {
		slog.Debug("SQLiteStore.RecordInbound: redelivered message", "messageID", messageID, "sender", sender)
	}
	return inserted > 0, nil
}

func (s *SQLiteStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(
		`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ? AND processed_at IS NULL`,
		time.Now().UTC(), messageID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark inbound message %s processed: %w", messageID, err)
	}
	return nil
}
