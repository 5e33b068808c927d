package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var _ DedupRepo = (*PostgresStore)(nil)

// IsDuplicate reports whether messageID has been recorded.
func (s *PostgresStore) IsDuplicate(messageID string) (bool, error) {
	var receivedAt time.Time
	err := s.db.QueryRow(`SELECT received_at FROM inbound_dedup WHERE message_id = $1`, messageID).Scan(&receivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up inbound message %s: %w", messageID, err)
	}
	return true, nil
}

// RecordInbound inserts the message id; a conflicting insert means redelivery.
func (s *PostgresStore) RecordInbound(messageID, sender string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO inbound_dedup (message_id, sender, received_at) VALUES ($1, $2, $3)
		 ON CONFLICT (message_id) DO NOTHING`,
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
		slog.Debug("PostgresStore.RecordInbound: redelivered message", "messageID", messageID, "sender", sender)
	}
	return inserted > 0, nil
}

// MarkProcessed stamps processed_at once the reply has been produced.
func (s *PostgresStore) MarkProcessed(messageID string) error {
	if _, err := s.db.Exec(
		`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2 AND processed_at IS NULL`,
		time.Now().UTC(), messageID,
	); err != nil {
		return fmt.Errorf("failed to mark inbound message %s processed: %w", messageID, err)
	}
	return nil
}
