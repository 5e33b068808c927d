package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/LoanPipe/internal/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func encodeArchive(a models.SessionArchive) (string, string, error) {
	applicant, err := json.Marshal(a.Applicant)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal applicant: %w", err)
	}
	history := a.History
	if history == nil {
		history = []models.HistoryEntry{}
	}
	h, err := json.Marshal(history)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal history: %w", err)
	}
	return string(applicant), string(h), nil
}

func scanArchive(row rowScanner) (*models.SessionArchive, error) {
	var a models.SessionArchive
	var reason, finalState, applicantJSON, historyJSON string
	if err := row.Scan(&a.SessionID, &a.CreatedAt, &a.EndedAt, &reason, &finalState, &a.MessageCount, &applicantJSON, &historyJSON); err != nil {
		return nil, err
	}
	a.Reason = models.EndReason(reason)
	a.FinalState = models.StateType(finalState)
	if err := json.Unmarshal([]byte(applicantJSON), &a.Applicant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal applicant: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &a.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return &a, nil
}

func collectArchives(rows *sql.Rows) ([]models.SessionArchive, error) {
	var out []models.SessionArchive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session archive failed: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session archive iteration failed: %w", err)
	}
	return out, nil
}
