package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ttngu207/stackrun/internal/events"
)

// AppendEvent persists one stack event. The data payload is serialized
// as JSON.
func (s *Store) AppendEvent(ctx context.Context, event *events.Event) error {
	if event.ID == "" {
		return fmt.Errorf("event ID is required")
	}
	var data sql.NullString
	if len(event.Data) > 0 {
		b, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to serialize event data: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stack_events (id, event_type, project, service, replica, severity, message, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), event.Project, event.Service, event.Replica,
		string(event.Severity), event.Message, data, formatTime(event.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// GetEvents returns events matching the filter, oldest first. When a
// limit is set it keeps the newest events, so limited views behave like
// a tail.
func (s *Store) GetEvents(ctx context.Context, filter events.Filter) ([]*events.Event, error) {
	query := `SELECT id, event_type, project, service, replica, severity, message, data, created_at
		FROM stack_events WHERE 1=1`
	var args []interface{}

	if filter.Project != "" {
		query += " AND project = ?"
		args = append(args, filter.Project)
	}
	if filter.Service != "" {
		query += " AND service = ?"
		args = append(args, filter.Service)
	}
	if filter.Replica > 0 {
		query += " AND replica = ?"
		args = append(args, filter.Replica)
	}
	if len(filter.Types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Types)), ",")
		query += " AND event_type IN (" + placeholders + ")"
		for _, t := range filter.Types {
			args = append(args, string(t))
		}
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, formatTime(filter.Since))
	}
	if filter.Limit > 0 {
		// Newest first so the limit trims old history; re-sorted
		// ascending below.
		query += " ORDER BY created_at DESC, id DESC LIMIT ?"
		args = append(args, filter.Limit)
	} else {
		query += " ORDER BY created_at, id"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var result []*events.Event
	for rows.Next() {
		var e events.Event
		var eventType, severity, createdAt string
		var data sql.NullString
		if err := rows.Scan(&e.ID, &eventType, &e.Project, &e.Service, &e.Replica,
			&severity, &e.Message, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = events.EventType(eventType)
		e.Severity = events.EventSeverity(severity)
		if e.Timestamp, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				return nil, fmt.Errorf("failed to parse event data: %w", err)
			}
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if filter.Limit > 0 {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	return result, nil
}
