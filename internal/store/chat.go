package store

import (
	"context"
	"fmt"
	"time"
)

// ChatEvent is a raw inbound message or reaction from an external
// platform, recorded before interpretation so ingestion is auditable.
type ChatEvent struct {
	ID          int64      `json:"id"`
	SessionID   int64      `json:"sessionId"`
	Platform    string     `json:"platform"`
	UserID      string     `json:"userId"`
	Username    string     `json:"username,omitempty"`
	Message     string     `json:"message"`
	Kind        string     `json:"kind"`
	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// RecordChatEvent stores a raw inbound event.
func (t *Tx) RecordChatEvent(ctx context.Context, now time.Time, ev ChatEvent) (ChatEvent, error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO chat_events (session_id, platform, user_id, username, message, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.SessionID, ev.Platform, ev.UserID, ev.Username, ev.Message, ev.Kind, marshalTime(now))
	if err != nil {
		return ChatEvent{}, fmt.Errorf("record chat event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return ChatEvent{}, fmt.Errorf("record chat event: last insert id: %w", err)
	}

	ev.ID = id
	ev.CreatedAt = now.UTC()
	ev.ProcessedAt = nil
	return ev, nil
}

// MarkChatEventProcessed stamps the event as having been interpreted
// (whether or not it produced a ballot).
func (t *Tx) MarkChatEventProcessed(ctx context.Context, now time.Time, id int64) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE chat_events SET processed_at = ? WHERE id = ?
	`, marshalTime(now), id)
	if err != nil {
		return fmt.Errorf("mark chat event processed: %w", err)
	}
	return requireRow(res, "mark chat event processed")
}

// ChatEvents returns a session's raw events oldest first, capped at
// limit (0 for no cap).
func (t *Tx) ChatEvents(ctx context.Context, sessionID int64, limit int) ([]ChatEvent, error) {
	query := `
		SELECT id, session_id, platform, user_id, username, message, kind, created_at, processed_at
		FROM chat_events
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat events: %w", err)
	}
	defer rows.Close()

	events := []ChatEvent{}
	for rows.Next() {
		var ev ChatEvent
		var createdAt string
		var processedAt *string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Platform, &ev.UserID, &ev.Username,
			&ev.Message, &ev.Kind, &createdAt, &processedAt); err != nil {
			return nil, fmt.Errorf("scan chat event: %w", err)
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if processedAt != nil {
			ts, err := parseTime(*processedAt)
			if err != nil {
				return nil, err
			}
			ev.ProcessedAt = &ts
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat events: %w", err)
	}
	return events, nil
}
