package database

import (
	"context"
	"fmt"
	"time"

	"courtside/internal/models"
)

func (db *DB) CreateNotification(ctx context.Context, userID int64, title, message string) (*models.Notification, error) {
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, title, message, is_read, created_at)
		VALUES (?, ?, ?, 0, ?)`, userID, title, message, now)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Notification{ID: id, UserID: userID, Title: title, Message: message, CreatedAt: now}, nil
}

func (db *DB) ListNotifications(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, title, message, is_read, created_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]models.Notification, 0)
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead only touches notifications owned by userID.
func (db *DB) MarkNotificationRead(ctx context.Context, userID, id int64) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
