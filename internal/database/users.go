package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"courtside/internal/models"
)

// UpsertUser creates the user or refreshes its profile fields. The
// telegram chat id is left untouched on update.
func (db *DB) UpsertUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, telegram_chat_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			role = excluded.role,
			updated_at = excluded.updated_at`,
		u.ID, u.Email, u.Name, u.Role, u.TelegramChatID, now, now)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := db.QueryRowContext(ctx, `
		SELECT id, email, name, role, telegram_chat_id, created_at, updated_at
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.TelegramChatID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

func (db *DB) SetTelegramChatID(ctx context.Context, userID, chatID int64) error {
	res, err := db.ExecContext(ctx,
		`UPDATE users SET telegram_chat_id = ?, updated_at = ? WHERE id = ?`,
		chatID, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("set telegram chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrUserNotFound
	}
	return nil
}
