package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/supplywise/supplybot/internal/models"
)

// Credential repository errors.
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
)

// CredentialRepository stores per-chat marketplace credentials.
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Set stores or replaces the credentials for a chat.
func (r *CredentialRepository) Set(ctx context.Context, creds models.Credentials) error {
	if creds.ChatID == 0 {
		return fmt.Errorf("invalid credentials: %w", models.ErrEmptyChatID)
	}
	if creds.Empty() {
		return errors.New("invalid credentials: client id and api key must not be empty")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (chat_id, client_id, api_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			client_id = excluded.client_id,
			api_key = excluded.api_key,
			updated_at = excluded.updated_at
	`, creds.ChatID, creds.ClientID, creds.APIKey, now, now)
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Get fetches the credentials for a chat.
func (r *CredentialRepository) Get(ctx context.Context, chatID int64) (models.Credentials, error) {
	creds := models.Credentials{ChatID: chatID}
	err := r.db.QueryRowContext(ctx, `
		SELECT client_id, api_key FROM credentials WHERE chat_id = ?
	`, chatID).Scan(&creds.ClientID, &creds.APIKey)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Credentials{}, ErrCredentialsNotFound
	}
	if err != nil {
		return models.Credentials{}, fmt.Errorf("failed to load credentials: %w", err)
	}
	return creds, nil
}

// Clear removes the credentials for a chat.
func (r *CredentialRepository) Clear(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}
