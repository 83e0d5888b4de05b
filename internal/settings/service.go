// Package settings persists per-company provider configuration as
// company-scoped key/value pairs, so multiple tenants share one deployment
// without leaning on environment variables.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConfigured is returned when a company has no value for a key, or a
// provider's settings are incomplete.
var ErrNotConfigured = errors.New("provider not configured")

var validate = validator.New()

type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "settings")),
	}
}

// Get returns the value stored for a company key.
func (s *Service) Get(ctx context.Context, companyID int64, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM company_settings WHERE company_id = $1 AND key = $2`,
		companyID, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, key)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set upserts a company key.
func (s *Service) Set(ctx context.Context, companyID int64, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("setting key is required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO company_settings (company_id, key, value)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (company_id, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		companyID, key, value,
	)
	return err
}

// Chatwoot loads the company's chat-aggregation settings.
func (s *Service) Chatwoot(ctx context.Context, companyID int64) (ChatwootSettings, error) {
	values, err := s.byPrefix(ctx, companyID, "chatwoot.")
	if err != nil {
		return ChatwootSettings{}, err
	}
	cfg := ChatwootSettings{
		BaseURL:       values[KeyChatwootBaseURL],
		AccessToken:   values[KeyChatwootAccessToken],
		WebhookSecret: values[KeyChatwootWebhookSecret],
	}
	if raw := strings.TrimSpace(values[KeyChatwootAccountID]); raw != "" {
		cfg.AccountID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ChatwootSettings{}, fmt.Errorf("invalid chatwoot account id: %w", err)
		}
	}
	if cfg.BaseURL == "" || cfg.AccessToken == "" || cfg.AccountID <= 0 {
		return ChatwootSettings{}, fmt.Errorf("%w: chatwoot", ErrNotConfigured)
	}
	return cfg, nil
}

// SetChatwoot stores the company's chat-aggregation settings.
func (s *Service) SetChatwoot(ctx context.Context, companyID int64, cfg ChatwootSettings) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("chatwoot settings: %w", err)
	}
	pairs := map[string]string{
		KeyChatwootBaseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		KeyChatwootAccessToken:   strings.TrimSpace(cfg.AccessToken),
		KeyChatwootAccountID:     strconv.FormatInt(cfg.AccountID, 10),
		KeyChatwootWebhookSecret: strings.TrimSpace(cfg.WebhookSecret),
	}
	for key, value := range pairs {
		if err := s.Set(ctx, companyID, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Messenger loads the company's page-messaging settings.
func (s *Service) Messenger(ctx context.Context, companyID int64) (MessengerSettings, error) {
	values, err := s.byPrefix(ctx, companyID, "messenger.")
	if err != nil {
		return MessengerSettings{}, err
	}
	cfg := MessengerSettings{
		PageID:      values[KeyMessengerPageID],
		PageToken:   values[KeyMessengerPageToken],
		VerifyToken: values[KeyMessengerVerifyToken],
	}
	if cfg.PageID == "" || cfg.PageToken == "" {
		return MessengerSettings{}, fmt.Errorf("%w: messenger", ErrNotConfigured)
	}
	return cfg, nil
}

// SetMessenger stores the company's page-messaging settings.
func (s *Service) SetMessenger(ctx context.Context, companyID int64, cfg MessengerSettings) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("messenger settings: %w", err)
	}
	pairs := map[string]string{
		KeyMessengerPageID:      strings.TrimSpace(cfg.PageID),
		KeyMessengerPageToken:   strings.TrimSpace(cfg.PageToken),
		KeyMessengerVerifyToken: strings.TrimSpace(cfg.VerifyToken),
	}
	for key, value := range pairs {
		if err := s.Set(ctx, companyID, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) byPrefix(ctx context.Context, companyID int64, prefix string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM company_settings WHERE company_id = $1 AND key LIKE $2`,
		companyID, prefix+"%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	values := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}
