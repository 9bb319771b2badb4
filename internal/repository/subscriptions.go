package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/benAliAlizadeh/mahsabot/internal/models"
)

// SubscriptionRepository persists provisioned accounts
type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepository creates a subscription repository
func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

const subColumns = `id, member_id, token, plan_id, node_id, inbound_id,
	config_name, config_uuid, protocol, expires_at, connect_link, status,
	relay_mode, created_at`

// Create inserts a subscription and fills in its id
func (r *SubscriptionRepository) Create(ctx context.Context, s *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			member_id, token, plan_id, node_id, inbound_id,
			config_name, config_uuid, protocol, expires_at, connect_link, status,
			relay_mode, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13
		) RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		s.MemberID, s.Token, s.PlanID, s.NodeID, s.InboundID,
		s.ConfigName, s.ConfigUUID, s.Protocol, s.ExpiresAt, s.ConnectLink, s.Status,
		s.RelayMode, s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetByID fetches one subscription
func (r *SubscriptionRepository) GetByID(ctx context.Context, id int64) (*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE id = $1`, subColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// GetByToken fetches a subscription by its public payload token
func (r *SubscriptionRepository) GetByToken(ctx context.Context, token string) (*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE token = $1`, subColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, token))
}

// GetByName fetches a subscription by its remote-visible config name
func (r *SubscriptionRepository) GetByName(ctx context.Context, name string) (*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE config_name = $1`, subColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, name))
}

// ListByMember returns all subscriptions owned by a member
func (r *SubscriptionRepository) ListByMember(ctx context.Context, memberID int64) ([]*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE member_id = $1 ORDER BY id DESC`, subColumns)
	rows, err := r.pool.Query(ctx, query, memberID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// Update writes back every mutable field
func (r *SubscriptionRepository) Update(ctx context.Context, s *models.Subscription) error {
	query := `
		UPDATE subscriptions SET
			plan_id = $1, node_id = $2, inbound_id = $3,
			config_name = $4, config_uuid = $5, protocol = $6,
			expires_at = $7, connect_link = $8, status = $9, relay_mode = $10
		WHERE id = $11
	`
	_, err := r.pool.Exec(ctx, query,
		s.PlanID, s.NodeID, s.InboundID,
		s.ConfigName, s.ConfigUUID, s.Protocol,
		s.ExpiresAt, s.ConnectLink, s.Status, s.RelayMode, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

// UpdateStatus flips just the local status flag
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, id int64, status int) error {
	query := `UPDATE subscriptions SET status = $1 WHERE id = $2`
	_, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	return nil
}

// Delete removes the local record
func (r *SubscriptionRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// ListExpired returns enabled subscriptions whose expiry has passed
func (r *SubscriptionRepository) ListExpired(ctx context.Context, now int64, limit int) ([]*models.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE status = $1 AND expires_at > 0 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3
	`, subColumns)
	rows, err := r.pool.Query(ctx, query, models.StatusActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired subscriptions: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// ListExpiring returns enabled subscriptions expiring inside the window
func (r *SubscriptionRepository) ListExpiring(ctx context.Context, from, to int64, limit int) ([]*models.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE status = $1 AND expires_at > $2 AND expires_at <= $3
		ORDER BY expires_at
		LIMIT $4
	`, subColumns)
	rows, err := r.pool.Query(ctx, query, models.StatusActive, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list expiring subscriptions: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// ListDisabledBefore returns disabled subscriptions that expired before the
// cutoff, the purge candidates
func (r *SubscriptionRepository) ListDisabledBefore(ctx context.Context, cutoff int64, limit int) ([]*models.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE status = $1 AND expires_at > 0 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3
	`, subColumns)
	rows, err := r.pool.Query(ctx, query, models.StatusDisabled, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list purge candidates: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *SubscriptionRepository) scanOne(row pgx.Row) (*models.Subscription, error) {
	s := &models.Subscription{}
	err := row.Scan(
		&s.ID, &s.MemberID, &s.Token, &s.PlanID, &s.NodeID, &s.InboundID,
		&s.ConfigName, &s.ConfigUUID, &s.Protocol, &s.ExpiresAt, &s.ConnectLink, &s.Status,
		&s.RelayMode, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return s, nil
}

func (r *SubscriptionRepository) scanMany(rows pgx.Rows) ([]*models.Subscription, error) {
	var results []*models.Subscription
	for rows.Next() {
		s := &models.Subscription{}
		err := rows.Scan(
			&s.ID, &s.MemberID, &s.Token, &s.PlanID, &s.NodeID, &s.InboundID,
			&s.ConfigName, &s.ConfigUUID, &s.Protocol, &s.ExpiresAt, &s.ConnectLink, &s.Status,
			&s.RelayMode, &s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan subscription row: %w", err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}
