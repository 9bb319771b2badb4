package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/benAliAlizadeh/mahsabot/internal/models"
)

// PlanRepository persists sales plans
type PlanRepository struct {
	pool *pgxpool.Pool
}

// NewPlanRepository creates a plan repository
func NewPlanRepository(pool *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{pool: pool}
}

const planColumns = `id, group_id, node_id, inbound_id, title, protocol, transport,
	security, volume_gb, days, flow, relay_mode,
	custom_sni, custom_port, custom_path,
	reality_dest, reality_sni, reality_fingerprint, reality_spider, limit_ip`

// GetByID fetches one plan
func (r *PlanRepository) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	query := fmt.Sprintf(`SELECT %s FROM plans WHERE id = $1`, planColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// ListByNode returns all plans sold on a node
func (r *PlanRepository) ListByNode(ctx context.Context, nodeID int64) ([]*models.Plan, error) {
	query := fmt.Sprintf(`SELECT %s FROM plans WHERE node_id = $1 ORDER BY id`, planColumns)
	rows, err := r.pool.Query(ctx, query, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// ListByGroup returns the plans in a sales group
func (r *PlanRepository) ListByGroup(ctx context.Context, groupID int64) ([]*models.Plan, error) {
	query := fmt.Sprintf(`SELECT %s FROM plans WHERE group_id = $1 ORDER BY id`, planColumns)
	rows, err := r.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list plans by group: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *PlanRepository) scanOne(row pgx.Row) (*models.Plan, error) {
	p := &models.Plan{}
	err := row.Scan(
		&p.ID, &p.GroupID, &p.NodeID, &p.InboundID, &p.Title, &p.Protocol, &p.Transport,
		&p.Security, &p.VolumeGB, &p.Days, &p.Flow, &p.RelayMode,
		&p.CustomSNI, &p.CustomPort, &p.CustomPath,
		&p.RealityDest, &p.RealitySNI, &p.RealityFingerprint, &p.RealitySpider, &p.LimitIP,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	return p, nil
}

func (r *PlanRepository) scanMany(rows pgx.Rows) ([]*models.Plan, error) {
	var results []*models.Plan
	for rows.Next() {
		p := &models.Plan{}
		err := rows.Scan(
			&p.ID, &p.GroupID, &p.NodeID, &p.InboundID, &p.Title, &p.Protocol, &p.Transport,
			&p.Security, &p.VolumeGB, &p.Days, &p.Flow, &p.RelayMode,
			&p.CustomSNI, &p.CustomPort, &p.CustomPath,
			&p.RealityDest, &p.RealitySNI, &p.RealityFingerprint, &p.RealitySpider, &p.LimitIP,
		)
		if err != nil {
			return nil, fmt.Errorf("scan plan row: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}
