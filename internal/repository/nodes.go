package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/benAliAlizadeh/mahsabot/internal/models"
)

// NodeRepository persists nodes and their panel backend configurations
type NodeRepository struct {
	pool *pgxpool.Pool
}

// NewNodeRepository creates a node repository
func NewNodeRepository(pool *pgxpool.Pool) *NodeRepository {
	return &NodeRepository{pool: pool}
}

const nodeColumns = `id, title, flag, capacity, active, state, description`

// GetByID fetches one node
func (r *NodeRepository) GetByID(ctx context.Context, id int64) (*models.Node, error) {
	query := fmt.Sprintf(`SELECT %s FROM nodes WHERE id = $1`, nodeColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// ListActive returns nodes available for new sales
func (r *NodeRepository) ListActive(ctx context.Context) ([]*models.Node, error) {
	query := fmt.Sprintf(`SELECT %s FROM nodes WHERE active = TRUE ORDER BY id`, nodeColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// GetBackend fetches the panel backend configuration for a node
func (r *NodeRepository) GetBackend(ctx context.Context, nodeID int64) (*models.NodeBackendConfig, error) {
	query := `
		SELECT id, node_id, kind, panel_url, username, password, endpoints, sni, header_type
		FROM node_backends WHERE node_id = $1
	`
	cfg := &models.NodeBackendConfig{}
	err := r.pool.QueryRow(ctx, query, nodeID).Scan(
		&cfg.ID, &cfg.NodeID, &cfg.Kind, &cfg.PanelURL,
		&cfg.Username, &cfg.Password, &cfg.Endpoints, &cfg.SNI, &cfg.HeaderType,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get node backend: %w", err)
	}
	return cfg, nil
}

// DecrementCapacity consumes one slot. Capacity 0 means unlimited and is
// left untouched; the floor clamp keeps concurrent decrements from driving
// the counter negative. One statement, so no read-modify-write race.
func (r *NodeRepository) DecrementCapacity(ctx context.Context, nodeID int64) error {
	query := `UPDATE nodes SET capacity = GREATEST(0, capacity - 1) WHERE id = $1 AND capacity > 0`
	_, err := r.pool.Exec(ctx, query, nodeID)
	if err != nil {
		return fmt.Errorf("decrement capacity: %w", err)
	}
	return nil
}

// IncrementCapacity returns one slot after a delete or node switch. Only
// finite-capacity nodes are touched so an unlimited node never gains a
// spurious finite counter.
func (r *NodeRepository) IncrementCapacity(ctx context.Context, nodeID int64) error {
	query := `UPDATE nodes SET capacity = capacity + 1 WHERE id = $1 AND capacity > 0`
	_, err := r.pool.Exec(ctx, query, nodeID)
	if err != nil {
		return fmt.Errorf("increment capacity: %w", err)
	}
	return nil
}

func (r *NodeRepository) scanOne(row pgx.Row) (*models.Node, error) {
	n := &models.Node{}
	err := row.Scan(&n.ID, &n.Title, &n.Flag, &n.Capacity, &n.Active, &n.State, &n.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan node: %w", err)
	}
	return n, nil
}

func (r *NodeRepository) scanMany(rows pgx.Rows) ([]*models.Node, error) {
	var results []*models.Node
	for rows.Next() {
		n := &models.Node{}
		if err := rows.Scan(&n.ID, &n.Title, &n.Flag, &n.Capacity, &n.Active, &n.State, &n.Description); err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		results = append(results, n)
	}
	return results, rows.Err()
}
