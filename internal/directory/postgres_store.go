package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const agentColumns = `id, owner, name, category, price_per_call, description, endpoint_url,
	active, rating, total_calls, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var id int64
	err := row.Scan(&id, &a.Owner, &a.Name, &a.Category, &a.PricePerCall, &a.Description,
		&a.EndpointURL, &a.Active, &a.Rating, &a.TotalCalls, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.ID = uint64(id)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (p *PostgresStore) List(ctx context.Context, f Filter) ([]*Agent, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if c := f.category(); c != "" {
		where = append(where, "category = "+arg(c))
	}
	if f.Search != "" {
		pattern := arg("%" + escapeLike(f.Search) + "%")
		where = append(where, "(name ILIKE "+pattern+" OR description ILIKE "+pattern+")")
	}
	if f.After != 0 {
		where = append(where, "seq > COALESCE((SELECT seq FROM agents WHERE id = "+arg(int64(f.After))+"), 0)")
	}

	query := "SELECT " + agentColumns + " FROM agents"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	agents := []*Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (p *PostgresStore) Get(ctx context.Context, id uint64) (*Agent, error) {
	a, err := scanAgent(p.db.QueryRowContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE id = $1", int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return a, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertAgent(ctx context.Context, q rowQuerier, agent *Agent) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO agents (id, owner, name, category, price_per_call, description, endpoint_url, active, rating, total_calls, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()))
		RETURNING created_at
	`, int64(agent.ID), agent.Owner, agent.Name, agent.Category, agent.PricePerCall, agent.Description,
		agent.EndpointURL, agent.Active, agent.Rating, agent.TotalCalls, nullTime(agent)).Scan(&agent.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAgentExists
		}
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	agent.CreatedAt = agent.CreatedAt.UTC()
	return nil
}

func nullTime(a *Agent) sql.NullTime {
	return sql.NullTime{Time: a.CreatedAt, Valid: !a.CreatedAt.IsZero()}
}

func (p *PostgresStore) Add(ctx context.Context, agent *Agent) error {
	if err := validate(agent); err != nil {
		return err
	}
	return insertAgent(ctx, p.db, agent)
}

// Create allocates max(id)+1 under a table lock so concurrent creators
// never compute the same id.
func (p *PostgresStore) Create(ctx context.Context, agent *Agent) error {
	if agent == nil {
		return ErrInvalidAgent
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "LOCK TABLE agents IN SHARE ROW EXCLUSIVE MODE"); err != nil {
		return fmt.Errorf("failed to lock agents: %w", err)
	}
	next, err := nextID(ctx, tx)
	if err != nil {
		return err
	}
	agent.ID = next
	if err := validate(agent); err != nil {
		return err
	}
	if err := insertAgent(ctx, tx, agent); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Update(ctx context.Context, id uint64, patch Patch) (*Agent, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Category != nil {
		set("category", *patch.Category)
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.EndpointURL != nil {
		set("endpoint_url", *patch.EndpointURL)
	}
	if patch.PricePerCall != nil {
		if *patch.PricePerCall < 0 {
			return nil, ErrInvalidAgent
		}
		set("price_per_call", *patch.PricePerCall)
	}
	if patch.Active != nil {
		set("active", *patch.Active)
	}
	if patch.Rating != nil {
		set("rating", *patch.Rating)
	}
	if len(sets) == 0 {
		return p.Get(ctx, id)
	}

	args = append(args, int64(id))
	query := "UPDATE agents SET " + strings.Join(sets, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args)) + " RETURNING " + agentColumns
	a, err := scanAgent(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	return a, nil
}

func (p *PostgresStore) NextID(ctx context.Context) (uint64, error) {
	return nextID(ctx, p.db)
}

func nextID(ctx context.Context, q rowQuerier) (uint64, error) {
	var next int64
	if err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM agents").Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to compute next id: %w", err)
	}
	return uint64(next), nil
}

func (p *PostgresStore) RecordCall(ctx context.Context, id uint64) (*Agent, error) {
	a, err := scanAgent(p.db.QueryRowContext(ctx,
		"UPDATE agents SET total_calls = total_calls + 1 WHERE id = $1 RETURNING "+agentColumns, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record call: %w", err)
	}
	return a, nil
}
