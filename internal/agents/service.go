// Package agents reads the operator roster. Agent records are owned by the
// employee subsystem; this core only reads eligibility and flips the
// presence flag.
package agents

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deskbridge/deskbridge/internal/db"
)

// RoleAgent marks an employee as eligible for conversation assignment.
const RoleAgent = "agent"

// ErrNotFound is returned when no agent matches within the caller's company.
var ErrNotFound = errors.New("agent not found")

// Agent is one operator on the roster.
type Agent struct {
	ID          string    `json:"id"`
	CompanyID   int64     `json:"company_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	Online      bool      `json:"online"`
	CreatedAt   time.Time `json:"created_at"`
}

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
		logger: log.With(slog.String("service", "agents")),
	}
}

// ListEligible returns the company's assignment-eligible agents, ordered by
// id ascending. The ordering is the deterministic tie-break for the
// assignment engine.
func (s *Service) ListEligible(ctx context.Context, companyID int64) ([]Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, display_name, role, online, created_at
		 FROM agents
		 WHERE company_id = $1 AND role = $2 AND online
		 ORDER BY id ASC`,
		companyID, RoleAgent,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAgents(rows)
}

// List returns the company's full roster, online or not.
func (s *Service) List(ctx context.Context, companyID int64) ([]Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, display_name, role, online, created_at
		 FROM agents
		 WHERE company_id = $1
		 ORDER BY display_name ASC, id ASC`,
		companyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAgents(rows)
}

// Get returns one agent scoped to the company.
func (s *Service) Get(ctx context.Context, companyID int64, agentID string) (Agent, error) {
	pgID, err := db.ParseUUID(agentID)
	if err != nil {
		return Agent{}, ErrNotFound
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, display_name, role, online, created_at
		 FROM agents
		 WHERE company_id = $1 AND id = $2`,
		companyID, pgID,
	)
	if err != nil {
		return Agent{}, err
	}
	defer rows.Close()
	items, err := scanAgents(rows)
	if err != nil {
		return Agent{}, err
	}
	if len(items) == 0 {
		return Agent{}, ErrNotFound
	}
	return items[0], nil
}

// SetPresence flips an agent's online flag within the caller's company.
func (s *Service) SetPresence(ctx context.Context, companyID int64, agentID string, online bool) error {
	pgID, err := db.ParseUUID(agentID)
	if err != nil {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET online = $3 WHERE company_id = $1 AND id = $2`,
		companyID, pgID, online,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Info("agent presence updated",
		slog.String("agent_id", agentID),
		slog.Int64("company_id", companyID),
		slog.Bool("online", online))
	return nil
}

type pgRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAgents(rows pgRows) ([]Agent, error) {
	items := make([]Agent, 0)
	for rows.Next() {
		var agent Agent
		if err := rows.Scan(&agent.ID, &agent.CompanyID, &agent.DisplayName, &agent.Role, &agent.Online, &agent.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, agent)
	}
	return items, rows.Err()
}
