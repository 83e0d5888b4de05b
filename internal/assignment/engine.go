// Package assignment implements least-loaded conversation routing: new
// conversations go to the eligible agent carrying the fewest open
// conversations, and a periodic sweep re-offers whatever was left
// unassigned while no agent was available.
package assignment

import (
	"context"
	"log/slog"
	"math"

	"github.com/deskbridge/deskbridge/internal/agents"
	"github.com/deskbridge/deskbridge/internal/channel"
	"github.com/deskbridge/deskbridge/internal/conversation"
)

// sweepLimit caps how many unassigned conversations a single
// redistribution pass will touch.
const sweepLimit = 100

type agentLister interface {
	ListEligible(ctx context.Context, companyID int64) ([]agents.Agent, error)
}

type conversationStore interface {
	CountOpenByAgent(ctx context.Context, companyID int64, agentID string) (int, error)
	ListUnassignedOpen(ctx context.Context, companyID int64, limit int) ([]conversation.Conversation, error)
	Assign(ctx context.Context, conversationID, agentID string) (bool, error)
	CountOpen(ctx context.Context, companyID int64) (int, error)
	CountUnassignedOpen(ctx context.Context, companyID int64) (int, error)
	CountOpenByPlatform(ctx context.Context, companyID int64) (map[channel.Platform]int, error)
}

// Report summarizes one redistribution pass.
type Report struct {
	Examined int `json:"examined"`
	Assigned int `json:"assigned"`
	Skipped  int `json:"skipped"`
}

// AgentLoad pairs an agent with their current open-conversation count.
type AgentLoad struct {
	Agent agents.Agent `json:"agent"`
	Open  int          `json:"open"`
}

// Stats is the workload snapshot served to operators.
type Stats struct {
	TotalOpen      int                      `json:"total_open"`
	Unassigned     int                      `json:"unassigned"`
	ByPlatform     map[channel.Platform]int `json:"by_platform"`
	Agents         []AgentLoad              `json:"agents"`
	EligibleAgents int                      `json:"eligible_agents"`
	FairShare      int                      `json:"fair_share"`
}

type Engine struct {
	agents        agentLister
	conversations conversationStore
	logger        *slog.Logger
}

func NewEngine(log *slog.Logger, agents agentLister, conversations conversationStore) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		agents:        agents,
		conversations: conversations,
		logger:        log.With(slog.String("service", "assignment")),
	}
}

// pickAgent selects the eligible agent with the fewest open conversations.
// Loads are counted fresh at decision time, never cached. Ties break toward
// the lowest agent id; ListEligible returns agents in id order, so keeping
// the first minimum is enough. The second return is false when no agent is
// eligible.
func (e *Engine) pickAgent(ctx context.Context, companyID int64) (agents.Agent, bool, error) {
	eligible, err := e.agents.ListEligible(ctx, companyID)
	if err != nil {
		return agents.Agent{}, false, err
	}
	if len(eligible) == 0 {
		return agents.Agent{}, false, nil
	}

	var (
		best     agents.Agent
		bestLoad = -1
	)
	for _, agent := range eligible {
		load, err := e.conversations.CountOpenByAgent(ctx, companyID, agent.ID)
		if err != nil {
			return agents.Agent{}, false, err
		}
		if bestLoad < 0 || load < bestLoad {
			best = agent
			bestLoad = load
		}
	}
	return best, true, nil
}

// AssignNew routes a freshly created conversation and returns the id of the
// agent it landed on. When no agent is eligible the conversation simply
// stays unassigned for a later sweep; that is not an error and the returned
// id is empty. An assignment that was beaten by a concurrent writer is left
// alone and also reported as empty.
func (e *Engine) AssignNew(ctx context.Context, conv conversation.Conversation) (string, error) {
	agent, ok, err := e.pickAgent(ctx, conv.CompanyID)
	if err != nil {
		return "", err
	}
	if !ok {
		e.logger.Info("no eligible agent, conversation left unassigned",
			slog.String("conversation_id", conv.ID),
			slog.Int64("company_id", conv.CompanyID))
		return "", nil
	}
	won, err := e.conversations.Assign(ctx, conv.ID, agent.ID)
	if err != nil {
		return "", err
	}
	if !won {
		return "", nil
	}
	e.logger.Info("conversation assigned",
		slog.String("conversation_id", conv.ID),
		slog.String("agent_id", agent.ID))
	return agent.ID, nil
}

// Redistribute sweeps unassigned open conversations, oldest first, and
// offers each to the currently least-loaded agent. The requested count is
// clamped to sweepLimit; zero or negative means "up to the cap".
func (e *Engine) Redistribute(ctx context.Context, companyID int64, requested int) (Report, error) {
	if requested <= 0 || requested > sweepLimit {
		requested = sweepLimit
	}
	var report Report
	pending, err := e.conversations.ListUnassignedOpen(ctx, companyID, requested)
	if err != nil {
		return report, err
	}
	report.Examined = len(pending)
	for _, conv := range pending {
		agent, ok, err := e.pickAgent(ctx, companyID)
		if err != nil {
			return report, err
		}
		if !ok {
			report.Skipped = report.Examined - report.Assigned
			break
		}
		won, err := e.conversations.Assign(ctx, conv.ID, agent.ID)
		if err != nil {
			return report, err
		}
		if won {
			report.Assigned++
		} else {
			report.Skipped++
		}
	}
	if report.Assigned > 0 || report.Examined > 0 {
		e.logger.Info("redistribution pass finished",
			slog.Int64("company_id", companyID),
			slog.Int("examined", report.Examined),
			slog.Int("assigned", report.Assigned),
			slog.Int("skipped", report.Skipped))
	}
	return report, nil
}

// Stats builds the workload snapshot: open totals, per-platform breakdown,
// per-agent loads and the fair share each eligible agent would carry under
// an even split.
func (e *Engine) Stats(ctx context.Context, companyID int64) (Stats, error) {
	stats := Stats{ByPlatform: map[channel.Platform]int{}}

	total, err := e.conversations.CountOpen(ctx, companyID)
	if err != nil {
		return stats, err
	}
	stats.TotalOpen = total

	unassigned, err := e.conversations.CountUnassignedOpen(ctx, companyID)
	if err != nil {
		return stats, err
	}
	stats.Unassigned = unassigned

	byPlatform, err := e.conversations.CountOpenByPlatform(ctx, companyID)
	if err != nil {
		return stats, err
	}
	stats.ByPlatform = byPlatform

	eligible, err := e.agents.ListEligible(ctx, companyID)
	if err != nil {
		return stats, err
	}
	stats.EligibleAgents = len(eligible)
	stats.Agents = make([]AgentLoad, 0, len(eligible))
	for _, agent := range eligible {
		load, err := e.conversations.CountOpenByAgent(ctx, companyID, agent.ID)
		if err != nil {
			return stats, err
		}
		stats.Agents = append(stats.Agents, AgentLoad{Agent: agent, Open: load})
	}
	if stats.EligibleAgents > 0 {
		stats.FairShare = int(math.Round(float64(total) / float64(stats.EligibleAgents)))
	}
	return stats, nil
}
