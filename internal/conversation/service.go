package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deskbridge/deskbridge/internal/channel"
	"github.com/deskbridge/deskbridge/internal/db"
)

const conversationColumns = `id, company_id, platform, external_customer_id,
	external_customer_name, external_thread_id, inbox_label,
	assigned_agent_id, assigned_at, last_message_at, status,
	created_at, updated_at`

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
		logger: log.With(slog.String("service", "conversation")),
	}
}

// FindOrCreate resolves the conversation for an inbound event, creating it
// when the thread or customer has not been seen before. The natural-key
// unique indexes collapse concurrent creates into a single winner; the loser
// re-reads the surviving row. The returned bool reports whether this call
// created the conversation.
func (s *Service) FindOrCreate(ctx context.Context, ev channel.InboundEvent) (Conversation, bool, error) {
	if ev.CompanyID <= 0 {
		return Conversation{}, false, fmt.Errorf("company id is required")
	}
	if strings.TrimSpace(ev.ExternalCustomerID) == "" {
		return Conversation{}, false, fmt.Errorf("external customer id is required")
	}

	var (
		row pgx.Row
		err error
	)
	if strings.TrimSpace(ev.ExternalThreadID) != "" {
		row = s.pool.QueryRow(ctx,
			`INSERT INTO conversations
			   (company_id, platform, external_customer_id, external_customer_name, external_thread_id, inbox_label)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (company_id, platform, external_thread_id) WHERE external_thread_id IS NOT NULL
			 DO NOTHING
			 RETURNING `+conversationColumns,
			ev.CompanyID, ev.Platform.String(), ev.ExternalCustomerID, ev.ExternalCustomerName,
			db.ToText(ev.ExternalThreadID), ev.InboxLabel,
		)
	} else {
		row = s.pool.QueryRow(ctx,
			`INSERT INTO conversations
			   (company_id, platform, external_customer_id, external_customer_name, inbox_label)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (company_id, platform, external_customer_id) WHERE external_thread_id IS NULL
			 DO NOTHING
			 RETURNING `+conversationColumns,
			ev.CompanyID, ev.Platform.String(), ev.ExternalCustomerID, ev.ExternalCustomerName, ev.InboxLabel,
		)
	}

	conv, err := scanConversation(row)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, false, err
	}

	// Lost the create race or the conversation already existed.
	conv, err = s.findByNaturalKey(ctx, ev)
	if err != nil {
		return Conversation{}, false, err
	}
	return conv, false, nil
}

func (s *Service) findByNaturalKey(ctx context.Context, ev channel.InboundEvent) (Conversation, error) {
	var row pgx.Row
	if strings.TrimSpace(ev.ExternalThreadID) != "" {
		row = s.pool.QueryRow(ctx,
			`SELECT `+conversationColumns+` FROM conversations
			 WHERE company_id = $1 AND platform = $2 AND external_thread_id = $3`,
			ev.CompanyID, ev.Platform.String(), ev.ExternalThreadID,
		)
	} else {
		row = s.pool.QueryRow(ctx,
			`SELECT `+conversationColumns+` FROM conversations
			 WHERE company_id = $1 AND platform = $2 AND external_customer_id = $3
			   AND external_thread_id IS NULL`,
			ev.CompanyID, ev.Platform.String(), ev.ExternalCustomerID,
		)
	}
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conv, err
}

// HasExternalMessage is the deduplication guard: it reports whether a
// message with the given external id is already stored, system-wide.
func (s *Service) HasExternalMessage(ctx context.Context, externalMessageID string) (bool, error) {
	externalMessageID = strings.TrimSpace(externalMessageID)
	if externalMessageID == "" {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE external_message_id = $1)`,
		externalMessageID,
	).Scan(&exists)
	return exists, err
}

// AppendInbound inserts a customer message and bumps the conversation's
// last-message timestamp, reopening it if it was closed. The unique index on
// external_message_id is the serialization point for concurrent duplicate
// deliveries; a lost insert comes back as ErrDuplicateMessage.
func (s *Service) AppendInbound(ctx context.Context, conversationID string, ev channel.InboundEvent) (Message, error) {
	return s.append(ctx, conversationID, SenderCustomer, ev.Content, ev.ExternalMessageID, ev.ExternalCustomerName)
}

// AppendAgentReply inserts an agent message after a successful provider
// send, recording the provider's message id for future dedup.
func (s *Service) AppendAgentReply(ctx context.Context, conversationID, content, externalMessageID string) (Message, error) {
	return s.append(ctx, conversationID, SenderAgent, content, externalMessageID, "")
}

func (s *Service) append(ctx context.Context, conversationID string, sender SenderType, content, externalMessageID, customerName string) (Message, error) {
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid conversation id: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, sender_type, content, external_message_id, read)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (external_message_id) WHERE external_message_id IS NOT NULL
		 DO NOTHING
		 RETURNING id, conversation_id, sender_type, content, external_message_id, read, created_at`,
		pgConvID, string(sender), db.ToText(content), db.ToText(externalMessageID), sender == SenderAgent,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrDuplicateMessage
	}
	if err != nil {
		return Message{}, err
	}

	// Only a customer message reopens a closed conversation; an agent
	// reply lands without touching the status.
	_, err = tx.Exec(ctx,
		`UPDATE conversations
		 SET last_message_at = $2,
		     status = CASE WHEN $3 THEN $4 ELSE status END,
		     external_customer_name = COALESCE(NULLIF($5, ''), external_customer_name),
		     updated_at = now()
		 WHERE id = $1`,
		pgConvID, msg.CreatedAt, sender == SenderCustomer, string(StatusOpen), strings.TrimSpace(customerName),
	)
	if err != nil {
		return Message{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Get returns one conversation scoped to the company.
func (s *Service) Get(ctx context.Context, companyID int64, conversationID string) (Conversation, error) {
	pgID, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE company_id = $1 AND id = $2`,
		companyID, pgID,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conv, err
}

// List returns the company's conversations with the given status, newest
// activity first. An empty status lists open conversations.
func (s *Service) List(ctx context.Context, companyID int64, status Status) ([]Conversation, error) {
	if status == "" {
		status = StatusOpen
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE company_id = $1 AND status = $2
		 ORDER BY last_message_at DESC`,
		companyID, string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, conv)
	}
	return items, rows.Err()
}

// History returns the full message history of a conversation and marks the
// customer messages as read.
func (s *Service) History(ctx context.Context, companyID int64, conversationID string) ([]Message, error) {
	if _, err := s.Get(ctx, companyID, conversationID); err != nil {
		return nil, err
	}
	pgID, _ := db.ParseUUID(conversationID)
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender_type, content, external_message_id, read, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at ASC`,
		pgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE messages SET read = true
		 WHERE conversation_id = $1 AND sender_type = $2 AND NOT read`,
		pgID, string(SenderCustomer),
	); err != nil {
		s.logger.Warn("mark messages read failed",
			slog.String("conversation_id", conversationID), slog.Any("error", err))
	}
	return items, nil
}

// ListUnassignedOpen returns up to limit unassigned open conversations,
// oldest activity first. Feeds the redistribution sweep.
func (s *Service) ListUnassignedOpen(ctx context.Context, companyID int64, limit int) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE company_id = $1 AND status = $2 AND assigned_agent_id IS NULL
		 ORDER BY last_message_at ASC, created_at ASC
		 LIMIT $3`,
		companyID, string(StatusOpen), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, conv)
	}
	return items, rows.Err()
}

// Assign sets the assignee only if the conversation is still unassigned.
// First assignment wins; the automatic path never overwrites. Returns false
// when another writer got there first.
func (s *Service) Assign(ctx context.Context, conversationID, agentID string) (bool, error) {
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return false, fmt.Errorf("invalid conversation id: %w", err)
	}
	pgAgentID, err := db.ParseUUID(agentID)
	if err != nil {
		return false, fmt.Errorf("invalid agent id: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations
		 SET assigned_agent_id = $2, assigned_at = now(), updated_at = now()
		 WHERE id = $1 AND assigned_agent_id IS NULL`,
		pgConvID, pgAgentID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Reassign overwrites the assignee. This is the manual, operator-driven
// path; unlike Assign it does not defer to an existing assignment.
func (s *Service) Reassign(ctx context.Context, companyID int64, conversationID, agentID string) error {
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return ErrNotFound
	}
	pgAgentID, err := db.ParseUUID(agentID)
	if err != nil {
		return fmt.Errorf("invalid agent id: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations
		 SET assigned_agent_id = $3, assigned_at = now(), updated_at = now()
		 WHERE company_id = $1 AND id = $2`,
		companyID, pgConvID, pgAgentID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close marks a conversation closed. Explicit operator action is the only
// path here; inbound messages reopen via AppendInbound.
func (s *Service) Close(ctx context.Context, companyID int64, conversationID string) error {
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET status = $3, updated_at = now()
		 WHERE company_id = $1 AND id = $2`,
		companyID, pgConvID, string(StatusClosed),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompaniesWithUnassigned lists the companies that currently have
// unassigned open conversations. The scheduled sweep iterates this set.
func (s *Service) CompaniesWithUnassigned(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT company_id FROM conversations
		 WHERE status = $1 AND assigned_agent_id IS NULL`,
		string(StatusOpen),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountOpenByAgent counts the open conversations currently assigned to an
// agent. The assignment engine queries this fresh at decision time.
func (s *Service) CountOpenByAgent(ctx context.Context, companyID int64, agentID string) (int, error) {
	pgAgentID, err := db.ParseUUID(agentID)
	if err != nil {
		return 0, fmt.Errorf("invalid agent id: %w", err)
	}
	var count int
	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM conversations
		 WHERE company_id = $1 AND status = $2 AND assigned_agent_id = $3`,
		companyID, string(StatusOpen), pgAgentID,
	).Scan(&count)
	return count, err
}

// CountOpen counts all open conversations for a company.
func (s *Service) CountOpen(ctx context.Context, companyID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM conversations WHERE company_id = $1 AND status = $2`,
		companyID, string(StatusOpen),
	).Scan(&count)
	return count, err
}

// CountUnassignedOpen counts open conversations without an assignee.
func (s *Service) CountUnassignedOpen(ctx context.Context, companyID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM conversations
		 WHERE company_id = $1 AND status = $2 AND assigned_agent_id IS NULL`,
		companyID, string(StatusOpen),
	).Scan(&count)
	return count, err
}

// CountOpenByPlatform breaks the open count down per platform.
func (s *Service) CountOpenByPlatform(ctx context.Context, companyID int64) (map[channel.Platform]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT platform, count(*) FROM conversations
		 WHERE company_id = $1 AND status = $2
		 GROUP BY platform`,
		companyID, string(StatusOpen),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[channel.Platform]int{}
	for rows.Next() {
		var (
			platform string
			count    int
		)
		if err := rows.Scan(&platform, &count); err != nil {
			return nil, err
		}
		counts[channel.Platform(platform)] = count
	}
	return counts, rows.Err()
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		conv          Conversation
		platform      string
		status        string
		threadID      pgtype.Text
		agentID       pgtype.UUID
		assignedAt    pgtype.Timestamptz
		lastMessageAt time.Time
	)
	err := row.Scan(
		&conv.ID, &conv.CompanyID, &platform, &conv.ExternalCustomerID,
		&conv.ExternalCustomerName, &threadID, &conv.InboxLabel,
		&agentID, &assignedAt, &lastMessageAt, &status,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, err
	}
	conv.Platform = channel.Platform(platform)
	conv.Status = Status(status)
	conv.ExternalThreadID = db.TextToString(threadID)
	conv.AssignedAgentID = db.UUIDToString(agentID)
	if assignedAt.Valid {
		at := assignedAt.Time
		conv.AssignedAt = &at
	}
	conv.LastMessageAt = lastMessageAt
	return conv, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		msg        Message
		sender     string
		content    pgtype.Text
		externalID pgtype.Text
	)
	err := row.Scan(&msg.ID, &msg.ConversationID, &sender, &content, &externalID, &msg.Read, &msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	msg.SenderType = SenderType(sender)
	msg.Content = db.TextToString(content)
	msg.ExternalMessageID = db.TextToString(externalID)
	return msg, nil
}
