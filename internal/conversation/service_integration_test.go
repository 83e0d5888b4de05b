package conversation_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deskbridge/deskbridge/internal/channel"
	"github.com/deskbridge/deskbridge/internal/conversation"
	"github.com/deskbridge/deskbridge/internal/db"
)

func setupIntegrationTest(t *testing.T) (*conversation.Service, *pgxpool.Pool, int64, func()) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}

	ctx := context.Background()
	if err := db.MigrateDSN(dsn); err != nil {
		t.Skipf("skip integration test: migrations failed: %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: database ping failed: %v", err)
	}

	// A fresh company id per run keeps parallel test databases clean.
	companyID := time.Now().UnixNano()
	svc := conversation.NewService(nil, pool)

	cleanup := func() {
		_, _ = pool.Exec(ctx,
			`DELETE FROM messages WHERE conversation_id IN
			   (SELECT id FROM conversations WHERE company_id = $1)`, companyID)
		_, _ = pool.Exec(ctx, `DELETE FROM conversations WHERE company_id = $1`, companyID)
		_, _ = pool.Exec(ctx, `DELETE FROM agents WHERE company_id = $1`, companyID)
		pool.Close()
	}
	return svc, pool, companyID, cleanup
}

func createAgent(ctx context.Context, t *testing.T, pool *pgxpool.Pool, companyID int64, name string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx,
		`INSERT INTO agents (company_id, display_name, role, online)
		 VALUES ($1, $2, 'agent', true)
		 RETURNING id`,
		companyID, name,
	).Scan(&id)
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return id
}

func inboundEvent(companyID int64, threadID, messageID string) channel.InboundEvent {
	return channel.InboundEvent{
		CompanyID:            companyID,
		Platform:             channel.PlatformChatwoot,
		ExternalCustomerID:   "cust-1",
		ExternalCustomerName: "Jane",
		ExternalThreadID:     threadID,
		InboxLabel:           "Support",
		Content:              "Hi",
		ExternalMessageID:    messageID,
	}
}

func TestFindOrCreateIsIdempotentPerThread(t *testing.T) {
	svc, _, companyID, cleanup := setupIntegrationTest(t)
	defer cleanup()
	ctx := context.Background()

	first, created, err := svc.FindOrCreate(ctx, inboundEvent(companyID, "901", "ext-1"))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !created {
		t.Fatal("first call must create")
	}

	second, created, err := svc.FindOrCreate(ctx, inboundEvent(companyID, "901", "ext-2"))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatal("second call must not create")
	}
	if first.ID != second.ID {
		t.Fatalf("same thread resolved to two conversations: %s vs %s", first.ID, second.ID)
	}
}

func TestAppendInboundDeduplicates(t *testing.T) {
	svc, _, companyID, cleanup := setupIntegrationTest(t)
	defer cleanup()
	ctx := context.Background()

	conv, _, err := svc.FindOrCreate(ctx, inboundEvent(companyID, "902", "ext-55"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AppendInbound(ctx, conv.ID, inboundEvent(companyID, "902", "ext-55")); err != nil {
		t.Fatalf("first append: %v", err)
	}
	_, err = svc.AppendInbound(ctx, conv.ID, inboundEvent(companyID, "902", "ext-55"))
	if !errors.Is(err, conversation.ErrDuplicateMessage) {
		t.Fatalf("want ErrDuplicateMessage, got %v", err)
	}

	history, err := svc.History(ctx, companyID, conv.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("want exactly one message, got %d", len(history))
	}
}

func TestAssignFirstWins(t *testing.T) {
	svc, pool, companyID, cleanup := setupIntegrationTest(t)
	defer cleanup()
	ctx := context.Background()

	agentA := createAgent(ctx, t, pool, companyID, "Agent A")
	agentB := createAgent(ctx, t, pool, companyID, "Agent B")

	conv, _, err := svc.FindOrCreate(ctx, inboundEvent(companyID, "903", "ext-60"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	won, err := svc.Assign(ctx, conv.ID, agentA)
	if err != nil || !won {
		t.Fatalf("first assign: won=%v err=%v", won, err)
	}
	won, err = svc.Assign(ctx, conv.ID, agentB)
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if won {
		t.Fatal("second assign must lose")
	}

	got, err := svc.Get(ctx, companyID, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AssignedAgentID != agentA {
		t.Fatalf("assignment overwritten: want %s got %s", agentA, got.AssignedAgentID)
	}
}

func TestCrossTenantIsolation(t *testing.T) {
	svc, _, companyID, cleanup := setupIntegrationTest(t)
	defer cleanup()
	ctx := context.Background()

	conv, _, err := svc.FindOrCreate(ctx, inboundEvent(companyID, "904", "ext-70"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	otherCompany := companyID + 1
	if _, err := svc.Get(ctx, otherCompany, conv.ID); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("guessed id served across tenants: %v", err)
	}
	items, err := svc.List(ctx, otherCompany, conversation.StatusOpen)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("conversation leaked into another company's listing")
	}
}

func TestAgentReplyDoesNotReopenClosedConversation(t *testing.T) {
	svc, _, companyID, cleanup := setupIntegrationTest(t)
	defer cleanup()
	ctx := context.Background()

	conv, _, err := svc.FindOrCreate(ctx, inboundEvent(companyID, "906", "ext-90"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Close(ctx, companyID, conv.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := svc.AppendAgentReply(ctx, conv.ID, "Thanks, closing this out", "ext-91"); err != nil {
		t.Fatalf("append reply: %v", err)
	}

	got, err := svc.Get(ctx, companyID, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != conversation.StatusClosed {
		t.Fatalf("agent reply reopened the conversation: status %s", got.Status)
	}
}

func TestInboundReopensClosedConversation(t *testing.T) {
	svc, _, companyID, cleanup := setupIntegrationTest(t)
	defer cleanup()
	ctx := context.Background()

	conv, _, err := svc.FindOrCreate(ctx, inboundEvent(companyID, "905", "ext-80"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Close(ctx, companyID, conv.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := svc.AppendInbound(ctx, conv.ID, inboundEvent(companyID, "905", "ext-81")); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := svc.Get(ctx, companyID, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != conversation.StatusOpen {
		t.Fatalf("want reopened conversation, got status %s", got.Status)
	}
}
