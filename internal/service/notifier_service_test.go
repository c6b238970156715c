package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/orkdesk/ticket-resolver/internal/domain"
)

type chatAPI struct {
	requests  []postMessageRequest
	tokens    []string
	responses []postMessageResponse
	server    *httptest.Server
}

func newChatAPI(t *testing.T, responses ...postMessageResponse) *chatAPI {
	t.Helper()
	api := &chatAPI{responses: responses}
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req postMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		api.requests = append(api.requests, req)
		api.tokens = append(api.tokens, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))

		resp := postMessageResponse{OK: true}
		if len(api.responses) > 0 {
			resp = api.responses[0]
			if len(api.responses) > 1 {
				api.responses = api.responses[1:]
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(api.server.Close)
	return api
}

func notifyTicket(id string, status domain.AIStatus, mode domain.TicketMode) *domain.Ticket {
	return &domain.Ticket{
		ID:            id,
		Status:        domain.TicketStatusOpen,
		AIStatus:      status,
		Mode:          mode,
		TenantID:      "tenant-1",
		AccountID:     "acct-1",
		NotifyPending: true,
		ChannelID:     strptr("C1"),
		ThreadTS:      strptr("100.200"),
	}
}

func newNotifierFixture(t *testing.T, api *chatAPI, tools []domain.KnowledgeTool, tickets ...*domain.Ticket) (*NotifierService, *memTicketRepo, *memConversationRepo, *memAccountRepo) {
	t.Helper()
	ticketRepo := newMemTicketRepo(tickets...)
	convRepo := &memConversationRepo{}
	accountRepo := newMemAccountRepo()
	accountRepo.add(domain.Account{ID: "acct-1", Name: "Tanaka", Email: "tanaka@example.com", TenantID: "tenant-1"})

	for _, ticket := range tickets {
		_ = convRepo.Create(context.Background(), &domain.Conversation{
			TicketID:     ticket.ID,
			Text:         "answer for " + ticket.ID,
			QuestionType: domain.QuestionTypeAnswer,
			Role:         domain.RoleAssistant,
			Creator:      domain.CreatorAI,
			TenantID:     ticket.TenantID,
			AccountID:    ticket.AccountID,
		})
	}

	service := NewNotifierService(NotifierDependencies{
		TicketRepo:       ticketRepo,
		ConversationRepo: convRepo,
		AccountRepo:      accountRepo,
		ToolRepo:         &memToolRepo{tools: tools},
		PostMessageURL:   api.server.URL,
		AppBaseURL:       "https://desk.example.com",
	})
	return service, ticketRepo, convRepo, accountRepo
}

func chatTool(id, token string) domain.KnowledgeTool {
	return domain.KnowledgeTool{
		ID:       id,
		Type:     domain.ToolTypeChat,
		Name:     id,
		AuthInfo: `{"CHAT_API_TOKEN":"` + token + `"}`,
		TenantID: "tenant-1",
	}
}

func TestNotifier_DeduplicatesSharedDestination(t *testing.T) {
	api := newChatAPI(t)
	t1 := notifyTicket("n1", domain.AIStatusAnswered, domain.TicketModeFAQ)
	t2 := notifyTicket("n2", domain.AIStatusAnswered, domain.TicketModeFAQ)

	service, tickets, _, _ := newNotifierFixture(t, api, []domain.KnowledgeTool{chatTool("tool-1", "xoxb-1")}, t1, t2)

	sent, err := service.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected exactly one delivery, got %d", sent)
	}
	if len(api.requests) != 1 {
		t.Fatalf("expected one POST, got %d", len(api.requests))
	}
	for _, id := range []string{"n1", "n2"} {
		stored, _ := tickets.GetByID(context.Background(), id)
		if stored.NotifyPending {
			t.Fatalf("ticket %s should have its notify flag cleared", id)
		}
	}
}

func TestNotifier_MessageCarriesPrefixAndFooter(t *testing.T) {
	api := newChatAPI(t)
	ticket := notifyTicket("n1", domain.AIStatusHumanWaiting, domain.TicketModeFAQ)
	service, _, _, _ := newNotifierFixture(t, api, []domain.KnowledgeTool{chatTool("tool-1", "xoxb-1")}, ticket)

	if _, err := service.Dispatch(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := api.requests[0]
	if msg.Channel != "C1" || msg.ThreadTS != "100.200" {
		t.Fatalf("wrong destination: %+v", msg)
	}
	if !strings.HasPrefix(msg.Text, "【ヒアリング待ち】") {
		t.Fatalf("status prefix missing: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "この回答はTanakaさんへの回答です") {
		t.Fatalf("requester footer missing: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "https://desk.example.com/?ticketId=n1") {
		t.Fatalf("permalink missing: %q", msg.Text)
	}
}

func TestNotifier_HearingTicketMentionsRequester(t *testing.T) {
	api := newChatAPI(t)
	ticket := notifyTicket("n1", domain.AIStatusAnswered, domain.TicketModeHearing)
	service, _, _, accounts := newNotifierFixture(t, api, []domain.KnowledgeTool{chatTool("tool-1", "xoxb-1")}, ticket)

	accounts.add(domain.Account{ID: "acct-1", Name: "Tanaka", Email: "tanaka@example.com", ChatUserID: strptr("chat-1"), TenantID: "tenant-1"})
	accounts.identities["chat-1"] = &domain.ChatIdentity{ID: "chat-1", ChatID: "U42"}

	if _, err := service.Dispatch(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(api.requests[0].Text, "<@U42> さんからの質問への回答です") {
		t.Fatalf("requester mention missing: %q", api.requests[0].Text)
	}
}

func TestNotifier_FallsBackForChannelNotFound(t *testing.T) {
	api := newChatAPI(t,
		postMessageResponse{OK: false, Error: "channel_not_found"},
		postMessageResponse{OK: true},
	)
	ticket := notifyTicket("n1", domain.AIStatusAnswered, domain.TicketModeFAQ)
	tools := []domain.KnowledgeTool{chatTool("tool-1", "xoxb-1"), chatTool("tool-2", "xoxb-2")}
	service, tickets, _, _ := newNotifierFixture(t, api, tools, ticket)

	sent, err := service.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected delivery via second tool, sent=%d", sent)
	}
	if len(api.tokens) != 2 || api.tokens[0] != "xoxb-1" || api.tokens[1] != "xoxb-2" {
		t.Fatalf("tools not tried in order: %v", api.tokens)
	}
	stored, _ := tickets.GetByID(context.Background(), "n1")
	if stored.NotifyPending {
		t.Fatal("notify flag should be cleared after success")
	}
}

func TestNotifier_NonRetryableErrorStopsChain(t *testing.T) {
	api := newChatAPI(t, postMessageResponse{OK: false, Error: "invalid_auth"})
	ticket := notifyTicket("n1", domain.AIStatusAnswered, domain.TicketModeFAQ)
	tools := []domain.KnowledgeTool{chatTool("tool-1", "xoxb-1"), chatTool("tool-2", "xoxb-2")}
	service, tickets, _, _ := newNotifierFixture(t, api, tools, ticket)

	sent, err := service.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != 0 {
		t.Fatalf("nothing should be delivered, sent=%d", sent)
	}
	if len(api.requests) != 1 {
		t.Fatalf("second tool must not be tried after auth error, got %d calls", len(api.requests))
	}
	stored, _ := tickets.GetByID(context.Background(), "n1")
	if !stored.NotifyPending {
		t.Fatal("notify flag must survive a failed pass")
	}
}

func TestNotifier_HearingQueueNeverSelected(t *testing.T) {
	api := newChatAPI(t)
	ticket := notifyTicket("n1", domain.AIStatusHearingQueue, domain.TicketModeFAQ)
	service, _, _, _ := newNotifierFixture(t, api, []domain.KnowledgeTool{chatTool("tool-1", "xoxb-1")}, ticket)

	sent, err := service.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != 0 || len(api.requests) != 0 {
		t.Fatal("hearing_queue tickets must wait for their children")
	}
}
