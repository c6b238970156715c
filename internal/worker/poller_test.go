package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orkdesk/ticket-resolver/internal/config"
	"github.com/orkdesk/ticket-resolver/internal/domain"
	"github.com/orkdesk/ticket-resolver/internal/observability"
)

type pollTicketRepo struct {
	mu        sync.Mutex
	queued    map[domain.TicketMode][]domain.Ticket
	claimed   map[string]bool
	denyClaim map[string]bool
	listErr   error
}

func newPollTicketRepo() *pollTicketRepo {
	return &pollTicketRepo{
		queued:    map[domain.TicketMode][]domain.Ticket{},
		claimed:   map[string]bool{},
		denyClaim: map[string]bool{},
	}
}

func (r *pollTicketRepo) Create(ctx context.Context, ticket *domain.Ticket) error { return nil }
func (r *pollTicketRepo) Update(ctx context.Context, ticket *domain.Ticket) error { return nil }

func (r *pollTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	return nil, errors.New("not implemented")
}

func (r *pollTicketRepo) ListQueued(ctx context.Context, mode domain.TicketMode) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]domain.Ticket(nil), r.queued[mode]...), nil
}

func (r *pollTicketRepo) ListNotifyPending(ctx context.Context, statuses []domain.AIStatus) ([]domain.Ticket, error) {
	return nil, nil
}

func (r *pollTicketRepo) Claim(ctx context.Context, id string, leaseCutoff time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.denyClaim[id] || r.claimed[id] {
		return false, nil
	}
	r.claimed[id] = true
	return true, nil
}

type countingProcessor struct {
	mu       sync.Mutex
	ids      []string
	inflight int
	peak     int
	done     int
	delay    time.Duration
	failIDs  map[string]bool
}

func (p *countingProcessor) Process(ctx context.Context, ticket *domain.Ticket) error {
	p.mu.Lock()
	p.inflight++
	if p.inflight > p.peak {
		p.peak = p.inflight
	}
	p.ids = append(p.ids, ticket.ID)
	p.mu.Unlock()

	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	p.inflight--
	p.done++
	p.mu.Unlock()

	if p.failIDs[ticket.ID] {
		return errors.New("workflow unavailable")
	}
	return nil
}

func (p *countingProcessor) snapshot() (inflight, done int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight, p.done
}

type countingNotifier struct {
	mu      sync.Mutex
	calls   int
	observe func()
}

func (n *countingNotifier) Dispatch(ctx context.Context) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.observe != nil {
		n.observe()
	}
	return 0, nil
}

func queuedTicket(id string, mode domain.TicketMode) domain.Ticket {
	return domain.Ticket{
		ID:       id,
		Status:   domain.TicketStatusOpen,
		AIStatus: domain.AIStatusQueued,
		Mode:     mode,
		TenantID: "tenant-1",
	}
}

func newTestPoller(repo *pollTicketRepo, faq, hearing TicketProcessor, notifier Notifier) *Poller {
	return NewPoller(PollerDependencies{
		TicketRepo: repo,
		FAQ:        faq,
		Hearing:    hearing,
		Notifier:   notifier,
		Metrics:    observability.NewMetrics(),
		Config: config.SchedulerConfig{
			PollIntervalSeconds:  1,
			FAQConcurrency:       2,
			HearingConcurrency:   1,
			TicketTimeoutSeconds: 5,
			ClaimLeaseSeconds:    300,
		},
	})
}

func TestPollerRoutesTicketsByMode(t *testing.T) {
	repo := newPollTicketRepo()
	repo.queued[domain.TicketModeFAQ] = []domain.Ticket{queuedTicket("faq-1", domain.TicketModeFAQ)}
	repo.queued[domain.TicketModeHearing] = []domain.Ticket{queuedTicket("hear-1", domain.TicketModeHearing)}

	faq := &countingProcessor{}
	hearing := &countingProcessor{}
	notifier := &countingNotifier{}

	poller := newTestPoller(repo, faq, hearing, notifier)
	processed, err := poller.ProcessPendingTickets(context.Background())
	if err != nil {
		t.Fatalf("ProcessPendingTickets: %v", err)
	}
	if processed != 2 {
		t.Fatalf("processed = %d, want 2", processed)
	}
	if len(faq.ids) != 1 || faq.ids[0] != "faq-1" {
		t.Fatalf("faq processor saw %v", faq.ids)
	}
	if len(hearing.ids) != 1 || hearing.ids[0] != "hear-1" {
		t.Fatalf("hearing processor saw %v", hearing.ids)
	}
	if notifier.calls != 1 {
		t.Fatalf("notifier calls = %d, want 1", notifier.calls)
	}
}

func TestPollerSkipsTicketsItCannotClaim(t *testing.T) {
	repo := newPollTicketRepo()
	repo.queued[domain.TicketModeFAQ] = []domain.Ticket{
		queuedTicket("faq-1", domain.TicketModeFAQ),
		queuedTicket("faq-2", domain.TicketModeFAQ),
	}
	repo.denyClaim["faq-2"] = true

	faq := &countingProcessor{}
	poller := newTestPoller(repo, faq, &countingProcessor{}, &countingNotifier{})

	processed, err := poller.ProcessPendingTickets(context.Background())
	if err != nil {
		t.Fatalf("ProcessPendingTickets: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
	if len(faq.ids) != 1 || faq.ids[0] != "faq-1" {
		t.Fatalf("faq processor saw %v, want only faq-1", faq.ids)
	}
}

func TestPollerBoundsConcurrencyPerMode(t *testing.T) {
	repo := newPollTicketRepo()
	for _, id := range []string{"faq-1", "faq-2", "faq-3", "faq-4"} {
		repo.queued[domain.TicketModeFAQ] = append(repo.queued[domain.TicketModeFAQ], queuedTicket(id, domain.TicketModeFAQ))
	}

	faq := &countingProcessor{delay: 20 * time.Millisecond}
	poller := newTestPoller(repo, faq, &countingProcessor{}, &countingNotifier{})

	if _, err := poller.ProcessPendingTickets(context.Background()); err != nil {
		t.Fatalf("ProcessPendingTickets: %v", err)
	}
	if len(faq.ids) != 4 {
		t.Fatalf("processed %d tickets, want 4", len(faq.ids))
	}
	if faq.peak > 2 {
		t.Fatalf("peak concurrency = %d, want at most 2", faq.peak)
	}
}

func TestPollerIsolatesTicketFailures(t *testing.T) {
	repo := newPollTicketRepo()
	repo.queued[domain.TicketModeFAQ] = []domain.Ticket{
		queuedTicket("faq-1", domain.TicketModeFAQ),
		queuedTicket("faq-2", domain.TicketModeFAQ),
	}

	faq := &countingProcessor{failIDs: map[string]bool{"faq-1": true}}
	poller := newTestPoller(repo, faq, &countingProcessor{}, &countingNotifier{})

	processed, err := poller.ProcessPendingTickets(context.Background())
	if err != nil {
		t.Fatalf("ProcessPendingTickets: %v", err)
	}
	if processed != 2 {
		t.Fatalf("processed = %d, want 2 (failure must not abort the batch)", processed)
	}
	if len(faq.ids) != 2 {
		t.Fatalf("faq processor saw %v, want both tickets", faq.ids)
	}
}

func TestPollerNotifiesAfterBothBatchesDrain(t *testing.T) {
	repo := newPollTicketRepo()
	repo.queued[domain.TicketModeFAQ] = []domain.Ticket{
		queuedTicket("faq-1", domain.TicketModeFAQ),
		queuedTicket("faq-2", domain.TicketModeFAQ),
	}
	repo.queued[domain.TicketModeHearing] = []domain.Ticket{queuedTicket("hear-1", domain.TicketModeHearing)}

	faq := &countingProcessor{delay: 20 * time.Millisecond}
	hearing := &countingProcessor{delay: 50 * time.Millisecond}

	var inflightAtDispatch, doneAtDispatch int
	notifier := &countingNotifier{}
	notifier.observe = func() {
		fi, fd := faq.snapshot()
		hi, hd := hearing.snapshot()
		inflightAtDispatch = fi + hi
		doneAtDispatch = fd + hd
	}

	poller := newTestPoller(repo, faq, hearing, notifier)
	if _, err := poller.ProcessPendingTickets(context.Background()); err != nil {
		t.Fatalf("ProcessPendingTickets: %v", err)
	}

	if notifier.calls != 1 {
		t.Fatalf("notifier calls = %d, want 1", notifier.calls)
	}
	if inflightAtDispatch != 0 {
		t.Fatalf("notifier ran while %d tickets were still processing", inflightAtDispatch)
	}
	if doneAtDispatch != 3 {
		t.Fatalf("notifier saw %d finished tickets, want all 3", doneAtDispatch)
	}
}

func TestPollerContinuesWhenListFails(t *testing.T) {
	repo := newPollTicketRepo()
	repo.listErr = errors.New("connection refused")

	notifier := &countingNotifier{}
	poller := newTestPoller(repo, &countingProcessor{}, &countingProcessor{}, notifier)

	processed, err := poller.ProcessPendingTickets(context.Background())
	if err != nil {
		t.Fatalf("ProcessPendingTickets: %v", err)
	}
	if processed != 0 {
		t.Fatalf("processed = %d, want 0", processed)
	}
	if notifier.calls != 1 {
		t.Fatalf("notifier calls = %d, want 1 (notification pass still runs)", notifier.calls)
	}
}

func TestPollerRunStopsOnContextCancel(t *testing.T) {
	repo := newPollTicketRepo()
	poller := newTestPoller(repo, &countingProcessor{}, &countingProcessor{}, &countingNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
