package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/orkdesk/ticket-resolver/internal/config"
	"github.com/orkdesk/ticket-resolver/internal/domain"
	"github.com/orkdesk/ticket-resolver/internal/observability"
	"github.com/orkdesk/ticket-resolver/internal/repository"
)

// TicketProcessor resolves one claimed ticket.
type TicketProcessor interface {
	Process(ctx context.Context, ticket *domain.Ticket) error
}

// Notifier runs one outbound notification pass.
type Notifier interface {
	Dispatch(ctx context.Context) (int, error)
}

// Poller drives the resolution loop: each cycle fans queued tickets out to
// the per-mode processors under bounded concurrency, then runs one
// notification pass after both batches finish.
type Poller struct {
	tickets  repository.TicketRepository
	faq      TicketProcessor
	hearing  TicketProcessor
	notifier Notifier
	metrics  *observability.Metrics
	cfg      config.SchedulerConfig
	logger   *zap.Logger
}

// PollerDependencies bundles collaborators for the Poller.
type PollerDependencies struct {
	TicketRepo repository.TicketRepository
	FAQ        TicketProcessor
	Hearing    TicketProcessor
	Notifier   Notifier
	Metrics    *observability.Metrics
	Config     config.SchedulerConfig
	Logger     *zap.Logger
}

// NewPoller constructs the poller.
func NewPoller(deps PollerDependencies) *Poller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config.FAQConcurrency <= 0 {
		deps.Config.FAQConcurrency = 5
	}
	if deps.Config.HearingConcurrency <= 0 {
		deps.Config.HearingConcurrency = 3
	}
	return &Poller{
		tickets:  deps.TicketRepo,
		faq:      deps.FAQ,
		hearing:  deps.Hearing,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		cfg:      deps.Config,
		logger:   deps.Logger,
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval())
	defer ticker.Stop()

	p.logger.Info("scheduler started",
		zap.Duration("interval", p.cfg.PollInterval()),
		zap.Int("faq_concurrency", p.cfg.FAQConcurrency),
		zap.Int("hearing_concurrency", p.cfg.HearingConcurrency))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.ProcessPendingTickets(ctx); err != nil {
				p.logger.Error("scheduler cycle failed", zap.Error(err))
			}
		}
	}
}

// ProcessPendingTickets runs one cycle and returns how many tickets were
// processed. One ticket's failure never aborts the batch.
func (p *Poller) ProcessPendingTickets(ctx context.Context) (int, error) {
	p.metrics.Increment("scheduler_cycles")

	var faqProcessed, hearingProcessed int64
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		faqProcessed = p.runBatch(ctx, domain.TicketModeFAQ, p.faq, p.cfg.FAQConcurrency)
	}()
	go func() {
		defer wg.Done()
		hearingProcessed = p.runBatch(ctx, domain.TicketModeHearing, p.hearing, p.cfg.HearingConcurrency)
	}()
	wg.Wait()
	total := int(faqProcessed + hearingProcessed)

	if p.notifier != nil {
		sent, err := p.notifier.Dispatch(ctx)
		if err != nil {
			p.logger.Error("notification pass failed", zap.Error(err))
		} else if sent > 0 {
			p.logger.Info("notifications delivered", zap.Int("count", sent))
		}
	}
	return total, nil
}

// runBatch claims and processes one mode's queued tickets under a counting
// semaphore. Claims that lose the race are skipped silently.
func (p *Poller) runBatch(ctx context.Context, mode domain.TicketMode, processor TicketProcessor, concurrency int) int64 {
	queued, err := p.tickets.ListQueued(ctx, mode)
	if err != nil {
		p.logger.Error("unable to list queued tickets",
			zap.String("mode", string(mode)), zap.Error(err))
		return 0
	}
	if len(queued) == 0 {
		return 0
	}
	p.logger.Info("processing queued tickets",
		zap.String("mode", string(mode)), zap.Int("count", len(queued)))

	leaseCutoff := time.Now().Add(-p.cfg.ClaimLease())

	var processed int64
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i := range queued {
		ticket := queued[i]

		claimed, err := p.tickets.Claim(ctx, ticket.ID, leaseCutoff)
		if err != nil {
			p.logger.Error("claim failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			p.processOne(ctx, &ticket, processor)
			atomic.AddInt64(&processed, 1)
		}()
	}
	wg.Wait()
	return atomic.LoadInt64(&processed)
}

// processOne runs a single ticket under the per-ticket deadline.
func (p *Poller) processOne(ctx context.Context, ticket *domain.Ticket, processor TicketProcessor) {
	ticketCtx, cancel := context.WithTimeout(ctx, p.cfg.TicketTimeout())
	defer cancel()

	if err := processor.Process(ticketCtx, ticket); err != nil {
		p.metrics.Increment("tickets_failed")
		p.logger.Error("ticket processing failed",
			zap.String("ticket_id", ticket.ID),
			zap.String("mode", string(ticket.Mode)),
			zap.Error(err))
		return
	}
	p.metrics.Increment("tickets_processed")
}
