package generation

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/cloo-solutions/confidant/internal/assembler"
	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/cloo-solutions/confidant/internal/openai"
)

// ChatProvider is the slice of the model client the service needs.
type ChatProvider interface {
	Complete(ctx context.Context, messages []openai.ChatMessage) (string, openai.ChatUsage, error)
	Stream(ctx context.Context, messages []openai.ChatMessage) (<-chan openai.StreamChunk, <-chan error)
}

// Pricing holds per-1K-token prices for the chat model.
type Pricing struct {
	PromptUSDPerK     float64
	CompletionUSDPerK float64
}

// DefaultPricing returns gpt-4o-mini list prices.
func DefaultPricing() Pricing {
	return Pricing{PromptUSDPerK: 0.00015, CompletionUSDPerK: 0.0006}
}

// Service produces privacy-constrained answers. Every call passes through
// the shared circuit breaker and is charged against the tenant's daily
// budget; the budget check happens before any provider traffic.
type Service struct {
	provider ChatProvider
	breaker  *Breaker
	ledger   BudgetLedger
	pricing  Pricing
	timeout  time.Duration
	counter  assembler.TokenCounter
}

// ServiceConfig configures the generation service.
type ServiceConfig struct {
	Breaker BreakerConfig
	Pricing Pricing
	Timeout time.Duration // per provider call
	// Counter prices streamed responses when the provider omits usage.
	Counter assembler.TokenCounter
}

// NewService creates a generation service.
func NewService(provider ChatProvider, ledger BudgetLedger, cfg ServiceConfig) *Service {
	if cfg.Pricing == (Pricing{}) {
		cfg.Pricing = DefaultPricing()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Counter == nil {
		cfg.Counter = assembler.HeuristicCounter{}
	}
	return &Service{
		provider: provider,
		breaker:  NewBreaker(cfg.Breaker),
		ledger:   ledger,
		pricing:  cfg.Pricing,
		timeout:  cfg.Timeout,
		counter:  cfg.Counter,
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (s *Service) Breaker() *Breaker {
	return s.breaker
}

// Generate produces one answer for the assembled context. Order of checks:
// budget first (a tenant over its ceiling gets BUDGET_EXCEEDED with no
// provider call), then the breaker, then the provider itself.
func (s *Service) Generate(ctx context.Context, orgID string, assembled domain.AssembledContext, history []domain.HistoryMessage, query string) (*domain.GenerationResult, error) {
	if err := s.ledger.CheckBudget(ctx, orgID); err != nil {
		return nil, err
	}
	if err := s.breaker.Allow(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	answer, usage, err := s.provider.Complete(callCtx, BuildMessages(assembled, history, query))
	latency := time.Since(start)
	if err != nil {
		s.recordOutcome(err)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransientProvider, "model call timed out", err)
		}
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransientProvider, "model call failed", err)
	}
	s.breaker.RecordSuccess()

	cost := s.cost(usage)
	// Accrual failure must not void a produced answer.
	_ = s.ledger.RecordCost(ctx, orgID, usage.PromptTokens+usage.CompletionTokens, cost)

	return &domain.GenerationResult{
		AnswerText:       answer,
		Citations:        ExtractCitations(answer, &assembled),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          cost,
		LatencyMS:        latency.Milliseconds(),
	}, nil
}

// StreamEvent is one vetted slice of a streaming answer.
type StreamEvent struct {
	Delta string
	Done  bool
	// Result is set on the Done event with the full vetted answer.
	Result *domain.GenerationResult
}

// WindowInspector vets accumulated answer text mid-stream. It is the same
// check the sentinel applies to complete answers, run over a growing prefix.
type WindowInspector interface {
	InspectWindow(ctx context.Context, text string, assembled *domain.AssembledContext) error
}

// GenerateStream produces an answer as vetted increments. Text is held back
// in rolling windows of at least windowChars; each window is inspected
// together with everything already released before any of it reaches the
// caller, so a verbatim span split across deltas cannot leak. An inspection
// failure aborts the stream.
func (s *Service) GenerateStream(ctx context.Context, orgID string, assembled domain.AssembledContext, history []domain.HistoryMessage, query string, inspector WindowInspector, windowChars int) (<-chan StreamEvent, <-chan error) {
	events := make(chan StreamEvent)
	errs := make(chan error, 1)

	if windowChars <= 0 {
		windowChars = 400
	}

	if err := s.ledger.CheckBudget(ctx, orgID); err != nil {
		errs <- err
		close(events)
		return events, errs
	}
	if err := s.breaker.Allow(); err != nil {
		errs <- err
		close(events)
		return events, errs
	}

	go func() {
		defer close(events)

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		start := time.Now()
		messages := BuildMessages(assembled, history, query)
		chunks, streamErrs := s.provider.Stream(callCtx, messages)

		var full, pending []byte
		released := 0

		flush := func() error {
			if err := inspector.InspectWindow(ctx, string(full), &assembled); err != nil {
				return err
			}
			delta := string(full[released:])
			released = len(full)
			pending = pending[:0]
			if delta == "" {
				return nil
			}
			select {
			case events <- StreamEvent{Delta: delta}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					s.recordOutcome(errors.New("stream closed early"))
					errs <- domain.NewDomainError(domain.ErrCodeTransientProvider, "model stream ended unexpectedly")
					return
				}
				if chunk.Done {
					if err := flush(); err != nil {
						s.settleAbort(err)
						errs <- err
						return
					}
					s.breaker.RecordSuccess()
					s.finishStream(ctx, orgID, string(full), assembled, messages, chunk.Usage, start, events)
					return
				}
				full = append(full, chunk.Delta...)
				pending = append(pending, chunk.Delta...)
				if len(pending) >= windowChars {
					if err := flush(); err != nil {
						s.settleAbort(err)
						errs <- err
						return
					}
				}
			case err := <-streamErrs:
				s.recordOutcome(err)
				errs <- domain.NewDomainErrorWithCause(domain.ErrCodeTransientProvider, "model stream failed", err)
				return
			case <-ctx.Done():
				s.breaker.ReleaseProbe()
				errs <- ctx.Err()
				return
			}
		}
	}()

	return events, errs
}

func (s *Service) finishStream(ctx context.Context, orgID, answer string, assembled domain.AssembledContext, messages []openai.ChatMessage, usage openai.ChatUsage, start time.Time, events chan<- StreamEvent) {
	if usage == (openai.ChatUsage{}) {
		// Provider stream ended without a usage block; count both sides
		// locally so streamed calls accrue prompt cost like blocking ones.
		for _, m := range messages {
			usage.PromptTokens += s.counter.Count(m.Content)
		}
		usage.CompletionTokens = s.counter.Count(answer)
	}
	cost := s.cost(usage)
	_ = s.ledger.RecordCost(ctx, orgID, usage.PromptTokens+usage.CompletionTokens, cost)

	result := &domain.GenerationResult{
		AnswerText:       answer,
		Citations:        ExtractCitations(answer, &assembled),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          cost,
		LatencyMS:        time.Since(start).Milliseconds(),
	}
	select {
	case events <- StreamEvent{Done: true, Result: result}:
	case <-ctx.Done():
	}
}

func (s *Service) recordOutcome(err error) {
	// Context cancellation by the caller is not a provider failure, but a
	// cancelled call still has to give back a claimed half-open probe or
	// the breaker stays open forever.
	if errors.Is(err, context.Canceled) {
		s.breaker.ReleaseProbe()
		return
	}
	s.breaker.RecordFailure()
}

// settleAbort resolves the breaker when a stream is torn down for a reason
// that is not the provider's fault. A sentinel abort counts as a provider
// success; a cancellation or deadline proves nothing and only releases a
// claimed probe.
func (s *Service) settleAbort(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.breaker.ReleaseProbe()
		return
	}
	s.breaker.RecordSuccess()
}

func (s *Service) cost(usage openai.ChatUsage) float64 {
	return float64(usage.PromptTokens)/1000*s.pricing.PromptUSDPerK +
		float64(usage.CompletionTokens)/1000*s.pricing.CompletionUSDPerK
}

var citationMarkerRe = regexp.MustCompile(`\[(\d+)\]`)

// ExtractCitations resolves the answer's citation markers against citable
// provenance. Markers that point at private entries or at nothing resolve to
// no citation; the sentinel strips them from the text.
func ExtractCitations(answer string, assembled *domain.AssembledContext) []domain.Citation {
	seen := make(map[int]bool)
	var out []domain.Citation
	for _, m := range citationMarkerRe.FindAllStringSubmatch(answer, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil || seen[idx] {
			continue
		}
		entry := assembled.LookupProvenance(idx)
		if entry == nil || !entry.Citable {
			continue
		}
		seen[idx] = true
		out = append(out, domain.Citation{Index: idx, SourceID: entry.SourceID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
