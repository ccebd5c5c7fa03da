package generation

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/cloo-solutions/confidant/internal/openai"
)

type fakeChatProvider struct {
	calls   int64
	answer  string
	usage   openai.ChatUsage
	err     error
	deltas  []string
	lastMsg []openai.ChatMessage
}

func (f *fakeChatProvider) Complete(_ context.Context, messages []openai.ChatMessage) (string, openai.ChatUsage, error) {
	atomic.AddInt64(&f.calls, 1)
	f.lastMsg = messages
	if f.err != nil {
		return "", openai.ChatUsage{}, f.err
	}
	return f.answer, f.usage, nil
}

func (f *fakeChatProvider) Stream(_ context.Context, messages []openai.ChatMessage) (<-chan openai.StreamChunk, <-chan error) {
	atomic.AddInt64(&f.calls, 1)
	f.lastMsg = messages
	chunks := make(chan openai.StreamChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		if f.err != nil {
			errs <- f.err
			return
		}
		for _, d := range f.deltas {
			chunks <- openai.StreamChunk{Delta: d}
		}
		chunks <- openai.StreamChunk{Done: true, Usage: f.usage}
	}()
	return chunks, errs
}

type passInspector struct{ calls int64 }

func (p *passInspector) InspectWindow(context.Context, string, *domain.AssembledContext) error {
	atomic.AddInt64(&p.calls, 1)
	return nil
}

type trippingInspector struct {
	after int64
	seen  int64
}

func (p *trippingInspector) InspectWindow(_ context.Context, _ string, _ *domain.AssembledContext) error {
	if atomic.AddInt64(&p.seen, 1) > p.after {
		return domain.ErrPrivacyBlocked
	}
	return nil
}

func citableContext() domain.AssembledContext {
	return domain.AssembledContext{
		CitableBlock: "[1] The return window is 30 days.",
		Provenance: []domain.ProvenanceEntry{
			{Index: 1, ChunkID: "ch-1", SourceID: "src-1", Citable: true, Text: "The return window is 30 days."},
			{Index: 2, ChunkID: "ch-2", SourceID: "src-2", Citable: false, Text: "Margin on returns is 4 percent."},
		},
	}
}

func TestGenerate_ReturnsAnswerWithResolvedCitations(t *testing.T) {
	provider := &fakeChatProvider{
		answer: "Returns are accepted for 30 days [1].",
		usage:  openai.ChatUsage{PromptTokens: 200, CompletionTokens: 40},
	}
	svc := NewService(provider, NewMemoryLedger(10), ServiceConfig{})

	result, err := svc.Generate(context.Background(), "org-1", citableContext(), nil, "What is the return window?")
	require.NoError(t, err)

	assert.Equal(t, "Returns are accepted for 30 days [1].", result.AnswerText)
	require.Len(t, result.Citations, 1)
	assert.Equal(t, 1, result.Citations[0].Index)
	assert.Equal(t, "src-1", result.Citations[0].SourceID)
	assert.Equal(t, 200, result.PromptTokens)
	assert.Greater(t, result.CostUSD, 0.0)
}

func TestGenerate_BudgetExceededWithoutProviderCall(t *testing.T) {
	provider := &fakeChatProvider{answer: "hi"}
	ledger := NewMemoryLedger(1.0)
	require.NoError(t, ledger.RecordCost(context.Background(), "org-1", 0, 1.0))

	svc := NewService(provider, ledger, ServiceConfig{})

	_, err := svc.Generate(context.Background(), "org-1", citableContext(), nil, "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBudgetExceeded))
	assert.Equal(t, int64(0), atomic.LoadInt64(&provider.calls))
}

func TestGenerate_BudgetIsPerTenant(t *testing.T) {
	provider := &fakeChatProvider{answer: "ok", usage: openai.ChatUsage{PromptTokens: 10, CompletionTokens: 10}}
	ledger := NewMemoryLedger(1.0)
	require.NoError(t, ledger.RecordCost(context.Background(), "org-broke", 0, 1.0))

	svc := NewService(provider, ledger, ServiceConfig{})

	_, err := svc.Generate(context.Background(), "org-other", citableContext(), nil, "hello")
	require.NoError(t, err)
}

func TestGenerate_BreakerFailsFastAfterThreshold(t *testing.T) {
	provider := &fakeChatProvider{err: errors.New("upstream 503")}
	svc := NewService(provider, NewMemoryLedger(10), ServiceConfig{
		Breaker: BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute},
	})

	for i := 0; i < 3; i++ {
		_, err := svc.Generate(context.Background(), "org-1", citableContext(), nil, "q")
		require.Error(t, err)
	}
	require.Equal(t, int64(3), atomic.LoadInt64(&provider.calls))

	// Breaker is open: no further provider traffic.
	_, err := svc.Generate(context.Background(), "org-1", citableContext(), nil, "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCircuitOpen))
	assert.Equal(t, int64(3), atomic.LoadInt64(&provider.calls))
}

func TestGenerate_AccruesCostAfterSuccess(t *testing.T) {
	provider := &fakeChatProvider{
		answer: "answer",
		usage:  openai.ChatUsage{PromptTokens: 1000, CompletionTokens: 1000},
	}
	ledger := NewMemoryLedger(10)
	svc := NewService(provider, ledger, ServiceConfig{
		Pricing: Pricing{PromptUSDPerK: 0.001, CompletionUSDPerK: 0.002},
	})

	_, err := svc.Generate(context.Background(), "org-1", citableContext(), nil, "q")
	require.NoError(t, err)
	assert.InDelta(t, 0.003, ledger.Spent("org-1"), 1e-9)
}

func TestGenerate_PromptSeparatesContextBlocks(t *testing.T) {
	provider := &fakeChatProvider{answer: "ok"}
	svc := NewService(provider, NewMemoryLedger(10), ServiceConfig{})

	assembled := domain.AssembledContext{
		CitableBlock: "[1] Public fact.",
		PrivateBlock: "Internal margin data.",
	}
	_, err := svc.Generate(context.Background(), "org-1", assembled, []domain.HistoryMessage{
		{Role: "user", Text: "earlier question"},
	}, "now?")
	require.NoError(t, err)

	require.NotEmpty(t, provider.lastMsg)
	system := provider.lastMsg[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "REFERENCE CONTEXT:\n[1] Public fact.")
	assert.Contains(t, system.Content, "CONFIDENTIAL CONTEXT:\nInternal margin data.")
	assert.Contains(t, system.Content, "never quote it")

	assert.Equal(t, "earlier question", provider.lastMsg[1].Content)
	assert.Equal(t, "now?", provider.lastMsg[len(provider.lastMsg)-1].Content)
}

func TestGenerate_PrivateOnlyTightensInstructions(t *testing.T) {
	provider := &fakeChatProvider{answer: "ok"}
	svc := NewService(provider, NewMemoryLedger(10), ServiceConfig{})

	assembled := domain.AssembledContext{PrivateBlock: "secret", PrivateOnly: true}
	_, err := svc.Generate(context.Background(), "org-1", assembled, nil, "q")
	require.NoError(t, err)

	assert.Contains(t, provider.lastMsg[0].Content, "no quotable claims")
	assert.Contains(t, provider.lastMsg[0].Content, "no citation markers")
}

func TestGenerateStream_ReleasesVettedWindows(t *testing.T) {
	provider := &fakeChatProvider{
		deltas: []string{"The return window ", "is 30 days [1]. ", "Keep your receipt."},
	}
	svc := NewService(provider, NewMemoryLedger(10), ServiceConfig{})
	inspector := &passInspector{}

	events, errs := svc.GenerateStream(context.Background(), "org-1", citableContext(), nil, "q", inspector, 10)

	var text strings.Builder
	var result *domain.GenerationResult
	for ev := range events {
		if ev.Done {
			result = ev.Result
			break
		}
		text.WriteString(ev.Delta)
	}

	select {
	case err := <-errs:
		t.Fatalf("unexpected stream error: %v", err)
	default:
	}

	require.NotNil(t, result)
	assert.Equal(t, "The return window is 30 days [1]. Keep your receipt.", result.AnswerText)
	assert.Equal(t, result.AnswerText, text.String())
	require.Len(t, result.Citations, 1)
	assert.Greater(t, atomic.LoadInt64(&inspector.calls), int64(1))
}

func TestGenerateStream_AbortsWhenInspectionFails(t *testing.T) {
	provider := &fakeChatProvider{
		deltas: []string{"Fine so far. ", "Margin on returns is 4 percent."},
	}
	svc := NewService(provider, NewMemoryLedger(10), ServiceConfig{})
	inspector := &trippingInspector{after: 1}

	events, errs := svc.GenerateStream(context.Background(), "org-1", citableContext(), nil, "q", inspector, 5)

	var released strings.Builder
	for ev := range events {
		if !ev.Done {
			released.WriteString(ev.Delta)
		}
	}

	err := <-errs
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPrivacyBlocked))
	assert.NotContains(t, released.String(), "4 percent")
}

func TestGenerateStream_BudgetCheckedBeforeStream(t *testing.T) {
	provider := &fakeChatProvider{deltas: []string{"hi"}}
	ledger := NewMemoryLedger(1.0)
	require.NoError(t, ledger.RecordCost(context.Background(), "org-1", 0, 2.0))
	svc := NewService(provider, ledger, ServiceConfig{})

	events, errs := svc.GenerateStream(context.Background(), "org-1", citableContext(), nil, "q", &passInspector{}, 10)
	for range events {
	}
	err := <-errs
	assert.True(t, errors.Is(err, domain.ErrBudgetExceeded))
	assert.Equal(t, int64(0), atomic.LoadInt64(&provider.calls))
}

func TestGenerate_CancelledHalfOpenProbeRecovers(t *testing.T) {
	provider := &fakeChatProvider{err: errors.New("provider down")}
	svc := NewService(provider, NewMemoryLedger(10), ServiceConfig{
		Breaker: BreakerConfig{FailureThreshold: 1, Cooldown: 20 * time.Millisecond},
	})
	ctx := context.Background()

	_, err := svc.Generate(ctx, "org-1", citableContext(), nil, "q")
	require.Error(t, err)
	require.Equal(t, BreakerOpen, svc.Breaker().State())

	// The half-open probe's call is cancelled by the caller. That verdict
	// says nothing about the provider, but the probe slot must be returned
	// or every later call fails CIRCUIT_OPEN against a healthy provider.
	time.Sleep(25 * time.Millisecond)
	provider.err = context.Canceled
	_, err = svc.Generate(ctx, "org-1", citableContext(), nil, "q")
	require.Error(t, err)

	time.Sleep(25 * time.Millisecond)
	provider.err = nil
	provider.answer = "All good."
	result, err := svc.Generate(ctx, "org-1", citableContext(), nil, "q")
	require.NoError(t, err)
	assert.Equal(t, "All good.", result.AnswerText)
}

func TestGenerateStream_SentinelAbortResolvesHalfOpenProbe(t *testing.T) {
	provider := &fakeChatProvider{err: errors.New("provider down")}
	svc := NewService(provider, NewMemoryLedger(10), ServiceConfig{
		Breaker: BreakerConfig{FailureThreshold: 1, Cooldown: 20 * time.Millisecond},
	})
	ctx := context.Background()

	_, err := svc.Generate(ctx, "org-1", citableContext(), nil, "q")
	require.Error(t, err)

	time.Sleep(25 * time.Millisecond)
	provider.err = nil
	provider.deltas = []string{"Fine so far. ", "Margin on returns is 4 percent."}
	events, errs := svc.GenerateStream(ctx, "org-1", citableContext(), nil, "q", &trippingInspector{after: 1}, 5)
	for range events {
	}
	require.True(t, errors.Is(<-errs, domain.ErrPrivacyBlocked))

	// The stream reached the provider fine before the sentinel aborted it;
	// the probe resolves and the next call goes straight through.
	provider.deltas = nil
	provider.answer = "All good."
	result, err := svc.Generate(ctx, "org-1", citableContext(), nil, "q")
	require.NoError(t, err)
	assert.Equal(t, "All good.", result.AnswerText)
}

func TestGenerateStream_AccruesProviderReportedUsage(t *testing.T) {
	provider := &fakeChatProvider{
		deltas: []string{"The return window is 30 days [1]."},
		usage:  openai.ChatUsage{PromptTokens: 500, CompletionTokens: 100},
	}
	ledger := NewMemoryLedger(10)
	svc := NewService(provider, ledger, ServiceConfig{
		Pricing: Pricing{PromptUSDPerK: 1.0, CompletionUSDPerK: 2.0},
	})

	events, errs := svc.GenerateStream(context.Background(), "org-1", citableContext(), nil, "q", &passInspector{}, 10)
	var result *domain.GenerationResult
	for ev := range events {
		if ev.Done {
			result = ev.Result
		}
	}
	select {
	case err := <-errs:
		t.Fatalf("unexpected stream error: %v", err)
	default:
	}

	require.NotNil(t, result)
	assert.Equal(t, 500, result.PromptTokens)
	assert.Equal(t, 100, result.CompletionTokens)
	assert.InDelta(t, 0.5+0.2, result.CostUSD, 1e-9)
	assert.InDelta(t, result.CostUSD, ledger.Spent("org-1"), 1e-9)
}

func TestGenerateStream_EstimatesUsageWhenProviderOmitsIt(t *testing.T) {
	provider := &fakeChatProvider{
		deltas: []string{"The return window is 30 days [1]. Keep your receipt."},
	}
	ledger := NewMemoryLedger(10)
	svc := NewService(provider, ledger, ServiceConfig{
		Pricing: Pricing{PromptUSDPerK: 1.0, CompletionUSDPerK: 2.0},
	})

	events, _ := svc.GenerateStream(context.Background(), "org-1", citableContext(), nil, "q", &passInspector{}, 10)
	var result *domain.GenerationResult
	for ev := range events {
		if ev.Done {
			result = ev.Result
		}
	}

	// Without a provider usage block both sides are counted locally; the
	// prompt is never priced at zero tokens.
	require.NotNil(t, result)
	assert.Greater(t, result.PromptTokens, 0)
	assert.Greater(t, result.CompletionTokens, 0)
	assert.InDelta(t, result.CostUSD, ledger.Spent("org-1"), 1e-9)
	assert.Greater(t, ledger.Spent("org-1"), float64(result.CompletionTokens)/1000*2.0)
}

func TestExtractCitations_IgnoresPrivateAndUnknownMarkers(t *testing.T) {
	assembled := citableContext()
	citations := ExtractCitations("See [1], also [2] and [9]. Again [1].", &assembled)

	require.Len(t, citations, 1)
	assert.Equal(t, "src-1", citations[0].SourceID)
}

func TestMemoryLedger_RollsOverAtMidnightUTC(t *testing.T) {
	ledger := NewMemoryLedger(1.0)
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }

	require.NoError(t, ledger.RecordCost(context.Background(), "org-1", 0, 1.0))
	require.Error(t, ledger.CheckBudget(context.Background(), "org-1"))

	now = now.Add(2 * time.Minute)
	require.NoError(t, ledger.CheckBudget(context.Background(), "org-1"))
	assert.Equal(t, 0.0, ledger.Spent("org-1"))
}
