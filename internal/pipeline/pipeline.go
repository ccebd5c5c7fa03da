// Package pipeline runs a query end to end: embed, retrieve, assemble,
// generate, filter, persist. It owns the stage state machine, the latency
// budgets, and the fallback policy when individual stages fail.
package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/cloo-solutions/confidant/internal/index"
	"github.com/cloo-solutions/confidant/internal/sentinel"
	"github.com/cloo-solutions/confidant/internal/telemetry"
)

// Stage identifies where in the pipeline a query currently is.
type Stage string

const (
	StageReceived   Stage = "RECEIVED"
	StageEmbedding  Stage = "EMBEDDING"
	StageRetrieving Stage = "RETRIEVING"
	StageAssembling Stage = "ASSEMBLING"
	StageGenerating Stage = "GENERATING"
	StageFiltering  Stage = "FILTERING"
	StageDelivered  Stage = "DELIVERED"
	StageFailed     Stage = "FAILED"
)

// Embedder vectorizes the query text.
type Embedder interface {
	EmbedQuery(ctx context.Context, orgID, text string) ([]float32, error)
}

// Retriever returns ranked passages scoped to one chatbot.
type Retriever interface {
	Search(ctx context.Context, query []float32, orgID, chatbotID string, k int, mode index.Mode) ([]domain.RetrievedPassage, error)
}

// ContextBuilder packs passages into the bounded prompt context.
type ContextBuilder interface {
	Assemble(passages []domain.RetrievedPassage) *domain.AssembledContext
}

// Generator produces the raw answer.
type Generator interface {
	Generate(ctx context.Context, orgID string, assembled domain.AssembledContext, history []domain.HistoryMessage, query string) (*domain.GenerationResult, error)
}

// Inspector is the output-side privacy filter.
type Inspector interface {
	Inspect(ctx context.Context, answer string, assembled *domain.AssembledContext, meta sentinel.RequestMeta) (*domain.PrivacyVerdict, error)
}

// ConversationStore persists the append-only transcript.
type ConversationStore interface {
	Ensure(ctx context.Context, id, orgID, chatbotID string) (*domain.Conversation, error)
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
	AppendTurn(ctx context.Context, turn *domain.Turn) error
}

// Config carries the pipeline's latency and retrieval tunables.
type Config struct {
	RetrievalK      int
	HistoryLimit    int
	StageSoftBudget time.Duration
	QueryDeadline   time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetrievalK <= 0 {
		c.RetrievalK = 8
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.StageSoftBudget <= 0 {
		c.StageSoftBudget = 2 * time.Second
	}
	if c.QueryDeadline <= 0 {
		c.QueryDeadline = 30 * time.Second
	}
	return c
}

// Orchestrator coordinates the query stages. Independent queries run
// concurrently; one query moves through its stages sequentially.
type Orchestrator struct {
	embedder  Embedder
	retriever Retriever
	builder   ContextBuilder
	generator Generator
	inspector Inspector
	store     ConversationStore
	cfg       Config
}

// New creates a pipeline orchestrator.
func New(embedder Embedder, retriever Retriever, builder ContextBuilder, generator Generator, inspector Inspector, store ConversationStore, cfg Config) *Orchestrator {
	return &Orchestrator{
		embedder:  embedder,
		retriever: retriever,
		builder:   builder,
		generator: generator,
		inspector: inspector,
		store:     store,
		cfg:       cfg.withDefaults(),
	}
}

// QueryRequest is one user query for one chatbot.
type QueryRequest struct {
	OrgID          string
	ChatbotID      string
	ConversationID string
	Query          string
	// History overrides the stored transcript when supplied by the caller.
	History []domain.HistoryMessage
}

const historyOnlyNotice = "Note: I couldn't consult the knowledge base just now, so this answer draws only on our conversation."

const degradationMessage = "The assistant is temporarily unavailable. Please try again in a moment."

// Query runs one query through the full pipeline and returns the vetted
// result. Stage failures degrade per policy rather than failing the whole
// query wherever a safe degraded answer exists.
func (o *Orchestrator) Query(ctx context.Context, req QueryRequest) (*domain.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.QueryDeadline)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "pipeline.query", telemetry.SpanAttributes{
		OrgID:     req.OrgID,
		ChatbotID: req.ChatbotID,
		Stage:     string(StageReceived),
	})
	defer span.End()

	start := time.Now()

	run := newQueryRun(o, req)
	result, err := run.execute(ctx)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	result.LatencyMS = time.Since(start).Milliseconds()
	return result, nil
}

// queryRun is the per-query state: one instance per Query call, so stage
// and timing state never crosses between concurrent queries.
type queryRun struct {
	o     *Orchestrator
	req   QueryRequest
	stage Stage

	conversationID string
	history        []domain.HistoryMessage
	vector         []float32
	passages       []domain.RetrievedPassage
	assembled      *domain.AssembledContext
	degraded       bool
	costUSD        float64
}

func newQueryRun(o *Orchestrator, req QueryRequest) *queryRun {
	return &queryRun{o: o, req: req, stage: StageReceived}
}

// advance moves the run into the next stage and executes it under the soft
// latency budget. Overruns log a warning and continue; only the absolute
// deadline aborts.
func (r *queryRun) advance(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		r.stage = StageFailed
		return domain.ErrQueryTimedOut
	}
	r.stage = stage

	stageCtx, span := telemetry.StartSpan(ctx, "pipeline."+string(stage), telemetry.SpanAttributes{
		OrgID:          r.req.OrgID,
		ChatbotID:      r.req.ChatbotID,
		ConversationID: r.conversationID,
		Stage:          string(stage),
	})
	defer span.End()

	started := time.Now()
	err := fn(stageCtx)
	elapsed := time.Since(started)

	if elapsed > r.o.cfg.StageSoftBudget {
		log.Printf("pipeline: stage %s exceeded soft budget (%s > %s) chatbot=%s",
			stage, elapsed.Round(time.Millisecond), r.o.cfg.StageSoftBudget, r.req.ChatbotID)
		telemetry.AddBreadcrumb(stageCtx, "pipeline", string(stage)+" exceeded soft budget")
	}
	if err != nil {
		span.SetError(err)
		if ctx.Err() != nil {
			r.stage = StageFailed
			return domain.ErrQueryTimedOut
		}
	}
	return err
}

func (r *queryRun) execute(ctx context.Context) (*domain.QueryResult, error) {
	if err := r.prepare(ctx); err != nil {
		r.stage = StageFailed
		return nil, err
	}

	answer, err := r.generate(ctx)
	if err != nil {
		r.stage = StageFailed
		return nil, err
	}

	verdict, err := r.filter(ctx, answer)
	if err != nil {
		r.stage = StageFailed
		return nil, err
	}

	result := &domain.QueryResult{
		AnswerText:     verdict.Answer,
		Citations:      answer.Citations,
		ConversationID: r.conversationID,
		CostUSD:        r.costUSD,
		Degraded:       r.degraded,
	}
	if verdict.Status != domain.VerdictClean {
		// Redaction and blocking invalidate markers the extraction saw.
		result.Citations = nil
	}

	r.persistTurns(ctx, result)
	r.stage = StageDelivered
	return result, nil
}

func (r *queryRun) prepareConversation(ctx context.Context) error {
	r.conversationID = r.req.ConversationID
	if r.conversationID == "" {
		r.conversationID = uuid.New().String()
	}
	if _, err := r.o.store.Ensure(ctx, r.conversationID, r.req.OrgID, r.req.ChatbotID); err != nil {
		return err
	}

	if len(r.req.History) > 0 {
		r.history = r.req.History
		return nil
	}
	turns, err := r.o.store.RecentTurns(ctx, r.conversationID, r.o.cfg.HistoryLimit)
	if err != nil {
		// A missing transcript degrades context, not the query.
		log.Printf("pipeline: loading history failed, continuing without: %v", err)
		return nil
	}
	for _, t := range turns {
		r.history = append(r.history, domain.HistoryMessage{Role: string(t.Role), Text: t.Text})
	}
	return nil
}

// generate runs the generation stage, handling the degraded paths: a
// history-only fallback prefixes a limitation notice, and an open breaker
// short-circuits into a static degradation message.
func (r *queryRun) generate(ctx context.Context) (*domain.GenerationResult, error) {
	var result *domain.GenerationResult
	err := r.advance(ctx, StageGenerating, func(ctx context.Context) error {
		generated, err := r.o.generator.Generate(ctx, r.req.OrgID, *r.assembled, r.history, r.req.Query)
		if err != nil {
			return err
		}
		result = generated
		return nil
	})
	if err == nil {
		r.costUSD = result.CostUSD
		if r.degraded {
			result.AnswerText = historyOnlyNotice + "\n\n" + result.AnswerText
			result.Citations = nil
		}
		return result, nil
	}

	switch {
	case isAbort(err):
		return nil, err
	case domain.IsErrorCode(err, domain.ErrCodeCircuitOpen):
		r.degraded = true
		return &domain.GenerationResult{AnswerText: degradationMessage}, nil
	case domain.IsErrorCode(err, domain.ErrCodeBudgetExceeded):
		return nil, err
	default:
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeServiceDegraded, "answer generation failed", err)
	}
}

// filter runs the sentinel. Any inspector error is treated as BLOCKED,
// never as clean.
func (r *queryRun) filter(ctx context.Context, generated *domain.GenerationResult) (*domain.PrivacyVerdict, error) {
	var verdict *domain.PrivacyVerdict
	err := r.advance(ctx, StageFiltering, func(ctx context.Context) error {
		v, err := r.o.inspector.Inspect(ctx, generated.AnswerText, r.assembled, sentinel.RequestMeta{
			OrgID:          r.req.OrgID,
			ChatbotID:      r.req.ChatbotID,
			ConversationID: r.conversationID,
		})
		verdict = v
		return err
	})
	if err != nil {
		if isAbort(err) {
			return nil, err
		}
		telemetry.CaptureError(ctx, err)
		log.Printf("pipeline: sentinel error, blocking answer: %v", err)
		return &domain.PrivacyVerdict{
			Status: domain.VerdictBlocked,
			Answer: sentinel.SafeRefusal,
			Violations: []domain.Violation{
				{Kind: domain.ViolationSentinelFailure, Reason: err.Error()},
			},
		}, nil
	}
	return verdict, nil
}

// persistTurns appends the user and assistant turns. The answer has already
// been vetted, so persistence failure is logged but does not retract it.
func (r *queryRun) persistTurns(ctx context.Context, result *domain.QueryResult) {
	now := time.Now().UTC()
	turns := []*domain.Turn{
		{
			ID:             uuid.New().String(),
			ConversationID: r.conversationID,
			Role:           domain.RoleUser,
			Text:           r.req.Query,
			CreatedAt:      now,
		},
		{
			ID:             uuid.New().String(),
			ConversationID: r.conversationID,
			Role:           domain.RoleAssistant,
			Text:           result.AnswerText,
			Citations:      result.Citations,
			CreatedAt:      now,
		},
	}
	for _, t := range turns {
		if err := r.o.store.AppendTurn(ctx, t); err != nil {
			log.Printf("pipeline: persisting turn failed conversation=%s: %v", r.conversationID, err)
			telemetry.CaptureError(ctx, err)
			return
		}
	}
}

// isAbort reports whether the error must end the query immediately instead
// of entering a fallback path.
func isAbort(err error) bool {
	if err == nil {
		return false
	}
	return err == domain.ErrQueryTimedOut ||
		domain.IsErrorCode(err, domain.ErrCodeTimedOut) ||
		domain.IsErrorCode(err, domain.ErrCodeValidation)
}
