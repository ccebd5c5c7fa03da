package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/cloo-solutions/confidant/internal/generation"
	"github.com/cloo-solutions/confidant/internal/index"
	"github.com/cloo-solutions/confidant/internal/sentinel"
	"github.com/cloo-solutions/confidant/internal/telemetry"
)

// StreamGenerator produces an answer as sentinel-vetted increments.
type StreamGenerator interface {
	GenerateStream(ctx context.Context, orgID string, assembled domain.AssembledContext, history []domain.HistoryMessage, query string, inspector generation.WindowInspector, windowChars int) (<-chan generation.StreamEvent, <-chan error)
}

// SentinelService is the full sentinel surface the streaming path needs:
// window checks bound to audit metadata mid-stream, and a final inspection
// of the complete answer.
type SentinelService interface {
	Inspector
	StreamInspector(meta sentinel.RequestMeta) *sentinel.StreamInspector
}

// QueryEvent is one server-sent increment of a streamed answer.
type QueryEvent struct {
	Delta string
	Done  bool
	// Result accompanies the Done event. Its AnswerText is the final vetted
	// answer; when it differs from the concatenated deltas the client must
	// replace what it rendered.
	Result *domain.QueryResult
}

// QueryStream runs one query with a streamed answer. The pre-generation
// stages match Query; generation then emits rolling windows, each vetted
// before release. Cancelling ctx tears down the provider stream and
// discards buffered sentinel state.
func (o *Orchestrator) QueryStream(ctx context.Context, req QueryRequest, streamer StreamGenerator, guard SentinelService, windowChars int) (<-chan QueryEvent, <-chan error) {
	events := make(chan QueryEvent)
	errs := make(chan error, 1)

	go func() {
		defer close(events)

		ctx, cancel := context.WithTimeout(ctx, o.cfg.QueryDeadline)
		defer cancel()

		ctx, span := telemetry.StartSpan(ctx, "pipeline.query_stream", telemetry.SpanAttributes{
			OrgID:     req.OrgID,
			ChatbotID: req.ChatbotID,
		})
		defer span.End()

		start := time.Now()
		run := newQueryRun(o, req)
		if err := run.prepare(ctx); err != nil {
			span.SetError(err)
			errs <- err
			return
		}

		meta := sentinel.RequestMeta{
			OrgID:          req.OrgID,
			ChatbotID:      req.ChatbotID,
			ConversationID: run.conversationID,
		}
		run.stage = StageGenerating
		chunks, streamErrs := streamer.GenerateStream(ctx, req.OrgID, *run.assembled, run.history, req.Query, guard.StreamInspector(meta), windowChars)

		failStream := func(err error) {
			span.SetError(err)
			if err == domain.ErrPrivacyBlocked || domain.IsErrorCode(err, domain.ErrCodePrivacyBlocked) {
				// Already audited mid-stream; deliver the refusal as the
				// final answer.
				result := &domain.QueryResult{
					AnswerText:     sentinel.SafeRefusal,
					ConversationID: run.conversationID,
					LatencyMS:      time.Since(start).Milliseconds(),
					CostUSD:        run.costUSD,
				}
				run.persistTurns(ctx, result)
				select {
				case events <- QueryEvent{Done: true, Result: result}:
				case <-ctx.Done():
				}
				return
			}
			errs <- err
		}

		for {
			select {
			case ev, ok := <-chunks:
				if !ok {
					// The generator buffers its typed error before closing
					// the event channel; this select must not lose that
					// race and report a generic degradation instead.
					select {
					case err := <-streamErrs:
						failStream(err)
					default:
						errs <- domain.ErrServiceDegraded
					}
					return
				}
				if !ev.Done {
					select {
					case events <- QueryEvent{Delta: ev.Delta}:
					case <-ctx.Done():
						errs <- domain.ErrQueryTimedOut
						return
					}
					continue
				}

				run.stage = StageFiltering
				run.costUSD = ev.Result.CostUSD
				verdict, err := run.filter(ctx, ev.Result)
				if err != nil {
					span.SetError(err)
					errs <- err
					return
				}
				result := &domain.QueryResult{
					AnswerText:     verdict.Answer,
					Citations:      ev.Result.Citations,
					ConversationID: run.conversationID,
					LatencyMS:      time.Since(start).Milliseconds(),
					CostUSD:        run.costUSD,
					Degraded:       run.degraded,
				}
				if verdict.Status != domain.VerdictClean {
					result.Citations = nil
				}
				run.persistTurns(ctx, result)
				run.stage = StageDelivered
				select {
				case events <- QueryEvent{Done: true, Result: result}:
				case <-ctx.Done():
				}
				return

			case err := <-streamErrs:
				failStream(err)
				return

			case <-ctx.Done():
				errs <- domain.ErrQueryTimedOut
				return
			}
		}
	}()

	return events, errs
}

// prepare runs the conversation, embedding, retrieval, and assembly stages.
// Embedding or retrieval failure degrades to a history-only context instead
// of aborting; only validation errors and the deadline abort here.
func (r *queryRun) prepare(ctx context.Context) error {
	if r.req.Query == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "query text is required")
	}
	if r.req.ChatbotID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "chatbot id is required")
	}
	if err := r.prepareConversation(ctx); err != nil {
		return err
	}

	historyOnly := false
	err := r.advance(ctx, StageEmbedding, func(ctx context.Context) error {
		vector, err := r.o.embedder.EmbedQuery(ctx, r.req.OrgID, r.req.Query)
		r.vector = vector
		return err
	})
	if err != nil {
		if isAbort(err) {
			return err
		}
		log.Printf("pipeline: embedding failed, degrading to history-only: %v", err)
		historyOnly = true
	}

	if !historyOnly {
		err = r.advance(ctx, StageRetrieving, func(ctx context.Context) error {
			passages, err := r.o.retriever.Search(ctx, r.vector, r.req.OrgID, r.req.ChatbotID, r.o.cfg.RetrievalK, index.ModeGrounding)
			r.passages = passages
			return err
		})
		if err != nil {
			if isAbort(err) {
				return err
			}
			log.Printf("pipeline: retrieval failed, degrading to history-only: %v", err)
			historyOnly = true
		}
	}

	return r.advance(ctx, StageAssembling, func(context.Context) error {
		if historyOnly {
			r.assembled = &domain.AssembledContext{}
			r.degraded = true
		} else {
			r.assembled = r.o.builder.Assemble(r.passages)
		}
		return nil
	})
}
