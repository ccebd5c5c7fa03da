package sentinel

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/confidant/internal/assembler"
	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/cloo-solutions/confidant/internal/generation"
)

// SafeRefusal replaces the entire answer on a BLOCKED verdict.
const SafeRefusal = "I can't share that information."

// Placeholder replaces individual redacted sentences.
const Placeholder = "[redacted]"

// AuditWriter persists audit records. Writes for REDACTED and BLOCKED
// verdicts are mandatory; a failed write fails the inspection.
type AuditWriter interface {
	WriteAudit(ctx context.Context, record *domain.AuditRecord) error
}

// RequestMeta identifies the request under inspection for the audit trail.
type RequestMeta struct {
	OrgID          string
	ChatbotID      string
	ConversationID string
}

// Config tunes the sentinel checks.
type Config struct {
	// OverlapSpanTokens is the token-window length beyond which verbatim
	// overlap with a private passage is a violation.
	OverlapSpanTokens int
	// EchoMarkers are instruction fragments whose presence in an answer
	// means the model is echoing its prompt.
	EchoMarkers []string
}

func (c Config) withDefaults() Config {
	if c.OverlapSpanTokens < 3 {
		c.OverlapSpanTokens = 12
	}
	if len(c.EchoMarkers) == 0 {
		c.EchoMarkers = generation.EchoMarkers()
	}
	return c
}

// Service is the output-side filter between generation and the caller. It
// fails closed: any internal error, including a failed audit write, blocks
// the answer.
type Service struct {
	cfg   Config
	audit AuditWriter
}

// NewService creates a privacy sentinel.
func NewService(audit AuditWriter, cfg Config) *Service {
	return &Service{cfg: cfg.withDefaults(), audit: audit}
}

var markerRe = regexp.MustCompile(`\s?\[(\d+)\]`)

// Inspect vets a complete answer against its context provenance and returns
// the releasable verdict. REDACTED and BLOCKED verdicts are audited before
// they are returned; if the audit write fails, the caller gets a BLOCKED
// verdict and the error.
func (s *Service) Inspect(ctx context.Context, answer string, assembled *domain.AssembledContext, meta RequestMeta) (*domain.PrivacyVerdict, error) {
	verdict := s.evaluate(answer, assembled)

	if verdict.Status == domain.VerdictClean {
		return verdict, nil
	}

	if err := s.writeAudit(ctx, verdict, meta); err != nil {
		blocked := &domain.PrivacyVerdict{
			Status: domain.VerdictBlocked,
			Answer: SafeRefusal,
			Violations: append(verdict.Violations, domain.Violation{
				Kind:   domain.ViolationSentinelFailure,
				Reason: "audit write failed",
			}),
		}
		return blocked, fmt.Errorf("audit write: %w", err)
	}
	return verdict, nil
}

// InspectWindow vets a growing answer prefix during streaming. Redaction is
// impossible once text has been released, so any violation aborts the
// stream.
func (s *Service) InspectWindow(_ context.Context, text string, assembled *domain.AssembledContext) error {
	if s.windowViolation(text, assembled) != nil {
		return domain.ErrPrivacyBlocked
	}
	return nil
}

func (s *Service) windowViolation(text string, assembled *domain.AssembledContext) *domain.Violation {
	if v := s.echoViolation(text); v != nil {
		return v
	}
	idx := buildOverlapIndex(assembled, s.cfg.OverlapSpanTokens)
	if gram, sourceID, found := idx.check(text); found {
		return &domain.Violation{
			Kind:     domain.ViolationVerbatimOverlap,
			Span:     gram,
			SourceID: sourceID,
			Reason:   "verbatim overlap with private passage",
		}
	}
	if lit, found := containsPII(text, extractPII(assembled)); found {
		return &domain.Violation{
			Kind:     domain.ViolationPII,
			Span:     lit.value,
			SourceID: lit.sourceID,
			Reason:   "private identifier in answer",
		}
	}
	if assembled.PrivateOnly && markerRe.MatchString(text) {
		return &domain.Violation{
			Kind:   domain.ViolationInvalidCitation,
			Reason: "citation marker in a private-only context",
		}
	}
	return nil
}

func (s *Service) evaluate(answer string, assembled *domain.AssembledContext) *domain.PrivacyVerdict {
	if v := s.echoViolation(answer); v != nil {
		return &domain.PrivacyVerdict{
			Status:     domain.VerdictBlocked,
			Answer:     SafeRefusal,
			Violations: []domain.Violation{*v},
		}
	}

	idx := buildOverlapIndex(assembled, s.cfg.OverlapSpanTokens)
	literals := extractPII(assembled)

	var violations []domain.Violation
	var kept []string
	redactedCount := 0

	sentences := assembler.SplitSentences(answer)
	for _, sentence := range sentences {
		if gram, sourceID, found := idx.check(sentence); found {
			violations = append(violations, domain.Violation{
				Kind:     domain.ViolationVerbatimOverlap,
				Span:     gram,
				SourceID: sourceID,
				Reason:   "verbatim overlap with private passage",
			})
			kept = append(kept, Placeholder)
			redactedCount++
			continue
		}
		if lit, found := containsPII(sentence, literals); found {
			violations = append(violations, domain.Violation{
				Kind:     domain.ViolationPII,
				Span:     lit.value,
				SourceID: lit.sourceID,
				Reason:   "private identifier in answer",
			})
			kept = append(kept, Placeholder)
			redactedCount++
			continue
		}

		fixed, sentenceViolations, drop := s.fixCitations(sentence, assembled)
		violations = append(violations, sentenceViolations...)
		if drop {
			kept = append(kept, Placeholder)
			redactedCount++
			continue
		}
		kept = append(kept, fixed)
	}

	if len(violations) == 0 {
		return &domain.PrivacyVerdict{Status: domain.VerdictClean, Answer: answer}
	}

	// An answer that is nothing but placeholders carries no information
	// worth releasing.
	if redactedCount == len(sentences) {
		return &domain.PrivacyVerdict{
			Status:     domain.VerdictBlocked,
			Answer:     SafeRefusal,
			Violations: violations,
		}
	}
	return &domain.PrivacyVerdict{
		Status:     domain.VerdictRedacted,
		Answer:     strings.Join(kept, " "),
		Violations: violations,
	}
}

// fixCitations strips citation markers that do not resolve to a citable
// provenance entry. A marker that attributes text to a private passage drops
// the whole sentence; a marker that resolves to nothing is stripped in
// place. In private-only contexts no marker is legitimate.
func (s *Service) fixCitations(sentence string, assembled *domain.AssembledContext) (string, []domain.Violation, bool) {
	var violations []domain.Violation
	drop := false

	fixed := markerRe.ReplaceAllStringFunc(sentence, func(match string) string {
		sub := markerRe.FindStringSubmatch(match)
		index, err := strconv.Atoi(sub[1])
		if err != nil {
			return match
		}
		entry := assembled.LookupProvenance(index)

		if entry != nil && entry.Citable && !assembled.PrivateOnly {
			return match
		}

		violation := domain.Violation{
			Kind: domain.ViolationInvalidCitation,
			Span: strings.TrimSpace(match),
		}
		switch {
		case entry == nil:
			violation.Reason = "citation marker resolves to no provenance entry"
		case !entry.Citable:
			violation.Reason = "citation marker attributes text to a private passage"
			violation.SourceID = entry.SourceID
			drop = true
		default:
			violation.Reason = "citation marker in a private-only context"
			violation.SourceID = entry.SourceID
			drop = true
		}
		violations = append(violations, violation)
		return ""
	})

	return strings.TrimSpace(fixed), violations, drop
}

func (s *Service) echoViolation(answer string) *domain.Violation {
	for _, marker := range s.cfg.EchoMarkers {
		if strings.Contains(answer, marker) {
			return &domain.Violation{
				Kind:   domain.ViolationPromptEcho,
				Span:   marker,
				Reason: "answer repeats system instructions",
			}
		}
	}
	return nil
}

func (s *Service) writeAudit(ctx context.Context, verdict *domain.PrivacyVerdict, meta RequestMeta) error {
	reasons := make([]string, 0, len(verdict.Violations))
	for _, v := range verdict.Violations {
		reasons = append(reasons, fmt.Sprintf("%s: %s", v.Kind, v.Reason))
	}

	record := &domain.AuditRecord{
		ID:             uuid.New().String(),
		OrgID:          meta.OrgID,
		ChatbotID:      meta.ChatbotID,
		ConversationID: meta.ConversationID,
		Verdict:        verdict.Status,
		Reasons:        reasons,
		PassageIDs:     verdict.OffendingSourceIDs(),
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.audit.WriteAudit(ctx, record); err != nil {
		return err
	}
	log.Printf("privacy sentinel verdict=%s org=%s chatbot=%s violations=%d",
		verdict.Status, meta.OrgID, meta.ChatbotID, len(verdict.Violations))
	return nil
}
