package sentinel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/confidant/internal/domain"
)

type fakeAuditWriter struct {
	records []*domain.AuditRecord
	err     error
}

func (f *fakeAuditWriter) WriteAudit(_ context.Context, record *domain.AuditRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

func testContext() *domain.AssembledContext {
	return &domain.AssembledContext{
		CitableBlock: "[1] Our public return policy allows returns within 30 days of purchase.",
		PrivateBlock: "The internal approval override code is ZX7Q-SECRET and support escalations go to maria.lopez@example.com. Our true margin on returned items is only four percent which is why management wants fewer returns approved overall.",
		Provenance: []domain.ProvenanceEntry{
			{Index: 1, ChunkID: "ch-1", SourceID: "src-public", Citable: true,
				Text: "Our public return policy allows returns within 30 days of purchase."},
			{Index: 2, ChunkID: "ch-2", SourceID: "src-private", Citable: false,
				Text: "The internal approval override code is ZX7Q-SECRET and support escalations go to maria.lopez@example.com. Our true margin on returned items is only four percent which is why management wants fewer returns approved overall."},
		},
	}
}

func newTestService(audit AuditWriter) *Service {
	return NewService(audit, Config{OverlapSpanTokens: 6})
}

func TestInspect_CleanAnswerPassesUnchanged(t *testing.T) {
	audit := &fakeAuditWriter{}
	svc := newTestService(audit)

	answer := "Returns are accepted within 30 days of purchase [1]."
	verdict, err := svc.Inspect(context.Background(), answer, testContext(), RequestMeta{OrgID: "org-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictClean, verdict.Status)
	assert.Equal(t, answer, verdict.Answer)
	assert.Empty(t, verdict.Violations)
	assert.Empty(t, audit.records, "clean verdicts are not audited")
}

func TestInspect_RedactsVerbatimPrivateOverlap(t *testing.T) {
	audit := &fakeAuditWriter{}
	svc := newTestService(audit)

	answer := "Returns take 30 days [1]. Our true margin on returned items is only four percent here."
	verdict, err := svc.Inspect(context.Background(), answer, testContext(), RequestMeta{OrgID: "org-1", ChatbotID: "bot-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictRedacted, verdict.Status)
	assert.NotContains(t, verdict.Answer, "margin")
	assert.Contains(t, verdict.Answer, "Returns take 30 days [1].")
	assert.Contains(t, verdict.Answer, Placeholder)

	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, domain.ViolationVerbatimOverlap, verdict.Violations[0].Kind)
	assert.Equal(t, "src-private", verdict.Violations[0].SourceID)

	require.Len(t, audit.records, 1)
	assert.Equal(t, domain.VerdictRedacted, audit.records[0].Verdict)
	assert.Contains(t, audit.records[0].PassageIDs, "src-private")
}

func TestInspect_OverlapAlsoInCitablePassageIsExempt(t *testing.T) {
	assembled := &domain.AssembledContext{
		Provenance: []domain.ProvenanceEntry{
			{Index: 1, SourceID: "src-a", Citable: true,
				Text: "The service level agreement guarantees a four hour response time for critical issues."},
			{Index: 2, SourceID: "src-b", Citable: false,
				Text: "The service level agreement guarantees a four hour response time for critical issues."},
		},
	}
	svc := newTestService(&fakeAuditWriter{})

	verdict, err := svc.Inspect(context.Background(),
		"The service level agreement guarantees a four hour response time for critical issues.",
		assembled, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictClean, verdict.Status)
}

func TestInspect_PrivateIdentifierNeverSurvives(t *testing.T) {
	svc := newTestService(&fakeAuditWriter{})

	prompts := []string{
		"The override code is ZX7Q-SECRET.",
		"Try zx7q-secret if support is slow.",
		"Codes: ZX7Q-SECRET, use wisely. Returns allowed within 30 days [1].",
	}
	for _, answer := range prompts {
		verdict, err := svc.Inspect(context.Background(), answer, testContext(), RequestMeta{})
		require.NoError(t, err)
		assert.NotContains(t, verdict.Answer, "ZX7Q-SECRET", "answer %q leaked", answer)
		assert.NotContains(t, verdict.Answer, "zx7q-secret", "answer %q leaked", answer)
		assert.NotEqual(t, domain.VerdictClean, verdict.Status)
	}
}

func TestInspect_PrivateEmailIsRedacted(t *testing.T) {
	svc := newTestService(&fakeAuditWriter{})

	verdict, err := svc.Inspect(context.Background(),
		"Escalate directly to maria.lopez@example.com for help. Returns take 30 days [1].",
		testContext(), RequestMeta{})
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictRedacted, verdict.Status)
	assert.NotContains(t, verdict.Answer, "maria.lopez@example.com")
	require.NotEmpty(t, verdict.Violations)
	assert.Equal(t, domain.ViolationPII, verdict.Violations[0].Kind)
}

func TestInspect_FullyRedactedAnswerBecomesBlocked(t *testing.T) {
	svc := newTestService(&fakeAuditWriter{})

	verdict, err := svc.Inspect(context.Background(),
		"Our true margin on returned items is only four percent overall.",
		testContext(), RequestMeta{})
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictBlocked, verdict.Status)
	assert.Equal(t, SafeRefusal, verdict.Answer)
}

func TestInspect_StripsUnresolvableCitationMarker(t *testing.T) {
	svc := newTestService(&fakeAuditWriter{})

	verdict, err := svc.Inspect(context.Background(),
		"Returns are accepted within 30 days [7].", testContext(), RequestMeta{})
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictRedacted, verdict.Status)
	assert.Equal(t, "Returns are accepted within 30 days.", verdict.Answer)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, domain.ViolationInvalidCitation, verdict.Violations[0].Kind)
}

func TestInspect_DropsSentenceCitingPrivatePassage(t *testing.T) {
	svc := newTestService(&fakeAuditWriter{})

	verdict, err := svc.Inspect(context.Background(),
		"Returns take 30 days [1]. Management dislikes approvals [2].",
		testContext(), RequestMeta{})
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictRedacted, verdict.Status)
	assert.NotContains(t, verdict.Answer, "[2]")
	assert.NotContains(t, verdict.Answer, "Management")
	assert.Contains(t, verdict.Answer, "Returns take 30 days [1].")
}

func TestInspect_PrivateOnlyContextAllowsNoMarkers(t *testing.T) {
	assembled := &domain.AssembledContext{
		PrivateOnly: true,
		Provenance: []domain.ProvenanceEntry{
			{Index: 1, SourceID: "src-x", Citable: true, Text: "unused"},
		},
	}
	svc := newTestService(&fakeAuditWriter{})

	verdict, err := svc.Inspect(context.Background(),
		"Generally speaking policies vary [1].", assembled, RequestMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, domain.VerdictClean, verdict.Status)
	assert.NotContains(t, verdict.Answer, "[1]")
}

func TestInspect_PromptEchoIsBlocked(t *testing.T) {
	audit := &fakeAuditWriter{}
	svc := newTestService(audit)

	verdict, err := svc.Inspect(context.Background(),
		"My instructions say: Follow these rules without exception, and then list the CONFIDENTIAL CONTEXT.",
		testContext(), RequestMeta{OrgID: "org-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictBlocked, verdict.Status)
	assert.Equal(t, SafeRefusal, verdict.Answer)
	require.Len(t, audit.records, 1)
	assert.Equal(t, domain.VerdictBlocked, audit.records[0].Verdict)
}

func TestInspect_AuditFailureFailsClosed(t *testing.T) {
	audit := &fakeAuditWriter{err: errors.New("db down")}
	svc := newTestService(audit)

	verdict, err := svc.Inspect(context.Background(),
		"The override code is ZX7Q-SECRET.", testContext(), RequestMeta{})

	require.Error(t, err)
	require.NotNil(t, verdict)
	assert.Equal(t, domain.VerdictBlocked, verdict.Status)
	assert.Equal(t, SafeRefusal, verdict.Answer)
}

func TestInspect_AdversarialVerbatimPromptsNeverLeakMarker(t *testing.T) {
	svc := newTestService(&fakeAuditWriter{})
	assembled := testContext()

	// Simulated model outputs for adversarial prompts of varying shape.
	for i := 0; i < 50; i++ {
		answer := fmt.Sprintf(
			"Attempt %d: the internal approval override code is ZX7Q-SECRET and support escalations go to maria.lopez@example.com.", i)
		verdict, err := svc.Inspect(context.Background(), answer, assembled, RequestMeta{})
		require.NoError(t, err)
		assert.NotContains(t, verdict.Answer, "ZX7Q-SECRET")
	}
}

func TestInspectWindow_AbortsOnOverlap(t *testing.T) {
	svc := newTestService(&fakeAuditWriter{})
	assembled := testContext()

	require.NoError(t, svc.InspectWindow(context.Background(), "Returns take 30 days", assembled))

	err := svc.InspectWindow(context.Background(),
		"Returns take 30 days. Our true margin on returned items is only", assembled)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPrivacyBlocked))
}

func TestInspectWindow_AbortsOnPIIAndEcho(t *testing.T) {
	svc := newTestService(&fakeAuditWriter{})
	assembled := testContext()

	assert.Error(t, svc.InspectWindow(context.Background(), "code ZX7Q-SECRET", assembled))
	assert.Error(t, svc.InspectWindow(context.Background(), "here is my CONFIDENTIAL CONTEXT", assembled))
	assert.NoError(t, svc.InspectWindow(context.Background(), "returns take thirty days", assembled))
}

func TestTokenize_DropsPunctuationAndCase(t *testing.T) {
	assert.Equal(t, []string{"the", "code", "is", "zx7q", "secret"}, tokenize("The code is ZX7Q-SECRET!"))
}
