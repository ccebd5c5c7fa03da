package domain

import "time"

// VerdictStatus is the outcome of a privacy sentinel inspection.
type VerdictStatus string

const (
	// VerdictClean means the answer passes unchanged.
	VerdictClean VerdictStatus = "CLEAN"
	// VerdictRedacted means violating spans were replaced with placeholders.
	VerdictRedacted VerdictStatus = "REDACTED"
	// VerdictBlocked means the entire answer was replaced by a safe refusal.
	VerdictBlocked VerdictStatus = "BLOCKED"
)

// ViolationKind identifies which sentinel check fired.
type ViolationKind string

const (
	ViolationVerbatimOverlap ViolationKind = "verbatim_overlap"
	ViolationInvalidCitation ViolationKind = "invalid_citation"
	ViolationPII             ViolationKind = "pii"
	ViolationPromptEcho      ViolationKind = "prompt_echo"
	ViolationSentinelFailure ViolationKind = "sentinel_failure"
)

// Violation describes one finding from a sentinel check.
type Violation struct {
	Kind     ViolationKind
	Span     string
	SourceID string
	Reason   string
}

// PrivacyVerdict is the sentinel's decision on an answer. Answer holds the
// releasable text: unchanged for CLEAN, placeholder-patched for REDACTED,
// and the safe refusal for BLOCKED.
type PrivacyVerdict struct {
	Status     VerdictStatus
	Answer     string
	Violations []Violation
}

// OffendingSourceIDs returns the distinct source ids implicated by the
// verdict's violations, for audit records.
func (v *PrivacyVerdict) OffendingSourceIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, viol := range v.Violations {
		if viol.SourceID == "" {
			continue
		}
		if _, ok := seen[viol.SourceID]; ok {
			continue
		}
		seen[viol.SourceID] = struct{}{}
		ids = append(ids, viol.SourceID)
	}
	return ids
}

// AuditRecord is an immutable log entry written for every REDACTED or
// BLOCKED verdict. Writes are mandatory, not best-effort.
type AuditRecord struct {
	ID             string
	OrgID          string
	ChatbotID      string
	ConversationID string
	Verdict        VerdictStatus
	Reasons        []string
	PassageIDs     []string
	CreatedAt      time.Time
	// ArchivedAt is set once the record has been exported to cold storage.
	ArchivedAt *time.Time
}
