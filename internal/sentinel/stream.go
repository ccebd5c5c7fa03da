package sentinel

import (
	"context"
	"log"

	"github.com/cloo-solutions/confidant/internal/domain"
)

// StreamInspector binds a request's audit metadata to mid-stream window
// checks. A violation found mid-stream is audited immediately, since the
// stream aborts before any full-answer inspection can run.
type StreamInspector struct {
	svc  *Service
	meta RequestMeta
}

// StreamInspector returns a window inspector for one request.
func (s *Service) StreamInspector(meta RequestMeta) *StreamInspector {
	return &StreamInspector{svc: s, meta: meta}
}

// InspectWindow vets the accumulated answer prefix. On violation it writes
// the mandatory audit record and aborts the stream.
func (si *StreamInspector) InspectWindow(ctx context.Context, text string, assembled *domain.AssembledContext) error {
	v := si.svc.windowViolation(text, assembled)
	if v == nil {
		return nil
	}

	verdict := &domain.PrivacyVerdict{
		Status:     domain.VerdictBlocked,
		Answer:     SafeRefusal,
		Violations: []domain.Violation{*v},
	}
	if err := si.svc.writeAudit(ctx, verdict, si.meta); err != nil {
		// The stream is being blocked either way; the failed audit is the
		// remaining incident to surface.
		log.Printf("privacy sentinel: audit write failed for blocked stream: %v", err)
	}
	return domain.ErrPrivacyBlocked
}
