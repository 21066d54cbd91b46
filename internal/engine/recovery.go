package engine

import (
	"github.com/pesio-ai/be-freight-overages/internal/apperrors"
	"github.com/pesio-ai/be-freight-overages/internal/repository"
)

// Recovery evidence tracking is independent of the approval chain: an
// order with a recovery document on record owes a follow-up evidence
// document, regardless of how far (or whether) the approvals progressed.

// NeedsEvidence reports whether the order's recovery workflow is
// missing its evidence document.
func NeedsEvidence(o *repository.Order) bool {
	return o.RecoveryFile != nil && o.RecoveryEvidence == nil
}

// EvidenceDecision instructs the caller after an evidence attachment:
// persist FileRef as the order's recovery evidence, and clear the
// missing-evidence alert when ClearAlert is set (the evidence just
// transitioned from absent to present).
type EvidenceDecision struct {
	FileRef    string
	ClearAlert bool
}

// AttachEvidence validates an evidence attachment against the order
// snapshot. Evidence cannot exist without an underlying recovery record;
// attaching to an order that already has evidence replaces it.
func AttachEvidence(o *repository.Order, fileRef string) (*EvidenceDecision, error) {
	if fileRef == "" {
		return nil, apperrors.InvalidInput("file_ref", "evidence reference is required")
	}
	if o.RecoveryFile == nil {
		return nil, apperrors.New(apperrors.ErrCodeNoRecoveryFile,
			"order has no recovery file on record")
	}
	return &EvidenceDecision{
		FileRef:    fileRef,
		ClearAlert: o.RecoveryEvidence == nil,
	}, nil
}
