package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-freight-overages/internal/apperrors"
)

func TestNeedsEvidence(t *testing.T) {
	file := "s3://recovery/claim-17.pdf"
	evidence := "s3://evidence/claim-17.pdf"

	noRecovery := newOrder(0, 7)
	assert.False(t, NeedsEvidence(noRecovery))

	pending := newOrder(0, 7)
	pending.RecoveryFile = &file
	assert.True(t, NeedsEvidence(pending))

	complete := newOrder(0, 7)
	complete.RecoveryFile = &file
	complete.RecoveryEvidence = &evidence
	assert.False(t, NeedsEvidence(complete))
}

func TestAttachEvidence(t *testing.T) {
	file := "s3://recovery/claim-17.pdf"

	t.Run("without recovery file", func(t *testing.T) {
		order := newOrder(0, 7)
		_, err := AttachEvidence(order, "s3://evidence.pdf")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNoRecoveryFile, apperrors.CodeOf(err))
	})

	t.Run("empty reference", func(t *testing.T) {
		order := newOrder(0, 7)
		order.RecoveryFile = &file
		_, err := AttachEvidence(order, "")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
	})

	t.Run("first attachment clears the alert", func(t *testing.T) {
		order := newOrder(0, 7)
		order.RecoveryFile = &file

		d, err := AttachEvidence(order, "s3://evidence.pdf")
		require.NoError(t, err)
		assert.Equal(t, "s3://evidence.pdf", d.FileRef)
		assert.True(t, d.ClearAlert)
	})

	t.Run("replacement does not re-clear", func(t *testing.T) {
		existing := "s3://evidence/old.pdf"
		order := newOrder(0, 7)
		order.RecoveryFile = &file
		order.RecoveryEvidence = &existing

		d, err := AttachEvidence(order, "s3://evidence/new.pdf")
		require.NoError(t, err)
		assert.False(t, d.ClearAlert)
	})

	t.Run("independent of approval state", func(t *testing.T) {
		rejected := newOrder(LevelRejected, 7)
		rejected.RecoveryFile = &file

		d, err := AttachEvidence(rejected, "s3://evidence.pdf")
		require.NoError(t, err)
		assert.True(t, d.ClearAlert)

		approved := newOrder(7, 7)
		approved.RecoveryFile = &file
		_, err = AttachEvidence(approved, "s3://evidence.pdf")
		require.NoError(t, err)
	})
}
