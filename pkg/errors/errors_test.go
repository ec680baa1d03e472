package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"conflict", Conflict("already active", nil), ErrConflict},
		{"wrapped validation", fmt.Errorf("invite: %w", Validation("bad permission", "manage_staff")), ErrValidation},
		{"not found", NotFound("assignment", nil), ErrNotFound},
		{"plain error", stderrors.New("boom"), ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
			assert.True(t, Is(tt.err, tt.want))
		})
	}
}

func TestStoreUnwraps(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Store("load assignments", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to load assignments: connection reset", err.Error())
	assert.False(t, Is(nil, ErrStore))
}

func TestValidationDetails(t *testing.T) {
	err := Validation("permissions not allowed for role", "manage_staff", "view_consents")
	assert.Equal(t, "manage_staff, view_consents", err.DetailString())
	assert.Equal(t, "validation", err.Code.String())
}
