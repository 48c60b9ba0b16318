package validation_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/circulateapp/circulate-server/internal/errors"
	"github.com/circulateapp/circulate-server/internal/validation"
)

type testRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Amount int64  `json:"amount" validate:"gt=0"`
	Reason string `json:"reason" validate:"required,min=1,max=200"`
}

func TestValidator_ValidateSuccess(t *testing.T) {
	v := validation.New()

	err := v.Validate(testRequest{
		UserID: "usr-alice",
		Amount: 5000,
		Reason: "overdue",
	})
	assert.NoError(t, err)
}

func TestValidator_ValidateErrors(t *testing.T) {
	v := validation.New()

	tests := []struct {
		name      string
		req       testRequest
		wantField string
	}{
		{
			name:      "missing required field",
			req:       testRequest{Amount: 5000, Reason: "overdue"},
			wantField: "user_id",
		},
		{
			name:      "amount not positive",
			req:       testRequest{UserID: "usr-alice", Amount: 0, Reason: "overdue"},
			wantField: "amount",
		},
		{
			name:      "reason too long",
			req:       testRequest{UserID: "usr-alice", Amount: 5000, Reason: string(make([]byte, 201))},
			wantField: "reason",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.req)
			require.Error(t, err)

			var domainErr *domainerrors.Error
			require.True(t, errors.As(err, &domainErr))
			assert.Equal(t, http.StatusBadRequest, domainErr.HTTPStatus())

			fields, ok := domainErr.Details.(map[string]string)
			require.True(t, ok)
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

func TestValidator_JSONFieldNames(t *testing.T) {
	v := validation.New()

	err := v.Validate(testRequest{Amount: 5000, Reason: "overdue"})
	require.Error(t, err)

	// Field keys come from JSON tags, not Go field names.
	var domainErr *domainerrors.Error
	require.True(t, errors.As(err, &domainErr))
	fields := domainErr.Details.(map[string]string)
	assert.Contains(t, fields, "user_id")
	assert.NotContains(t, fields, "UserID")
}
