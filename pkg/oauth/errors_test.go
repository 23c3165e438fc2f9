package oauth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError("invalid or expired IAT")
	assert.Equal(t, "invalid or expired IAT", err.Error())

	var verr *ValidationError
	assert.True(t, errors.As(error(err), &verr))
}

func TestProtocolError(t *testing.T) {
	err := &ProtocolError{Message: "invalid_client_metadata", Status: 400}
	assert.Equal(t, "invalid_client_metadata (status 400)", err.Error())

	noStatus := &ProtocolError{Message: "bad response"}
	assert.Equal(t, "bad response", noStatus.Error())
}

func TestTransportError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := &TransportError{Err: cause}

	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)

	var terr *TransportError
	wrapped := fmt.Errorf("refresh failed: %w", err)
	assert.True(t, errors.As(wrapped, &terr))
}

func TestErrorTaxonomy_Distinct(t *testing.T) {
	// The three classes must never match each other.
	var verr *ValidationError
	var perr *ProtocolError
	var terr *TransportError

	var err error = &ProtocolError{Message: "m", Status: 500}
	assert.False(t, errors.As(err, &verr))
	assert.True(t, errors.As(err, &perr))
	assert.False(t, errors.As(err, &terr))
}
