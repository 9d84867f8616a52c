package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil error", nil, ""},
		{"typed error", VersionConflict("op", 1, 2), EVERSIONCONFLICT},
		{"wrapped typed error", fmt.Errorf("outer: %w", LimitExceeded("op", FeatureCoverLetter, 3, 3)), ELIMITEXCEEDED},
		{"untyped error", errors.New("boom"), EINTERNAL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestErrorMessage_HidesInternalDetails(t *testing.T) {
	internal := Internal(errors.New("pq: connection reset"), "repo.get", "query failed")
	msg := ErrorMessage(internal)
	assert.NotContains(t, msg, "connection reset")
	assert.NotContains(t, msg, "query failed")

	untyped := errors.New("pq: connection reset")
	assert.NotContains(t, ErrorMessage(untyped), "connection reset")
}

func TestUnavailable_WrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Unavailable(cause, "gate.check_and_increment")

	assert.Equal(t, EUNAVAILABLE, ErrorCode(err))
	assert.True(t, errors.Is(err, cause))
	// The user-facing message never leaks the storage fault.
	assert.NotContains(t, ErrorMessage(err), "connection refused")
}

func TestLimitExceeded_MessageNamesFeatureAndUpgradePath(t *testing.T) {
	err := LimitExceeded("gate.check_and_increment", FeatureCoverLetter, 3, 3)
	msg := ErrorMessage(err)

	assert.Contains(t, msg, "cover_letter")
	assert.Contains(t, msg, "upgrade")
}
