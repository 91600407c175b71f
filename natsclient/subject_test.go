package natsclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorbridge/errors"
)

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		name      string
		subject   string
		wildcards bool
		wantErr   string
	}{
		{name: "request subject", subject: "sensorbridge.request.BID0.D1"},
		{name: "data subject", subject: "sensorbridge.data"},
		{name: "wildcard subscription", subject: "sensorbridge.request.BID0.*", wildcards: true},
		{name: "tail wildcard", subject: "sensorbridge.>", wildcards: true},

		{name: "empty", subject: "", wantErr: "empty subject"},
		{name: "empty token", subject: "sensorbridge..data", wantErr: "empty token"},
		{name: "trailing dot", subject: "sensorbridge.data.", wantErr: "empty token"},
		{name: "device id with space", subject: "sensorbridge.request.BID0.my tag", wantErr: "whitespace"},
		{name: "wildcard on publish", subject: "sensorbridge.request.BID0.*", wantErr: "wildcard not allowed"},
		{name: "tail wildcard not last", subject: "sensorbridge.>.data", wildcards: true, wantErr: "must be the last"},
		{name: "wildcard inside token", subject: "sensorbridge.dev*ce", wildcards: true, wantErr: "inside token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubject(tt.subject, tt.wildcards)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.ErrorIs(t, err, errors.ErrInvalidSubject)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}
