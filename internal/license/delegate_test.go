package license

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantErr    bool
		wantStatus string
		wantValid  bool
	}{
		{name: "licensed", output: `{"valid":true,"status":"Licensed"}`, wantStatus: "Licensed", wantValid: true},
		{name: "invalid answer is still conclusive", output: `{"valid":false,"status":"Invalid License","error":"bad signature"}`, wantStatus: "Invalid License"},
		{name: "surrounding whitespace", output: "\n  {\"valid\":true,\"status\":\"Licensed\"}\n\n", wantStatus: "Licensed", wantValid: true},
		{name: "diagnostics before result", output: "loading key\nchecking\n{\"valid\":true,\"status\":\"Licensed\"}", wantStatus: "Licensed", wantValid: true},
		{name: "empty", output: "", wantErr: true},
		{name: "whitespace only", output: " \n\t", wantErr: true},
		{name: "not json", output: "Traceback (most recent call last):", wantErr: true},
		{name: "missing status", output: `{"valid":true}`, wantErr: true},
		{name: "empty status", output: `{"valid":true,"status":""}`, wantErr: true},
		{name: "missing valid", output: `{"status":"Licensed"}`, wantErr: true},
		{name: "valid wrong type", output: `{"valid":"yes","status":"Licensed"}`, wantErr: true},
		{name: "array", output: `[{"valid":true,"status":"Licensed"}]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseResult([]byte(tt.output))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDelegateInconclusive)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantValid, res.Valid)
		})
	}
}

func TestParseResult_Limits(t *testing.T) {
	res, err := ParseResult([]byte(`{"valid":true,"status":"Licensed","devices":25,"eps":5000,
		"expires_soon":true,"days_remaining":4,"expire_date":"2025-12-31","customer":"ACME"}`))
	require.NoError(t, err)
	require.NotNil(t, res.Devices)
	require.NotNil(t, res.EPS)
	assert.Equal(t, 25, *res.Devices)
	assert.Equal(t, 5000, *res.EPS)
	assert.True(t, res.ExpiresSoon)
	assert.Equal(t, 4, res.DaysRemaining)
	assert.Equal(t, "ACME", res.Customer)

	res, err = ParseResult([]byte(`{"valid":true,"status":"Licensed"}`))
	require.NoError(t, err)
	assert.Nil(t, res.Devices)
	assert.Nil(t, res.EPS)
}
