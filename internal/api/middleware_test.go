package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeTransformer(t *testing.T) {
	book := map[string]string{"book_id": "b1", "title": "Dune"}
	draftErr := &APIError{
		Code:    "VALIDATION",
		Message: "invalid review",
		Details: map[string]string{"rating": "must be between 1 and 5"},
	}

	tests := []struct {
		name        string
		status      string
		input       any
		wantSuccess bool
		wantData    any
		wantError   string
		wantCode    string
		wantDetails any
	}{
		{name: "ok body", status: "200", input: book, wantSuccess: true, wantData: book},
		{name: "created body", status: "201", input: book, wantSuccess: true, wantData: book},
		{name: "empty body", status: "204", input: nil, wantSuccess: true},
		{name: "plain error", status: "503", input: errors.New("catalog unreachable"), wantError: "catalog unreachable"},
		{
			name:        "domain error",
			status:      "400",
			input:       draftErr,
			wantError:   "invalid review",
			wantCode:    "VALIDATION",
			wantDetails: draftErr.Details,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := EnvelopeTransformer(nil, tt.status, tt.input)
			require.NoError(t, err)

			raw, err := json.Marshal(result)
			require.NoError(t, err)
			var generic map[string]any
			require.NoError(t, json.Unmarshal(raw, &generic))
			assert.Equal(t, float64(EnvelopeVersion), generic["v"])
			assert.Equal(t, tt.wantSuccess, generic["success"])

			switch env := result.(type) {
			case APIEnvelope:
				assert.Equal(t, tt.wantData, env.Data)
				assert.Equal(t, tt.wantError, env.Error)
			case APIErrorEnvelope:
				assert.Equal(t, tt.wantError, env.Error)
				assert.Equal(t, tt.wantError, env.Message)
				assert.Equal(t, tt.wantCode, env.Code)
				assert.Equal(t, tt.wantDetails, env.Details)
			default:
				t.Fatalf("unexpected envelope type %T", result)
			}
		})
	}
}

func TestStatusToCode(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{400, "VALIDATION"},
		{422, "VALIDATION"},
		{401, "UNAUTHORIZED"},
		{403, "FORBIDDEN"},
		{404, "NOT_FOUND"},
		{409, "CONFLICT"},
		{429, "RATE_LIMITED"},
		{503, "UNAVAILABLE"},
		{500, "INTERNAL"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusToCode(tt.status), "status %d", tt.status)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.2.3.4:5", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": "10.0.0.9"}, "1.2.3.4:5", "10.0.0.9"},
		{"remote addr", nil, "1.2.3.4:5678", "1.2.3.4"},
		{"ipv6 remote addr", nil, "[::1]:5678", "[::1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRequest(tt.remote, tt.headers)
			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}
