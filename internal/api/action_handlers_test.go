package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chat-wallet/chat-wallet/pkg/types"

	apperrors "github.com/chat-wallet/chat-wallet/pkg/errors"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name     string
		req      ActionRequest
		wantErr  bool
		wantType types.ActionClass
	}{
		{
			name:     "transfer with amount",
			req:      ActionRequest{Handle: "+15551234567", Action: "transfer", Recipient: "+15559876543", Amount: "1000"},
			wantType: types.ActionTransfer,
		},
		{
			name:     "profile change with tiers",
			req:      ActionRequest{Handle: "+15551234567", Action: "profile_change", AuthTier: "low", RiskTier: "moderate"},
			wantType: types.ActionProfileChange,
		},
		{
			name:    "unknown action",
			req:     ActionRequest{Handle: "+15551234567", Action: "mint"},
			wantErr: true,
		},
		{
			name:    "zero amount",
			req:     ActionRequest{Handle: "+15551234567", Action: "transfer", Amount: "0"},
			wantErr: true,
		},
		{
			name:    "negative amount",
			req:     ActionRequest{Handle: "+15551234567", Action: "transfer", Amount: "-5"},
			wantErr: true,
		},
		{
			name:    "non-decimal amount",
			req:     ActionRequest{Handle: "+15551234567", Action: "transfer", Amount: "0x10"},
			wantErr: true,
		},
		{
			name:    "unknown auth tier",
			req:     ActionRequest{Handle: "+15551234567", Action: "profile_change", AuthTier: "extreme"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, params, err := parseAction(&tt.req)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, action)
			if tt.req.Amount != "" {
				assert.Equal(t, 0, params.Amount.Cmp(mustBig(t, tt.req.Amount)))
			}
			if tt.req.AuthTier != "" {
				require.NotNil(t, params.AuthTier)
				assert.Equal(t, tt.req.AuthTier, params.AuthTier.String())
			}
		})
	}
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return v
}

func TestWriteError(t *testing.T) {
	s := &Server{}

	t.Run("app error passes through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.writeError(rec, apperrors.StaleNonce(1, 2))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, apperrors.ErrCodeStaleNonce, body["code"])
	})

	t.Run("plain error is masked as internal", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.writeError(rec, assert.AnError)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, apperrors.ErrCodeInternalError, body["code"])
		assert.Empty(t, body["detail"], "internal detail must not leak")
	})
}

func TestHandleHealth(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
