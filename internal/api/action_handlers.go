package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/chat-wallet/chat-wallet/internal/app"
	"github.com/chat-wallet/chat-wallet/pkg/types"

	apperrors "github.com/chat-wallet/chat-wallet/pkg/errors"
)

// ActionRequest is a conversational command parsed by the transport.
type ActionRequest struct {
	Handle string `json:"handle"`
	Action string `json:"action"`

	// Recipient is a handle, a contact alias or a 0x address.
	Recipient string `json:"recipient,omitempty"`

	// Amount in base units, as a decimal string.
	Amount string `json:"amount,omitempty"`

	// Requested profile values (profile_change only).
	AuthTier string `json:"auth_tier,omitempty"`
	RiskTier string `json:"risk_tier,omitempty"`
}

// SignatureRequest completes an escalated action from the signing surface.
type SignatureRequest struct {
	ActionRequest

	// Nonce is the ledger nonce the user signed over.
	Nonce uint64 `json:"nonce"`

	// Signature is the 0x-prefixed hex signature, possibly carrying a
	// deployment wrapper.
	Signature string `json:"signature"`
}

// PinRequest is a PIN submission against a pending challenge.
type PinRequest struct {
	Handle string `json:"handle"`
	Pin    string `json:"pin"`
}

// handleActions handles POST /v1/actions
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, errMethodNotAllowed)
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeBadRequest, "Invalid JSON body", http.StatusBadRequest))
		return
	}

	action, params, err := parseAction(&req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.actions.HandleAction(r.Context(), req.Handle, action, params, time.Now().UTC())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handlePin handles POST /v1/pin
func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, errMethodNotAllowed)
		return
	}

	var req PinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeBadRequest, "Invalid JSON body", http.StatusBadRequest))
		return
	}

	result, err := s.actions.SubmitPin(r.Context(), req.Handle, req.Pin, time.Now().UTC())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleSignatures handles POST /v1/signatures
func (s *Server) handleSignatures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, errMethodNotAllowed)
		return
	}

	var req SignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeBadRequest, "Invalid JSON body", http.StatusBadRequest))
		return
	}

	action, params, err := parseAction(&req.ActionRequest)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sig, decodeErr := hexutil.Decode(req.Signature)
	if decodeErr != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeBadRequest, "Signature must be 0x-prefixed hex", http.StatusBadRequest))
		return
	}

	result, err := s.actions.SubmitSignature(r.Context(), req.Handle, action, params, req.Nonce, sig, time.Now().UTC())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// parseAction validates the request's action class and parameters.
func parseAction(req *ActionRequest) (types.ActionClass, app.ActionParams, error) {
	var params app.ActionParams

	action := types.ActionClass(req.Action)
	switch action {
	case types.ActionTransfer, types.ActionDeposit, types.ActionWithdraw, types.ActionProfileChange:
	default:
		return "", params, apperrors.New(apperrors.ErrCodeBadRequest, "Unknown action class", http.StatusBadRequest)
	}

	params.Recipient = req.Recipient

	if req.Amount != "" {
		amount, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			return "", params, apperrors.New(apperrors.ErrCodeBadRequest, "Amount must be a positive decimal string", http.StatusBadRequest)
		}
		params.Amount = amount
	}

	if req.AuthTier != "" {
		tier, err := types.ParseAuthTier(req.AuthTier)
		if err != nil {
			return "", params, apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), http.StatusBadRequest)
		}
		params.AuthTier = &tier
	}
	if req.RiskTier != "" {
		tier, err := types.ParseRiskTier(req.RiskTier)
		if err != nil {
			return "", params, apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), http.StatusBadRequest)
		}
		params.RiskTier = &tier
	}

	return action, params, nil
}
