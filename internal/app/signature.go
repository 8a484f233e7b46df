package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chat-wallet/chat-wallet/internal/ledger"
	"github.com/chat-wallet/chat-wallet/internal/logger"
	"github.com/chat-wallet/chat-wallet/internal/metrics"
	"github.com/chat-wallet/chat-wallet/internal/storage"
	"github.com/chat-wallet/chat-wallet/pkg/typeddata"
	"github.com/chat-wallet/chat-wallet/pkg/types"

	apperrors "github.com/chat-wallet/chat-wallet/pkg/errors"
)

// SubmitSignature completes an escalated action. The signing surface posts
// back the action parameters, the nonce the user signed over, and the
// signature. The server re-derives the typed-data request from its own
// state and verifies the signature against it; nothing the client sent is
// trusted beyond the raw parameters.
//
// The nonce is checked against the live ledger nonce first: a stale nonce
// means a replay or a lost race, and the client must refetch and re-sign.
func (s *ActionService) SubmitSignature(ctx context.Context, rawHandle string, action types.ActionClass, params ActionParams, signedNonce uint64, sig []byte, now time.Time) (*Result, error) {
	handle, err := types.NormalizeHandle(rawHandle)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), 400)
	}
	ctx = logger.WithHandle(ctx, handle)

	account, err := s.accounts.GetByHandle(ctx, handle)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if account == nil {
		return nil, apperrors.NotRegistered(handle)
	}

	wallet, err := walletAddress(account)
	if err != nil {
		return nil, err
	}

	rcpt, err := s.resolveRecipient(ctx, account, action, params)
	if err != nil {
		return nil, err
	}

	live, err := s.ledger.Nonce(ctx, wallet)
	if err != nil {
		return nil, apperrors.LedgerRevert(fmt.Sprintf("failed to read nonce: %v", err))
	}
	if signedNonce != live {
		metrics.SignatureVerificationsTotal.WithLabelValues("stale_nonce").Inc()
		logger.Warn(ctx, "stale signed nonce", "action", action, "signed", signedNonce, "live", live)
		return nil, apperrors.StaleNonce(signedNonce, live)
	}

	req, err := typeddata.Build(s.domain, action, sigParams(params, rcpt), signedNonce)
	if err != nil {
		return nil, apperrors.PolicyDenied(err.Error())
	}

	if err := typeddata.Verify(wallet, req, sig); err != nil {
		metrics.SignatureVerificationsTotal.WithLabelValues("invalid").Inc()
		logger.Warn(ctx, "signature verification failed", "action", action, "error", err)
		return nil, err
	}
	metrics.SignatureVerificationsTotal.WithLabelValues("ok").Inc()

	call := ledger.Call{
		Action: action,
		From:   wallet,
		To:     rcpt.address,
		Amount: params.Amount,
		Nonce:  signedNonce,
	}
	if params.AuthTier != nil {
		call.AuthTier = *params.AuthTier
	}
	if params.RiskTier != nil {
		call.RiskTier = *params.RiskTier
	}

	receipt, err := s.ledger.SubmitSigned(ctx, call, sig)
	if err != nil {
		if errors.Is(err, ledger.ErrReverted) {
			s.recordTransaction(ctx, handle, action, TxRouteSignature, params, rcpt, nil, storage.TxStatusReverted, err.Error())
			metrics.ActionsTotal.WithLabelValues(string(action), "rejected").Inc()
			return nil, apperrors.LedgerRevert(err.Error())
		}
		return nil, apperrors.ErrInternalError
	}

	s.recordTransaction(ctx, handle, action, TxRouteSignature, params, rcpt, receipt, storage.TxStatusConfirmed, "")
	metrics.ActionsTotal.WithLabelValues(string(action), "executed").Inc()

	// The ledger accepted the profile change; mirror it into the account
	// record so policy decisions see the new tiers immediately.
	if action == types.ActionProfileChange && params.AuthTier != nil && params.RiskTier != nil {
		if err := s.accounts.UpdateTiers(ctx, handle, *params.AuthTier, *params.RiskTier); err != nil {
			logger.Error(ctx, "failed to mirror new tiers", "error", err)
		}
	}

	// A completed signature is strong proof of presence.
	if err := s.accounts.UpdateLastActivity(ctx, handle, now); err != nil {
		logger.Error(ctx, "failed to refresh last activity", "error", err)
	}

	logger.Info(ctx, "signed action executed", "action", action, "tx_hash", receipt.TxHash)
	return &Result{
		Status:  StatusExecuted,
		Message: fmt.Sprintf("Approved. Transaction %s confirmed in block %d.", receipt.TxHash, receipt.BlockNumber),
		TxHash:  receipt.TxHash,
	}, nil
}
