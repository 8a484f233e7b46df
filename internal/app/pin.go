package app

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/chat-wallet/chat-wallet/internal/logger"
	"github.com/chat-wallet/chat-wallet/internal/metrics"
	"github.com/chat-wallet/chat-wallet/internal/session"
	"github.com/chat-wallet/chat-wallet/pkg/types"

	apperrors "github.com/chat-wallet/chat-wallet/pkg/errors"
)

// SubmitPin verifies a PIN submitted against a pending challenge.
//
// Syntactically invalid input is rejected without touching the credential
// store. A wrong PIN leaves the challenge open until the attempt cap; a
// correct PIN clears it and refreshes the session. Brute force beyond the
// per-challenge cap is additionally throttled by the outer rate limiter.
func (s *ActionService) SubmitPin(ctx context.Context, rawHandle, rawPin string, now time.Time) (*Result, error) {
	handle, err := types.NormalizeHandle(rawHandle)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), 400)
	}
	ctx = logger.WithHandle(ctx, handle)

	if !s.challenges.Pending(handle, now) {
		return nil, apperrors.New(apperrors.ErrCodeBadRequest, "no pending PIN challenge", 400)
	}

	// Cheap rejection: no store round trip for garbage input.
	if !session.ValidPinFormat(rawPin) {
		metrics.PinFailuresTotal.WithLabelValues("format").Inc()
		return nil, apperrors.ErrInvalidPinFormat
	}

	account, err := s.accounts.GetByHandle(ctx, handle)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if account == nil {
		return nil, apperrors.NotRegistered(handle)
	}

	storedPin, err := s.cipher.Decrypt(ctx, account.EncryptedPIN)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	if subtle.ConstantTimeCompare(storedPin, []byte(rawPin)) != 1 {
		remaining, live := s.challenges.Fail(handle, now)
		if !live {
			metrics.PinFailuresTotal.WithLabelValues("exhausted").Inc()
			logger.Warn(ctx, "PIN challenge exhausted")
			return nil, apperrors.ErrPinAttemptsExceeded
		}
		metrics.PinFailuresTotal.WithLabelValues("mismatch").Inc()
		logger.Warn(ctx, "incorrect PIN", "attempts_remaining", remaining)
		return nil, apperrors.ErrIncorrectPin
	}

	s.challenges.Clear(handle)
	if err := s.accounts.UpdateLastActivity(ctx, handle, now); err != nil {
		// The challenge is already consumed; reissue so the user is not
		// stuck half-authenticated behind a store hiccup.
		s.challenges.Issue(handle, now)
		return nil, apperrors.StoreUnavailable(err)
	}

	logger.Info(ctx, "PIN accepted, session refreshed")
	return &Result{
		Status:  StatusPinAccepted,
		Message: "PIN accepted. You can retry your request now.",
	}, nil
}
