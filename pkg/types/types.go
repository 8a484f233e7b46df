package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// AuthTier controls how much friction (signature escalation) gates an
// action. Tiers are ordered Low < Medium < High; Low is the
// least-friction setting a user can opt into.
type AuthTier int

const (
	AuthTierLow AuthTier = iota
	AuthTierMedium
	AuthTierHigh
)

// String returns the wire name of the tier.
func (t AuthTier) String() string {
	switch t {
	case AuthTierLow:
		return "low"
	case AuthTierMedium:
		return "medium"
	case AuthTierHigh:
		return "high"
	}
	return fmt.Sprintf("auth_tier(%d)", int(t))
}

// ParseAuthTier parses a wire name into an AuthTier.
func ParseAuthTier(s string) (AuthTier, error) {
	switch strings.ToLower(s) {
	case "low":
		return AuthTierLow, nil
	case "medium":
		return AuthTierMedium, nil
	case "high":
		return AuthTierHigh, nil
	}
	return 0, fmt.Errorf("unknown auth tier: %q", s)
}

// RiskTier is an advisory per-user risk classification. It is carried on
// the account record and surfaced to operators; it does not participate in
// authorization routing.
type RiskTier int

const (
	RiskTierLow RiskTier = iota
	RiskTierModerate
	RiskTierHigh
)

// String returns the wire name of the risk tier.
func (t RiskTier) String() string {
	switch t {
	case RiskTierLow:
		return "low"
	case RiskTierModerate:
		return "moderate"
	case RiskTierHigh:
		return "high"
	}
	return fmt.Sprintf("risk_tier(%d)", int(t))
}

// ParseRiskTier parses a wire name into a RiskTier.
func ParseRiskTier(s string) (RiskTier, error) {
	switch strings.ToLower(s) {
	case "low":
		return RiskTierLow, nil
	case "moderate":
		return RiskTierModerate, nil
	case "high":
		return RiskTierHigh, nil
	}
	return 0, fmt.Errorf("unknown risk tier: %q", s)
}

// SessionState is derived from the account record and the pending PIN
// challenge table; it is never stored.
type SessionState string

const (
	SessionUnregistered SessionState = "unregistered"
	SessionActive       SessionState = "active"
	SessionExpired      SessionState = "expired"
	SessionAwaitingPin  SessionState = "awaiting_pin"
)

// ActionClass identifies a sensitive operation requested through the
// conversational surface.
type ActionClass string

const (
	ActionTransfer      ActionClass = "transfer"
	ActionDeposit       ActionClass = "deposit"
	ActionWithdraw      ActionClass = "withdraw"
	ActionProfileChange ActionClass = "profile_change"
)

// RecipientClass distinguishes recipients already known to the ledger from
// raw external addresses.
type RecipientClass string

const (
	// RecipientInternal is a registered phone-style handle on this ledger.
	RecipientInternal RecipientClass = "internal"
	// RecipientExternal is a raw on-chain address outside the ledger.
	RecipientExternal RecipientClass = "external"
)

// UserAccount is the credential-store row for a registered user. Wallet
// and vault balances live on the ledger and are read through the chain
// client, never persisted here.
type UserAccount struct {
	// Handle is the normalized phone-style identifier (unique).
	Handle string

	// EncryptedPIN is the user's PIN sealed by the configured cipher
	// backend. Never logged, never returned over the API.
	EncryptedPIN []byte

	// WalletAddress is empty until the user registers a wallet. For
	// counterfactual wallets this is the predicted deployment address.
	WalletAddress string

	AuthTier AuthTier
	RiskTier RiskTier

	// LastActivity is the UTC instant of the last authenticated action.
	LastActivity time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// handleRe accepts E.164-style handles: optional +, leading non-zero
// digit, 7-15 digits total.
var handleRe = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)

// NormalizeHandle canonicalizes a phone-style identifier: strips spaces,
// dashes and parentheses, enforces a single leading +.
func NormalizeHandle(raw string) (string, error) {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separators are dropped
		default:
			return "", fmt.Errorf("invalid character %q in handle", r)
		}
	}
	h := b.String()
	if !handleRe.MatchString(h) {
		return "", fmt.Errorf("handle %q is not a valid phone-style identifier", raw)
	}
	if !strings.HasPrefix(h, "+") {
		h = "+" + h
	}
	return h, nil
}
