// Package policy routes sensitive actions either to immediate relayed
// execution or to a user-signed escalation, based on the user's
// authorization tier.
package policy

import (
	"fmt"

	"github.com/chat-wallet/chat-wallet/pkg/types"
)

// Route is the evaluation verdict.
type Route int

const (
	// RequireUserSignature escalates the action to a user-signed,
	// nonce-scoped approval collected on the signing surface.
	RequireUserSignature Route = iota
	// ExecuteImmediately lets the relay signer perform the action now.
	ExecuteImmediately
)

// String returns the wire name of the route.
func (r Route) String() string {
	if r == ExecuteImmediately {
		return "execute_immediately"
	}
	return "require_user_signature"
}

// Decision is the result of policy evaluation. It is a pure value,
// computed per request and never persisted.
type Decision struct {
	Route  Route
	Reason string
}

// tierNone sits below every real tier: rows carrying it can never be
// executed immediately, whatever the user opted into.
const tierNone types.AuthTier = -1

// thresholds is the authorization table: the most permissive tier that may
// still execute the action immediately, per action and recipient class.
// Moving between known ledger handles is lower blast-radius than sending
// to a raw external address, so internal rows carry the looser threshold.
// Adding an action class is a row here, not a new branch.
var thresholds = map[types.ActionClass]map[types.RecipientClass]types.AuthTier{
	types.ActionTransfer: {
		types.RecipientInternal: types.AuthTierMedium,
		types.RecipientExternal: types.AuthTierLow,
	},
	types.ActionDeposit: {
		types.RecipientInternal: types.AuthTierMedium,
		types.RecipientExternal: types.AuthTierLow,
	},
	types.ActionWithdraw: {
		types.RecipientInternal: types.AuthTierMedium,
		types.RecipientExternal: types.AuthTierLow,
	},
	types.ActionProfileChange: {
		types.RecipientInternal: tierNone,
		types.RecipientExternal: tierNone,
	},
}

// Decide maps (action class, recipient class, user auth tier) to a
// routing decision. Unknown action or recipient classes fail safe to
// signature escalation.
func Decide(action types.ActionClass, recipient types.RecipientClass, tier types.AuthTier) Decision {
	row, ok := thresholds[action]
	if !ok {
		return Decision{
			Route:  RequireUserSignature,
			Reason: fmt.Sprintf("unrecognized action class %q - fail-safe escalation", action),
		}
	}

	threshold, ok := row[recipient]
	if !ok {
		return Decision{
			Route:  RequireUserSignature,
			Reason: fmt.Sprintf("unrecognized recipient class %q - fail-safe escalation", recipient),
		}
	}

	if threshold == tierNone {
		return Decision{
			Route:  RequireUserSignature,
			Reason: fmt.Sprintf("%s always requires an explicit user signature", action),
		}
	}

	if tier <= threshold {
		return Decision{
			Route:  ExecuteImmediately,
			Reason: fmt.Sprintf("auth tier %s within %s threshold for %s recipient", tier, threshold, recipient),
		}
	}

	return Decision{
		Route:  RequireUserSignature,
		Reason: fmt.Sprintf("auth tier %s above %s threshold for %s recipient", tier, threshold, recipient),
	}
}
