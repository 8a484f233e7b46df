// Package metrics exposes Prometheus counters for the authorization core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActionsTotal counts handled actions by class and outcome
	// (executed, escalated, pin_required, rejected).
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatwallet",
		Name:      "actions_total",
		Help:      "Handled conversational actions by class and outcome.",
	}, []string{"action", "outcome"})

	// EscalationsTotal counts signature escalations by action class.
	EscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatwallet",
		Name:      "escalations_total",
		Help:      "Actions escalated to user-signed approval.",
	}, []string{"action"})

	// PinFailuresTotal counts rejected PIN submissions by reason
	// (format, mismatch, exhausted).
	PinFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatwallet",
		Name:      "pin_failures_total",
		Help:      "Rejected PIN submissions by reason.",
	}, []string{"reason"})

	// SignatureVerificationsTotal counts signature verifications by result
	// (ok, invalid, stale_nonce, malformed).
	SignatureVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatwallet",
		Name:      "signature_verifications_total",
		Help:      "Typed-data signature verifications by result.",
	}, []string{"result"})
)
