// Package audit records token lifecycle events: issuance, refresh,
// revocation, impersonation, sweeps. Token secrets never appear in events,
// only fingerprints.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/rs/xid"
)

// Event is one audit record.
type Event struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Action string    `json:"action"`
	// Actor is the user id performing the action. For CI issuance it is the
	// service account the grant resolved to.
	Actor string `json:"actor"`
	// CustomerID scopes the event to one customer. Empty on system events
	// like sweeps.
	CustomerID string `json:"customer_id,omitempty"`
	// TokenID is the refresh token the action concerns, if any.
	TokenID string `json:"token_id,omitempty"`
	// Fingerprint is a non-reversible digest of the secret involved.
	Fingerprint string            `json:"fingerprint,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

// Actions recorded by the service.
const (
	ActionIssue       = "token.issue"
	ActionRefresh     = "token.refresh"
	ActionRevoke      = "token.revoke"
	ActionImpersonate = "token.impersonate"
	ActionExchange    = "code.exchange"
	ActionCodeCreate  = "code.create"
	ActionSweep       = "token.sweep"
)

// Auditor persists audit events. Record must not block request handling for
// long; implementations that talk to slow backends should buffer.
type Auditor interface {
	Record(ctx context.Context, event Event) error
	Close() error
}

// NewEvent stamps an event with a sortable unique id and the current time.
func NewEvent(action, actor string) Event {
	return Event{
		ID:     xid.New().String(),
		Time:   time.Now().UTC(),
		Action: action,
		Actor:  actor,
	}
}

// Fingerprint digests a secret for audit trails. The digest cannot be used
// to authenticate.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawStdEncoding.EncodeToString(sum[:8])
}
