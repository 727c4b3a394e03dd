package token

// State is the lifecycle state of a refresh token. Transitions are monotonic:
// Active may move to Expired or Revoked, and the terminal states absorb.
type State string

const (
	StateActive  State = "active"
	StateExpired State = "expired"
	StateRevoked State = "revoked"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateExpired, StateRevoked:
		return true
	}
	return false
}

// Terminal reports whether s is an absorbing state.
func (s State) Terminal() bool {
	return s == StateExpired || s == StateRevoked
}

// CanTransition reports whether moving from s to next is allowed. Active may
// move to either terminal state, and Expired may still be revoked for
// bookkeeping. Revoked absorbs everything; a self-transition is not a
// transition.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateActive:
		return next.Terminal()
	case StateExpired:
		return next == StateRevoked
	}
	return false
}

// Kind distinguishes browser/UI session tokens from API/CI tokens.
type Kind string

const (
	KindUI  Kind = "ui"
	KindAPI Kind = "api"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindUI || k == KindAPI
}
