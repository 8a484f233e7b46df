package session

import (
	"regexp"
	"sync"
	"time"
)

const (
	// DefaultChallengeTTL is how long an unanswered PIN challenge stays
	// satisfiable. An expired marker reads as absent; the next sensitive
	// action issues a fresh one.
	DefaultChallengeTTL = 10 * time.Minute

	// MaxPinAttempts is how many wrong PINs a single challenge tolerates
	// before it is invalidated and must be reissued.
	MaxPinAttempts = 5
)

// pinRe accepts 4 to 6 ASCII digits and nothing else.
var pinRe = regexp.MustCompile(`^\d{4,6}$`)

// ValidPinFormat reports whether raw is syntactically a PIN. Callers use
// this to reject garbage without touching the credential store.
func ValidPinFormat(raw string) bool {
	return pinRe.MatchString(raw)
}

// challenge is a pending PIN re-authentication marker.
type challenge struct {
	issuedAt time.Time
	attempts int
}

// ChallengeStore holds per-handle pending PIN challenges in memory. The
// table is deliberately process-local: a challenge is only meaningful to
// the conversation that triggered it, and it must die with the process.
// At most one challenge exists per handle; later issuance overwrites.
type ChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*challenge
	ttl        time.Duration
}

// NewChallengeStore creates a challenge store. A non-positive ttl falls
// back to DefaultChallengeTTL.
func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeStore{
		challenges: make(map[string]*challenge),
		ttl:        ttl,
	}
}

// Issue creates or overwrites the pending challenge for a handle.
func (s *ChallengeStore) Issue(handle string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[handle] = &challenge{issuedAt: now}
}

// Pending reports whether a live challenge exists for the handle. Expired
// markers are removed lazily here; there is no background sweeper.
func (s *ChallengeStore) Pending(handle string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[handle]
	if !ok {
		return false
	}
	if now.Sub(c.issuedAt) >= s.ttl {
		delete(s.challenges, handle)
		return false
	}
	return true
}

// Clear removes the pending challenge for a handle, if any. Called on
// successful PIN verification and on explicit session clears.
func (s *ChallengeStore) Clear(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, handle)
}

// Fail records a wrong-PIN attempt against the pending challenge. It
// returns the remaining attempts; at zero the challenge is invalidated and
// the user must trigger a new one.
func (s *ChallengeStore) Fail(handle string, now time.Time) (remaining int, live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[handle]
	if !ok || now.Sub(c.issuedAt) >= s.ttl {
		delete(s.challenges, handle)
		return 0, false
	}
	c.attempts++
	remaining = MaxPinAttempts - c.attempts
	if remaining <= 0 {
		delete(s.challenges, handle)
		return 0, false
	}
	return remaining, true
}
