package credential

import (
	"math/rand"
	"sync"

	"rizo-card-bot/internal/platform/errors"
)

// Credential is an opaque upstream API key, compared by value.
type Credential string

// Redacted returns a loggable form of the key: the last four characters
// prefixed with an ellipsis. Short keys redact entirely.
func (c Credential) Redacted() string {
	if len(c) <= 4 {
		return "****"
	}
	return "..." + string(c[len(c)-4:])
}

// Policy selects how the pool rotates across credentials.
type Policy string

const (
	// PolicyRoundRobin spreads the load evenly and is deterministic in tests.
	PolicyRoundRobin Policy = "round_robin"
	PolicyRandom     Policy = "random"
)

// Pool holds the fixed credential set loaded at startup. The rotation cursor
// is the only mutable state and is guarded by a mutex, so concurrent
// generation pipelines may pick credentials safely.
type Pool struct {
	creds  []Credential
	policy Policy

	mu     sync.Mutex
	cursor int
	rng    *rand.Rand
}

// Option customises pool construction.
type Option func(*Pool)

// WithPolicy overrides the default round-robin selection policy.
func WithPolicy(policy Policy) Option {
	return func(p *Pool) {
		if policy != "" {
			p.policy = policy
		}
	}
}

// WithRand injects a random source for the random policy (used in tests).
func WithRand(rng *rand.Rand) Option {
	return func(p *Pool) {
		p.rng = rng
	}
}

// NewPool builds a pool from raw key strings. An empty set is a startup
// configuration error.
func NewPool(keys []string, opts ...Option) (*Pool, error) {
	creds := make([]Credential, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			creds = append(creds, Credential(k))
		}
	}
	if len(creds) == 0 {
		return nil, errors.New(errors.KindConfig, "credential.pool",
			"at least one upstream credential is required")
	}

	p := &Pool{
		creds:  creds,
		policy: PolicyRoundRobin,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Credentials returns a copy of the full credential set.
func (p *Pool) Credentials() []Credential {
	out := make([]Credential, len(p.creds))
	copy(out, p.creds)
	return out
}

// Size reports the number of credentials in the pool.
func (p *Pool) Size() int {
	return len(p.creds)
}

// Next picks a credential that is not in excluding. When every credential is
// excluded it falls back to a bare policy pick over the full set: a retry
// loop must always make progress, even if that means reusing a key that
// already failed.
func (p *Pool) Next(excluding map[Credential]struct{}) Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(excluding) == 0 || allExcluded(p.creds, excluding) {
		return p.pick()
	}

	if p.policy == PolicyRandom {
		candidates := make([]Credential, 0, len(p.creds))
		for _, c := range p.creds {
			if _, tried := excluding[c]; !tried {
				candidates = append(candidates, c)
			}
		}
		return candidates[p.intn(len(candidates))]
	}

	// Round-robin: advance the cursor past excluded entries. Bounded by the
	// pool size since at least one candidate remains.
	for {
		c := p.pick()
		if _, tried := excluding[c]; !tried {
			return c
		}
	}
}

func allExcluded(creds []Credential, excluding map[Credential]struct{}) bool {
	for _, c := range creds {
		if _, tried := excluding[c]; !tried {
			return false
		}
	}
	return true
}

func (p *Pool) intn(n int) int {
	if p.rng != nil {
		return p.rng.Intn(n)
	}
	return rand.Intn(n)
}

func (p *Pool) pick() Credential {
	if p.policy == PolicyRandom {
		return p.creds[p.intn(len(p.creds))]
	}
	c := p.creds[p.cursor%len(p.creds)]
	p.cursor = (p.cursor + 1) % len(p.creds)
	return c
}
