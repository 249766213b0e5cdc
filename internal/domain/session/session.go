package session

import (
	"context"
	"sync"
	"time"

	"rizo-card-bot/internal/platform/errors"
)

// State is the per-user position in the generation protocol.
type State string

const (
	StateIdle       State = "idle"
	StateArmed      State = "armed"
	StateGenerating State = "generating"
)

// Snapshot is the persisted per-user session record.
type Snapshot struct {
	State State `json:"state"`
	// LastCompleted anchors the cooldown window. It is only advanced on a
	// successful generation, so failed pipelines never consume the user's
	// cooldown allowance.
	LastCompleted time.Time `json:"last_completed"`
	// ArmedUntil is the expiry of the armed window; an image arriving after
	// it is treated as if the user never armed.
	ArmedUntil time.Time `json:"armed_until"`
}

// Outcome classifies a protocol decision.
type Outcome string

const (
	OutcomeArmed    Outcome = "armed"
	OutcomeBegin    Outcome = "begin"
	OutcomeCooldown Outcome = "cooldown"
	OutcomeNotArmed Outcome = "not_armed"
	OutcomeBusy     Outcome = "busy"
)

// Decision reports the result of a gate check. Remaining is only meaningful
// for OutcomeCooldown.
type Decision struct {
	Outcome   Outcome
	Remaining time.Duration
}

// Options configures a Manager.
type Options struct {
	Store     Store
	Cooldown  time.Duration
	ArmWindow time.Duration
	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

// Manager drives the Idle -> Armed -> Generating -> Idle state machine.
// Transitions for a single user are serialised by a per-user lock, which
// also upholds the at-most-one-generation-in-flight invariant.
type Manager struct {
	store     Store
	cooldown  time.Duration
	armWindow time.Duration
	now       func() time.Time

	locks sync.Map // userID -> *sync.Mutex
}

// NewManager validates options and builds a manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New(errors.KindBootstrap, "session.manager", "store is required")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:     opts.Store,
		cooldown:  opts.Cooldown,
		armWindow: opts.ArmWindow,
		now:       now,
	}, nil
}

func (m *Manager) lock(userID int64) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (m *Manager) snapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	snap, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		snap = &Snapshot{State: StateIdle}
	}
	return snap, nil
}

func (m *Manager) cooldownRemaining(snap *Snapshot, now time.Time) time.Duration {
	if snap.LastCompleted.IsZero() || m.cooldown <= 0 {
		return 0
	}
	elapsed := now.Sub(snap.LastCompleted)
	if elapsed >= m.cooldown {
		return 0
	}
	return m.cooldown - elapsed
}

// Arm moves an idle user (or one refreshing an existing window) into the
// armed state, provided their cooldown has elapsed. Used both by the explicit
// generate command and the "create another" callback.
func (m *Manager) Arm(ctx context.Context, userID int64) (Decision, error) {
	mu := m.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	snap, err := m.snapshot(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	now := m.now()
	if snap.State == StateGenerating {
		return Decision{Outcome: OutcomeBusy}, nil
	}
	if remaining := m.cooldownRemaining(snap, now); remaining > 0 {
		return Decision{Outcome: OutcomeCooldown, Remaining: remaining}, nil
	}

	snap.State = StateArmed
	snap.ArmedUntil = now.Add(m.armWindow)
	if err := m.store.Put(ctx, userID, snap); err != nil {
		return Decision{}, err
	}
	return Decision{Outcome: OutcomeArmed}, nil
}

// BeginGeneration admits an incoming image. Only an armed user with an
// unexpired window may enter the generating state; everyone else is told to
// re-issue the generate command. An expired window counts as never armed.
func (m *Manager) BeginGeneration(ctx context.Context, userID int64) (Decision, error) {
	mu := m.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	snap, err := m.snapshot(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	now := m.now()
	switch snap.State {
	case StateGenerating:
		return Decision{Outcome: OutcomeBusy}, nil
	case StateArmed:
		if now.After(snap.ArmedUntil) {
			snap.State = StateIdle
			snap.ArmedUntil = time.Time{}
			if err := m.store.Put(ctx, userID, snap); err != nil {
				return Decision{}, err
			}
			return Decision{Outcome: OutcomeNotArmed}, nil
		}
	default:
		return Decision{Outcome: OutcomeNotArmed}, nil
	}

	snap.State = StateGenerating
	snap.ArmedUntil = time.Time{}
	if err := m.store.Put(ctx, userID, snap); err != nil {
		return Decision{}, err
	}
	return Decision{Outcome: OutcomeBegin}, nil
}

// Complete returns a generating user to idle. The cooldown anchor advances
// only on success, and is set at completion time rather than request time so
// a slow retry-laden generation does not shorten the effective cooldown.
func (m *Manager) Complete(ctx context.Context, userID int64, success bool) error {
	mu := m.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	snap, err := m.snapshot(ctx, userID)
	if err != nil {
		return err
	}

	snap.State = StateIdle
	snap.ArmedUntil = time.Time{}
	if success {
		snap.LastCompleted = m.now()
	}
	return m.store.Put(ctx, userID, snap)
}

// CooldownRemaining reports the wait the user faces before the next arm.
func (m *Manager) CooldownRemaining(ctx context.Context, userID int64) (time.Duration, error) {
	mu := m.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	snap, err := m.snapshot(ctx, userID)
	if err != nil {
		return 0, err
	}
	return m.cooldownRemaining(snap, m.now()), nil
}
