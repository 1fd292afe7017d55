package guard

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"workchain/core/state"
	"workchain/core/types"
)

var (
	ErrPaused        = errors.New("guard: contract paused")
	ErrNotPaused     = errors.New("guard: contract not paused")
	ErrAlreadyPaused = errors.New("guard: contract already paused")
	ErrReentrancy    = errors.New("guard: reentrant call rejected")
	ErrBlocked       = errors.New("guard: address blocked")
	ErrNotBlocked    = errors.New("guard: address not blocked")
	ErrAlreadyBlock  = errors.New("guard: address already blocked")

	errNilStore = errors.New("guard: storage not configured")
)

var (
	pausedKey      = []byte("guard/paused")
	reentrancyKey  = []byte("guard/reentrancy")
	blockedPrefix  = []byte("guard/blocked/")
	metricsKey     = []byte("guard/metrics")
	rateLimitPref  = []byte("guard/ratelimit/")
	maxBlockReason = 500
)

// storage is the subset of state functionality the guard layer relies on.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Delete(key []byte) error
	ScanPrefix(prefix []byte, opts state.ScanOptions, fn func(key, value []byte) bool) error
}

// BlockedAddress records an administrator block. Presence of the record
// rejects every mutating call from the address.
type BlockedAddress struct {
	Address   types.Address `json:"address"`
	Reason    string        `json:"reason,omitempty"`
	BlockedAt int64         `json:"blockedAt"`
}

// Metrics aggregates security counters persisted alongside the ledgers.
type Metrics struct {
	TotalEscrows        uint64          `json:"totalEscrows"`
	TotalDisputes       uint64          `json:"totalDisputes"`
	RateLimitViolations uint64          `json:"rateLimitViolations"`
	BlockedAddresses    []types.Address `json:"blockedAddresses"`
	LastUpdated         int64           `json:"lastUpdated"`
}

// Guard runs the security pipeline for the call it is bound to: pause switch,
// blocklist, reentrancy flag, and the per-actor rate limiter.
type Guard struct {
	store storage
}

// New binds the guard to a state view.
func New(store storage) *Guard {
	return &Guard{store: store}
}

func blockedKey(addr types.Address) []byte {
	return append(append([]byte(nil), blockedPrefix...), hex.EncodeToString(addr[:])...)
}

// Paused reports the pause switch state.
func (g *Guard) Paused() (bool, error) {
	if g == nil || g.store == nil {
		return false, errNilStore
	}
	var paused bool
	if _, err := g.store.KVGet(pausedKey, &paused); err != nil {
		return false, err
	}
	return paused, nil
}

// Pause flips the pause switch on. Pausing an already-paused contract fails.
func (g *Guard) Pause() error {
	paused, err := g.Paused()
	if err != nil {
		return err
	}
	if paused {
		return ErrAlreadyPaused
	}
	return g.store.KVPut(pausedKey, true)
}

// Unpause flips the pause switch off.
func (g *Guard) Unpause() error {
	paused, err := g.Paused()
	if err != nil {
		return err
	}
	if !paused {
		return ErrNotPaused
	}
	return g.store.KVPut(pausedKey, false)
}

// EnterReentrancy sets the in-storage guard flag, rejecting the call when a
// prior mutating call has not yet committed. The flag write rides the call's
// transaction, so an aborted call can never leave it stuck.
func (g *Guard) EnterReentrancy() error {
	if g == nil || g.store == nil {
		return errNilStore
	}
	var entered bool
	if _, err := g.store.KVGet(reentrancyKey, &entered); err != nil {
		return err
	}
	if entered {
		return ErrReentrancy
	}
	return g.store.KVPut(reentrancyKey, true)
}

// ExitReentrancy clears the guard flag on the call's success path.
func (g *Guard) ExitReentrancy() error {
	if g == nil || g.store == nil {
		return errNilStore
	}
	return g.store.KVPut(reentrancyKey, false)
}

// IsBlocked reports whether the address is on the blocklist.
func (g *Guard) IsBlocked(addr types.Address) (bool, error) {
	if g == nil || g.store == nil {
		return false, errNilStore
	}
	var rec BlockedAddress
	ok, err := g.store.KVGet(blockedKey(addr), &rec)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Block adds an address to the blocklist with a short reason.
func (g *Guard) Block(addr types.Address, reason string, now int64) error {
	if g == nil || g.store == nil {
		return errNilStore
	}
	if len(reason) == 0 || len(reason) > maxBlockReason {
		return fmt.Errorf("guard: block reason must be between 1 and %d characters", maxBlockReason)
	}
	blocked, err := g.IsBlocked(addr)
	if err != nil {
		return err
	}
	if blocked {
		return ErrAlreadyBlock
	}
	return g.store.KVPut(blockedKey(addr), BlockedAddress{Address: addr, Reason: reason, BlockedAt: now})
}

// Unblock removes an address from the blocklist.
func (g *Guard) Unblock(addr types.Address) error {
	if g == nil || g.store == nil {
		return errNilStore
	}
	blocked, err := g.IsBlocked(addr)
	if err != nil {
		return err
	}
	if !blocked {
		return ErrNotBlocked
	}
	return g.store.Delete(blockedKey(addr))
}

// BlockedAddresses lists every blocklist record in address order.
func (g *Guard) BlockedAddresses() ([]BlockedAddress, error) {
	if g == nil || g.store == nil {
		return nil, errNilStore
	}
	out := make([]BlockedAddress, 0)
	var scanErr error
	err := g.store.ScanPrefix(blockedPrefix, state.ScanOptions{}, func(_, value []byte) bool {
		var rec BlockedAddress
		if err := json.Unmarshal(value, &rec); err != nil {
			scanErr = fmt.Errorf("guard: decode blocklist entry: %w", err)
			return false
		}
		out = append(out, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

// Metrics loads the persisted aggregate counters, filling in the current
// blocklist.
func (g *Guard) Metrics() (*Metrics, error) {
	if g == nil || g.store == nil {
		return nil, errNilStore
	}
	metrics := new(Metrics)
	if _, err := g.store.KVGet(metricsKey, metrics); err != nil {
		return nil, err
	}
	blocked, err := g.BlockedAddresses()
	if err != nil {
		return nil, err
	}
	metrics.BlockedAddresses = make([]types.Address, 0, len(blocked))
	for _, rec := range blocked {
		metrics.BlockedAddresses = append(metrics.BlockedAddresses, rec.Address)
	}
	return metrics, nil
}

func (g *Guard) updateMetrics(now int64, mutate func(*Metrics)) error {
	metrics := new(Metrics)
	if _, err := g.store.KVGet(metricsKey, metrics); err != nil {
		return err
	}
	mutate(metrics)
	metrics.LastUpdated = now
	metrics.BlockedAddresses = nil
	return g.store.KVPut(metricsKey, metrics)
}

// CountEscrow bumps the escrow total after a successful creation.
func (g *Guard) CountEscrow(now int64) error {
	return g.updateMetrics(now, func(m *Metrics) { m.TotalEscrows++ })
}

// CountDispute bumps the dispute total after a successful raise.
func (g *Guard) CountDispute(now int64) error {
	return g.updateMetrics(now, func(m *Metrics) { m.TotalDisputes++ })
}

// CountRateLimitViolation bumps the violation total. The host records it in
// the same follow-up transaction as the failed-attempt audit entry, outside
// the aborted call, so the count survives the rollback.
func (g *Guard) CountRateLimitViolation(now int64) error {
	return g.updateMetrics(now, func(m *Metrics) { m.RateLimitViolations++ })
}
