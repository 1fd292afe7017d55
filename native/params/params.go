package params

import (
	"errors"
	"fmt"
	"math/big"

	"workchain/core/types"
	"workchain/native/fees"
)

// DefaultDisputePeriodSeconds is seven days, matching the marketplace dispute
// window applied when no override is configured.
const DefaultDisputePeriodSeconds = 7 * 24 * 60 * 60

var paramsKey = []byte("params/platform")

var errNilStore = errors.New("params: storage not configured")

// ErrNotInitialised marks a load before genesis wrote the platform params.
var ErrNotInitialised = errors.New("params: platform params not initialised")

// storage is the subset of state functionality the parameter store needs.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Platform holds the governance-controlled marketplace parameters. They are
// written once at genesis and afterwards mutated only by the administrator's
// update operation, inside a call's atomic scope.
type Platform struct {
	Admin                types.Address `json:"admin"`
	FeeRecipient         types.Address `json:"feeRecipient"`
	PlatformFeePercent   uint64        `json:"platformFeePercent"`
	MinEscrowAmount      *big.Int      `json:"minEscrowAmount"`
	DisputePeriodSeconds int64         `json:"disputePeriodSeconds"`
	NativeDenom          string        `json:"nativeDenom"`
}

// Validate enforces the platform-level bounds, including the hard fee ceiling
// applied at genesis and on every update.
func (p *Platform) Validate() error {
	if p == nil {
		return errors.New("params: platform params required")
	}
	if p.Admin.IsZero() {
		return errors.New("params: admin address required")
	}
	if p.FeeRecipient.IsZero() {
		return errors.New("params: fee recipient required")
	}
	if err := fees.ValidatePlatformFee(p.PlatformFeePercent); err != nil {
		return err
	}
	if p.MinEscrowAmount == nil || p.MinEscrowAmount.Sign() < 0 {
		return errors.New("params: minimum escrow amount must be non-negative")
	}
	if p.DisputePeriodSeconds <= 0 {
		return errors.New("params: dispute period must be positive")
	}
	if p.NativeDenom == "" {
		return errors.New("params: native denom required")
	}
	return nil
}

// Clone deep-copies the parameters.
func (p *Platform) Clone() *Platform {
	if p == nil {
		return nil
	}
	out := *p
	if p.MinEscrowAmount != nil {
		out.MinEscrowAmount = new(big.Int).Set(p.MinEscrowAmount)
	} else {
		out.MinEscrowAmount = big.NewInt(0)
	}
	return &out
}

// Store provides typed access to the persisted platform parameters.
type Store struct {
	store storage
}

// NewStore binds the parameter store to a state view.
func NewStore(store storage) *Store {
	return &Store{store: store}
}

// Load returns the persisted parameters.
func (s *Store) Load() (*Platform, error) {
	if s == nil || s.store == nil {
		return nil, errNilStore
	}
	platform := new(Platform)
	ok, err := s.store.KVGet(paramsKey, platform)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialised
	}
	return platform, nil
}

// Save validates and persists the parameters.
func (s *Store) Save(platform *Platform) error {
	if s == nil || s.store == nil {
		return errNilStore
	}
	if err := platform.Validate(); err != nil {
		return fmt.Errorf("params: invalid platform params: %w", err)
	}
	return s.store.KVPut(paramsKey, platform)
}
