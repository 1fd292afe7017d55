package escrow

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"workchain/core/events"
	"workchain/core/types"
	"workchain/native/fees"
	"workchain/native/params"
)

var (
	ErrNotFound        = errors.New("escrow: escrow not found")
	ErrAlreadyExists   = errors.New("escrow: escrow already exists for subject")
	ErrAlreadyReleased = errors.New("escrow: escrow already released")
	ErrDisputeActive   = errors.New("escrow: dispute period active")
	ErrUnauthorized    = errors.New("escrow: unauthorized caller")

	errNilState  = errors.New("escrow: state not configured")
	errNilParams = errors.New("escrow: platform params not configured")
	errNilOracle = errors.New("escrow: subject oracle not configured")
)

// InsufficientFundsError reports a mismatch between the requested escrow
// total and the funds actually attached to the call.
type InsufficientFundsError struct {
	Expected *big.Int
	Actual   *big.Int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("escrow: attached funds %s do not match requested total %s", e.Actual, e.Expected)
}

// AmountTooLowError reports a total below the configured platform minimum.
type AmountTooLowError struct {
	Min *big.Int
}

func (e *AmountTooLowError) Error() string {
	return fmt.Sprintf("escrow: amount below configured minimum %s", e.Min)
}

// storage is the subset of state functionality the escrow ledger needs.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// SubjectOracle answers existence, ownership and status questions about jobs
// and bounties. The job module owns those records; the ledger only consults
// them.
type SubjectOracle interface {
	SubjectInfo(ref types.SubjectRef) (types.SubjectInfo, bool, error)
}

var (
	itemPrefix    = []byte("escrow/item/")
	subjectPrefix = []byte("escrow/subject/")
)

func itemKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", itemPrefix, id))
}

// subjectKey derives the index key from the structured subject tuple. The
// kind byte and fixed-width id cannot collide or mis-parse the way a
// string-joined composite would.
func subjectKey(ref types.SubjectRef) []byte {
	return []byte(fmt.Sprintf("%s%02x/%020d", subjectPrefix, uint8(ref.Kind), ref.ID))
}

func escrowID(ref types.SubjectRef, payer, beneficiary types.Address) [32]byte {
	var seed bytes.Buffer
	seed.WriteByte(byte(ref.Kind))
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], ref.ID)
	seed.Write(idBytes[:])
	seed.Write(payer[:])
	seed.Write(beneficiary[:])
	return ethcrypto.Keccak256Hash(seed.Bytes())
}

// Engine wires the escrow custody logic with external state, the subject
// oracle and an event emitter. Payments are never applied inside a call: the
// mutating operations return queued payment messages for the host to execute
// after the call commits.
type Engine struct {
	store   storage
	oracle  SubjectOracle
	params  *params.Platform
	emitter events.Emitter
}

// NewEngine creates an escrow engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetStore binds the engine to the current call's state view.
func (e *Engine) SetStore(store storage) { e.store = store }

// SetOracle configures the subject oracle consulted for ownership and status.
func (e *Engine) SetOracle(oracle SubjectOracle) { e.oracle = oracle }

// SetParams supplies the platform parameters in force for the current call.
func (e *Engine) SetParams(p *params.Platform) { e.params = p }

// SetEmitter configures the event emitter. Passing nil restores the no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil {
		return errNilState
	}
	if e.params == nil {
		return errNilParams
	}
	return nil
}

// Get loads an escrow by identifier.
func (e *Engine) Get(id [32]byte) (*Escrow, bool, error) {
	if e == nil || e.store == nil {
		return nil, false, errNilState
	}
	esc := new(Escrow)
	ok, err := e.store.KVGet(itemKey(id), esc)
	if err != nil || !ok {
		return nil, false, err
	}
	return esc, true, nil
}

// BySubject resolves the escrow bound to a subject, if one exists.
func (e *Engine) BySubject(ref types.SubjectRef) (*Escrow, bool, error) {
	if e == nil || e.store == nil {
		return nil, false, errNilState
	}
	var id [32]byte
	ok, err := e.store.KVGet(subjectKey(ref), &id)
	if err != nil || !ok {
		return nil, false, err
	}
	return e.Get(id)
}

func (e *Engine) load(id [32]byte) (*Escrow, error) {
	esc, ok, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) put(esc *Escrow) error {
	return e.store.KVPut(itemKey(esc.ID), esc)
}

// Create validates the attached funds against the requested total, splits the
// platform fee, and persists a new custody record for the subject. Exactly
// one escrow may exist per subject.
func (e *Engine) Create(ref types.SubjectRef, payer, beneficiary types.Address, total *big.Int, attached Funds, now int64) (*Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.oracle == nil {
		return nil, errNilOracle
	}
	if !ref.Valid() {
		return nil, fmt.Errorf("escrow: invalid subject reference")
	}
	if total == nil || total.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: total amount must be positive")
	}
	funds, err := NormalizeFunds(attached)
	if err != nil {
		return nil, err
	}
	// Attached funds must equal the requested total exactly; over-funding is
	// rejected the same as under-funding.
	if funds.Amount.Cmp(total) != 0 {
		return nil, &InsufficientFundsError{Expected: new(big.Int).Set(total), Actual: funds.Amount}
	}
	if e.params.MinEscrowAmount != nil && total.Cmp(e.params.MinEscrowAmount) < 0 {
		return nil, &AmountTooLowError{Min: new(big.Int).Set(e.params.MinEscrowAmount)}
	}
	info, ok, err := e.oracle.SubjectInfo(ref)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("escrow: subject %s %d not found", ref.Kind, ref.ID)
	}
	if info.Owner != payer {
		return nil, ErrUnauthorized
	}
	if info.Assignee.IsZero() || info.Assignee != beneficiary {
		return nil, fmt.Errorf("escrow: beneficiary does not match subject assignee")
	}
	if info.Status != types.SubjectStatusInProgress {
		return nil, fmt.Errorf("escrow: subject must be in progress, is %s", info.Status)
	}
	if _, exists, err := e.BySubject(ref); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrAlreadyExists
	}
	split, err := fees.Calculate(total, e.params.PlatformFeePercent)
	if err != nil {
		return nil, err
	}
	esc := &Escrow{
		ID:            escrowID(ref, payer, beneficiary),
		Subject:       ref,
		Payer:         payer,
		Beneficiary:   beneficiary,
		Token:         funds.Token,
		Amount:        split.BeneficiaryShare,
		PlatformFee:   split.Fee,
		FundedAt:      now,
		Released:      false,
		DisputeStatus: DisputeNone,
	}
	if err := e.put(esc); err != nil {
		return nil, err
	}
	if err := e.store.KVPut(subjectKey(ref), esc.ID); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// Release settles the escrow in favour of the beneficiary. The payer may
// release at any time; once the subject is completed and the dispute period
// has elapsed, anyone may. The returned payments are queued, not applied.
func (e *Engine) Release(id [32]byte, caller types.Address, now int64) ([]types.PaymentMsg, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	esc, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if esc.Released {
		return nil, ErrAlreadyReleased
	}
	if esc.DisputeStatus.Active() {
		return nil, ErrDisputeActive
	}
	if caller != esc.Payer {
		if e.oracle == nil {
			return nil, errNilOracle
		}
		info, ok, err := e.oracle.SubjectInfo(esc.Subject)
		if err != nil {
			return nil, err
		}
		periodOver := now > esc.FundedAt+e.params.DisputePeriodSeconds
		if !ok || info.Status != types.SubjectStatusCompleted || !periodOver {
			return nil, ErrUnauthorized
		}
	}
	esc.Released = true
	if err := e.put(esc); err != nil {
		return nil, err
	}
	e.emit(NewReleasedEvent(esc))
	return e.payoutMessages(esc, true), nil
}

// Refund returns the full attached sum to the payer. Administrator only.
func (e *Engine) Refund(id [32]byte, caller types.Address) ([]types.PaymentMsg, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if caller != e.params.Admin {
		return nil, ErrUnauthorized
	}
	esc, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if esc.Released {
		return nil, ErrAlreadyReleased
	}
	if esc.DisputeStatus.Active() {
		return nil, ErrDisputeActive
	}
	esc.Released = true
	if err := e.put(esc); err != nil {
		return nil, err
	}
	e.emit(NewRefundedEvent(esc))
	return []types.PaymentMsg{{To: esc.Payer, Token: esc.Token, Amount: esc.Total()}}, nil
}

// MarkDisputed stamps the dispute hold onto the escrow. Only an escrow with
// no dispute history can be flagged.
func (e *Engine) MarkDisputed(id [32]byte, raisedAt, deadline int64) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.load(id)
	if err != nil {
		return err
	}
	if esc.Released {
		return ErrAlreadyReleased
	}
	if esc.DisputeStatus != DisputeNone {
		return fmt.Errorf("escrow: dispute already recorded for subject")
	}
	esc.DisputeStatus = DisputeRaised
	esc.DisputeRaisedAt = raisedAt
	esc.DisputeDeadline = deadline
	if err := e.put(esc); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(esc))
	return nil
}

// Settle closes a disputed escrow according to the administrator's outcome.
// Either way the escrow is released exactly once and the platform fee is
// routed to the fee recipient.
func (e *Engine) Settle(id [32]byte, releaseToBeneficiary bool) ([]types.PaymentMsg, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	esc, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if esc.Released {
		return nil, ErrAlreadyReleased
	}
	if !esc.DisputeStatus.Active() {
		return nil, fmt.Errorf("escrow: no active dispute to settle")
	}
	esc.DisputeStatus = DisputeResolved
	esc.Released = true
	if err := e.put(esc); err != nil {
		return nil, err
	}
	e.emit(NewResolvedEvent(esc))
	return e.payoutMessages(esc, releaseToBeneficiary), nil
}

func (e *Engine) payoutMessages(esc *Escrow, releaseToBeneficiary bool) []types.PaymentMsg {
	msgs := make([]types.PaymentMsg, 0, 2)
	if releaseToBeneficiary {
		if esc.Amount != nil && esc.Amount.Sign() > 0 {
			msgs = append(msgs, types.PaymentMsg{To: esc.Beneficiary, Token: esc.Token, Amount: new(big.Int).Set(esc.Amount)})
		}
	} else {
		if esc.Amount != nil && esc.Amount.Sign() > 0 {
			msgs = append(msgs, types.PaymentMsg{To: esc.Payer, Token: esc.Token, Amount: new(big.Int).Set(esc.Amount)})
		}
	}
	if esc.PlatformFee != nil && esc.PlatformFee.Sign() > 0 {
		msgs = append(msgs, types.PaymentMsg{To: e.params.FeeRecipient, Token: esc.Token, Amount: new(big.Int).Set(esc.PlatformFee)})
	}
	return msgs
}
