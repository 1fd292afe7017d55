package dispute

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"workchain/core/events"
	"workchain/core/state"
	"workchain/core/types"
	"workchain/native/escrow"
	"workchain/native/params"
)

const (
	maxReasonLen     = 1000
	maxResolutionLen = 2000
	maxEvidenceRefs  = 10
)

var (
	ErrNotFound         = errors.New("dispute: not found")
	ErrNoEscrow         = errors.New("dispute: no escrow for subject")
	ErrUnauthorized     = errors.New("dispute: caller not authorized")
	ErrAlreadyDisputed  = errors.New("dispute: subject already has an active dispute")
	ErrResolved         = errors.New("dispute: already resolved")
	ErrReasonLength     = errors.New("dispute: reason must be between 1 and 1000 characters")
	ErrResolutionLength = errors.New("dispute: resolution must be between 1 and 2000 characters")
	ErrBadEvidence      = errors.New("dispute: evidence entries must be hex sha256 digests")

	errNilState  = errors.New("dispute: state not configured")
	errNilLedger = errors.New("dispute: escrow ledger not configured")
	errNilParams = errors.New("dispute: params not configured")
)

var (
	seqKey        = []byte("dispute/seq")
	itemPrefix    = []byte("dispute/item/")
	subjectPrefix = []byte("dispute/subject/")
	actorPrefix   = []byte("dispute/actor/")
)

func itemKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", itemPrefix, id))
}

func subjectKey(ref types.SubjectRef) []byte {
	return []byte(fmt.Sprintf("%s%02x%020d", subjectPrefix, uint8(ref.Kind), ref.ID))
}

func actorKey(actor types.Address, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%x/%020d", actorPrefix, actor.Bytes(), id))
}

func actorScanPrefix(actor types.Address) []byte {
	return []byte(fmt.Sprintf("%s%x/", actorPrefix, actor.Bytes()))
}

type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	ScanPrefix(prefix []byte, opts state.ScanOptions, fn func(key, value []byte) bool) error
}

// escrowLedger is the slice of the escrow engine the resolver drives.
// *escrow.Engine satisfies it.
type escrowLedger interface {
	BySubject(ref types.SubjectRef) (*escrow.Escrow, bool, error)
	MarkDisputed(id [32]byte, raisedAt, deadline int64) error
	Settle(id [32]byte, releaseToBeneficiary bool) ([]types.PaymentMsg, error)
}

// SubjectDirectory extends the read-only subject oracle with the status write
// the resolver needs when a subject enters or leaves adjudication.
type SubjectDirectory interface {
	SubjectInfo(ref types.SubjectRef) (types.SubjectInfo, bool, error)
	SetSubjectStatus(ref types.SubjectRef, status types.SubjectStatus) error
}

// Resolver owns dispute records and coordinates the escrow hold and the
// subject status while a dispute is in flight.
type Resolver struct {
	store     storage
	ledger    escrowLedger
	directory SubjectDirectory
	params    *params.Platform
	emitter   events.Emitter
}

func NewResolver() *Resolver {
	return &Resolver{emitter: events.NoopEmitter{}}
}

// SetStore binds the resolver to the current transaction's state.
func (r *Resolver) SetStore(store storage) { r.store = store }

// SetLedger wires the escrow engine the resolver settles against.
func (r *Resolver) SetLedger(ledger escrowLedger) { r.ledger = ledger }

// SetDirectory wires the subject status read/write collaborator.
func (r *Resolver) SetDirectory(directory SubjectDirectory) { r.directory = directory }

// SetParams supplies platform configuration.
func (r *Resolver) SetParams(p *params.Platform) { r.params = p }

// SetEmitter overrides the event sink.
func (r *Resolver) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r.emitter = emitter
}

func (r *Resolver) ready() error {
	switch {
	case r.store == nil:
		return errNilState
	case r.ledger == nil:
		return errNilLedger
	case r.params == nil:
		return errNilParams
	default:
		return nil
	}
}

func (r *Resolver) emit(evt *types.Event) {
	if evt != nil {
		r.emitter.Emit(evt)
	}
}

func validateEvidence(refs []string) error {
	if len(refs) > maxEvidenceRefs {
		return ErrBadEvidence
	}
	for _, ref := range refs {
		raw, err := hex.DecodeString(ref)
		if err != nil || len(raw) != 32 {
			return ErrBadEvidence
		}
	}
	return nil
}

// Raise opens a dispute over the subject's escrow. Only the escrow's payer or
// beneficiary may raise one, the subject must be in progress or completed,
// and the escrow must not have been disputed before. The escrow is stamped
// with the dispute hold and the subject moves to the disputed status.
func (r *Resolver) Raise(ref types.SubjectRef, caller types.Address, reason string, evidence []string, now int64) (*Dispute, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if r.directory == nil {
		return nil, errors.New("dispute: subject directory not configured")
	}
	if len(reason) == 0 || len(reason) > maxReasonLen {
		return nil, ErrReasonLength
	}
	if err := validateEvidence(evidence); err != nil {
		return nil, err
	}
	esc, ok, err := r.ledger.BySubject(ref)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoEscrow
	}
	if caller != esc.Payer && caller != esc.Beneficiary {
		return nil, ErrUnauthorized
	}
	info, ok, err := r.directory.SubjectInfo(ref)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoEscrow
	}
	if info.Status != types.SubjectStatusInProgress && info.Status != types.SubjectStatusCompleted {
		return nil, fmt.Errorf("dispute: subject status %s does not allow disputes", info.Status)
	}
	if existing, err := r.BySubject(ref); err != nil {
		return nil, err
	} else if existing != nil && existing.Status.Active() {
		return nil, ErrAlreadyDisputed
	}
	id, err := r.nextID()
	if err != nil {
		return nil, err
	}
	deadline := now + r.params.DisputePeriodSeconds
	if err := r.ledger.MarkDisputed(esc.ID, now, deadline); err != nil {
		return nil, err
	}
	if err := r.directory.SetSubjectStatus(ref, types.SubjectStatusDisputed); err != nil {
		return nil, err
	}
	d := &Dispute{
		ID:        id,
		Subject:   ref,
		RaisedBy:  caller,
		Reason:    reason,
		Evidence:  append([]string(nil), evidence...),
		Status:    StatusRaised,
		CreatedAt: now,
	}
	if err := r.put(d); err != nil {
		return nil, err
	}
	if err := r.store.KVPut(subjectKey(ref), d.ID); err != nil {
		return nil, err
	}
	if err := r.store.KVPut(actorKey(caller, d.ID), d.ID); err != nil {
		return nil, err
	}
	r.emit(NewRaisedEvent(d))
	return d.Clone(), nil
}

// Resolve closes a dispute with the administrator's verdict, settles the
// escrow accordingly and returns the queued payout messages. The subject is
// marked completed when funds go to the beneficiary, cancelled otherwise.
func (r *Resolver) Resolve(id uint64, resolution string, releaseToBeneficiary bool, caller types.Address, now int64) (*Dispute, []types.PaymentMsg, error) {
	if err := r.ready(); err != nil {
		return nil, nil, err
	}
	if caller != r.params.Admin {
		return nil, nil, ErrUnauthorized
	}
	if len(resolution) == 0 || len(resolution) > maxResolutionLen {
		return nil, nil, ErrResolutionLength
	}
	d, err := r.load(id)
	if err != nil {
		return nil, nil, err
	}
	if !d.Status.Active() {
		return nil, nil, ErrResolved
	}
	esc, ok, err := r.ledger.BySubject(d.Subject)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNoEscrow
	}
	payments, err := r.ledger.Settle(esc.ID, releaseToBeneficiary)
	if err != nil {
		return nil, nil, err
	}
	d.Status = StatusResolved
	d.ResolvedAt = now
	d.Resolution = resolution
	if err := r.put(d); err != nil {
		return nil, nil, err
	}
	status := types.SubjectStatusCompleted
	if !releaseToBeneficiary {
		status = types.SubjectStatusCancelled
	}
	if r.directory != nil {
		if err := r.directory.SetSubjectStatus(d.Subject, status); err != nil {
			return nil, nil, err
		}
	}
	r.emit(NewResolvedEvent(d, releaseToBeneficiary))
	return d.Clone(), payments, nil
}

// Get returns the dispute with the given id.
func (r *Resolver) Get(id uint64) (*Dispute, bool, error) {
	if r.store == nil {
		return nil, false, errNilState
	}
	var d Dispute
	ok, err := r.store.KVGet(itemKey(id), &d)
	if err != nil || !ok {
		return nil, false, err
	}
	return &d, true, nil
}

// BySubject returns the dispute recorded for the subject, if any.
func (r *Resolver) BySubject(ref types.SubjectRef) (*Dispute, error) {
	if r.store == nil {
		return nil, errNilState
	}
	var id uint64
	ok, err := r.store.KVGet(subjectKey(ref), &id)
	if err != nil || !ok {
		return nil, err
	}
	d, ok, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

// ByActor lists disputes raised by the actor, oldest first, up to limit.
func (r *Resolver) ByActor(actor types.Address, limit int) ([]*Dispute, error) {
	if r.store == nil {
		return nil, errNilState
	}
	if limit <= 0 {
		limit = 50
	}
	ids := make([]uint64, 0, limit)
	err := r.store.ScanPrefix(actorScanPrefix(actor), state.ScanOptions{}, func(key, value []byte) bool {
		var id uint64
		if jsonErr := jsonUnmarshal(value, &id); jsonErr == nil {
			ids = append(ids, id)
		}
		return len(ids) < limit
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Dispute, 0, len(ids))
	for _, id := range ids {
		d, ok, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func jsonUnmarshal(raw []byte, out *uint64) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("dispute: decode index: %w", err)
	}
	return nil
}

func (r *Resolver) nextID() (uint64, error) {
	var seq uint64
	if _, err := r.store.KVGet(seqKey, &seq); err != nil {
		return 0, err
	}
	seq++
	if err := r.store.KVPut(seqKey, seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *Resolver) load(id uint64) (*Dispute, error) {
	d, ok, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (r *Resolver) put(d *Dispute) error {
	return r.store.KVPut(itemKey(d.ID), d)
}
