package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"workchain/core/events"
	"workchain/core/state"
	"workchain/core/types"
	"workchain/native/audit"
	"workchain/native/dispute"
	"workchain/native/escrow"
	"workchain/native/guard"
	"workchain/native/params"
)

// Audit action names. Failed attempts are recorded under the same action.
const (
	ActionEscrowCreate   = "escrow.create"
	ActionEscrowRelease  = "escrow.release"
	ActionEscrowRefund   = "escrow.refund"
	ActionDisputeRaise   = "dispute.raise"
	ActionDisputeResolve = "dispute.resolve"
	ActionAdminBlock     = "admin.block"
	ActionAdminUnblock   = "admin.unblock"
	ActionAdminResetRate = "admin.reset_rate_limit"
	ActionAdminPause     = "admin.pause"
	ActionAdminUnpause   = "admin.unpause"
	ActionAdminUpdate    = "admin.update_config"
)

var (
	ErrNotInitialised = errors.New("core: platform params not initialised")
	ErrUnauthorized   = errors.New("core: caller is not the administrator")
	ErrAdminTarget    = errors.New("core: administrator address cannot be blocked")
)

// SubjectOracle is the job/bounty module's view the custody layer depends on.
// The marketplace module owns subject records; the node only reads status and
// flips it around dispute adjudication.
type SubjectOracle interface {
	SubjectInfo(ref types.SubjectRef) (types.SubjectInfo, bool, error)
	SetSubjectStatus(ref types.SubjectRef, status types.SubjectStatus) error
}

// Result carries everything a host needs after a mutating call commits:
// events emitted during the call and the payment messages queued by it. The
// host applies the payments after the call, never during it.
type Result struct {
	Events   []*types.Event
	Payments []types.PaymentMsg
}

// Node serialises every mutating entry point, runs the guard pipeline inside
// the call's state transaction and commits atomically. A failed call discards
// its transaction, so partial writes, reentrancy flags and rate counters from
// the failed attempt never reach disk; only the follow-up audit entry does.
type Node struct {
	mu      sync.Mutex
	state   *state.Manager
	oracle  SubjectOracle
	logger  *slog.Logger
	now     func() int64
	metrics nodeMetrics
}

type nodeMetrics interface {
	ObserveOperation(action string, err error, duration time.Duration)
	RecordRejection(reason string)
	SetTotals(escrows, disputes uint64)
}

// NodeOption tweaks node construction.
type NodeOption func(*Node)

// WithClock overrides the unix-seconds time source.
func WithClock(now func() int64) NodeOption {
	return func(n *Node) { n.now = now }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) NodeOption {
	return func(n *Node) { n.logger = logger }
}

// WithMetrics attaches the prometheus registry.
func WithMetrics(m nodeMetrics) NodeOption {
	return func(n *Node) { n.metrics = m }
}

func NewNode(mgr *state.Manager, oracle SubjectOracle, opts ...NodeOption) *Node {
	n := &Node{
		state:  mgr,
		oracle: oracle,
		logger: slog.Default(),
		now:    func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Initialise persists the platform parameters. It is the genesis step and
// enforces the fee ceiling before anything is written.
func (n *Node) Initialise(platform *params.Platform) error {
	if platform == nil {
		return errors.New("core: nil platform params")
	}
	if err := platform.Validate(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	txn := n.state.Begin()
	if err := params.NewStore(txn).Save(platform); err != nil {
		txn.Abort()
		return err
	}
	return txn.Commit()
}

// call bundles the engines bound to one transaction.
type call struct {
	txn      *state.Txn
	guard    *guard.Guard
	escrow   *escrow.Engine
	disputes *dispute.Resolver
	audits   *audit.Ledger
	recorder *events.Recorder
	params   *params.Platform
	now      int64
	payments []types.PaymentMsg
}

func (n *Node) bind(txn *state.Txn) (*call, error) {
	platform, err := params.NewStore(txn).Load()
	if err != nil {
		if errors.Is(err, params.ErrNotInitialised) {
			return nil, ErrNotInitialised
		}
		return nil, err
	}
	recorder := events.NewRecorder()
	eng := escrow.NewEngine()
	eng.SetStore(txn)
	eng.SetOracle(n.oracle)
	eng.SetParams(platform)
	eng.SetEmitter(recorder)
	res := dispute.NewResolver()
	res.SetStore(txn)
	res.SetLedger(eng)
	res.SetDirectory(n.oracle)
	res.SetParams(platform)
	res.SetEmitter(recorder)
	return &call{
		txn:      txn,
		guard:    guard.New(txn),
		escrow:   eng,
		disputes: res,
		audits:   audit.NewLedger(txn),
		recorder: recorder,
		params:   platform,
		now:      n.now(),
	}, nil
}

// mutationOpts shape the guard pipeline for one entry point.
type mutationOpts struct {
	action          string
	category        guard.Category // empty: limiter skipped
	adminOnly       bool
	allowWhenPaused bool
	subject         *types.SubjectRef
	reference       string
}

// withMutation is the single path every state change takes. Pipeline: pause
// switch, blocklist, admin check, reentrancy flag, rate limiter, business
// function, audit record, commit. Any failure aborts the transaction and the
// failed attempt is audited in a follow-up transaction of its own.
func (n *Node) withMutation(actor types.Address, opts mutationOpts, fn func(c *call) ([]types.PaymentMsg, error)) (res *Result, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	started := time.Now()
	defer func() {
		if n.metrics != nil {
			n.metrics.ObserveOperation(opts.action, err, time.Since(started))
		}
	}()

	txn := n.state.Begin()
	c, err := n.bind(txn)
	if err != nil {
		txn.Abort()
		return nil, err
	}

	err = n.runGuarded(c, actor, opts, fn)
	if err != nil {
		txn.Abort()
		n.recordFailure(actor, opts, c.now, err)
		n.logger.Warn("operation rejected", "action", opts.action, "actor", actor.String(), "err", err)
		return nil, err
	}
	if err = txn.Commit(); err != nil {
		return nil, err
	}
	n.logger.Info("operation committed", "action", opts.action, "actor", actor.String())
	return &Result{Events: c.recorder.Drain(), Payments: c.payments}, nil
}

func (n *Node) runGuarded(c *call, actor types.Address, opts mutationOpts, fn func(c *call) ([]types.PaymentMsg, error)) error {
	paused, err := c.guard.Paused()
	if err != nil {
		return err
	}
	if paused && !opts.allowWhenPaused {
		n.reject("paused")
		return guard.ErrPaused
	}
	blocked, err := c.guard.IsBlocked(actor)
	if err != nil {
		return err
	}
	if blocked {
		n.reject("blocked")
		return guard.ErrBlocked
	}
	if opts.adminOnly && actor != c.params.Admin {
		n.reject("unauthorized")
		return ErrUnauthorized
	}
	if err := c.guard.EnterReentrancy(); err != nil {
		n.reject("reentrancy")
		return err
	}
	if opts.category != "" && !opts.adminOnly {
		if err := c.guard.CheckAndIncrement(actor, opts.category, c.now); err != nil {
			n.reject("rate_limit")
			return err
		}
	}
	payments, err := fn(c)
	if err != nil {
		return err
	}
	c.payments = payments
	if _, err := c.audits.Record(opts.action, actor, opts.subject, opts.reference, c.now, true, ""); err != nil {
		return err
	}
	return c.guard.ExitReentrancy()
}

func (n *Node) reject(reason string) {
	if n.metrics != nil {
		n.metrics.RecordRejection(reason)
	}
}

// recordFailure audits a rejected attempt in its own transaction so the entry
// survives the rollback of the call that produced it. Rate limit violations
// bump the persisted security counter in the same transaction.
func (n *Node) recordFailure(actor types.Address, opts mutationOpts, now int64, cause error) {
	txn := n.state.Begin()
	ledger := audit.NewLedger(txn)
	if _, err := ledger.Record(opts.action, actor, opts.subject, opts.reference, now, false, cause.Error()); err != nil {
		txn.Abort()
		n.logger.Error("failure audit dropped", "action", opts.action, "err", err)
		return
	}
	var limitErr *guard.LimitExceededError
	if errors.As(cause, &limitErr) {
		if err := guard.New(txn).CountRateLimitViolation(now); err != nil {
			txn.Abort()
			n.logger.Error("violation counter dropped", "err", err)
			return
		}
	}
	if err := txn.Commit(); err != nil {
		n.logger.Error("failure audit commit", "err", err)
	}
}

// CreateEscrow funds a native-denom escrow for the subject. The attached
// amount must equal total exactly.
func (n *Node) CreateEscrow(ref types.SubjectRef, payer, beneficiary types.Address, total, attached *big.Int) (*escrow.Escrow, *Result, error) {
	var created *escrow.Escrow
	res, err := n.withMutation(payer, mutationOpts{
		action:   ActionEscrowCreate,
		category: guard.CategoryEscrowCreate,
		subject:  &ref,
	}, func(c *call) ([]types.PaymentMsg, error) {
		funds := escrow.Funds{Token: c.params.NativeDenom, Amount: attached}
		esc, err := c.escrow.Create(ref, payer, beneficiary, total, funds, c.now)
		if err != nil {
			return nil, err
		}
		created = esc
		if err := c.guard.CountEscrow(c.now); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return nil, nil, err
	}
	n.publishTotals()
	return created, res, nil
}

// CreateTokenEscrow mirrors the token-ledger receive hook: funds already
// moved on the token ledger, the hook names the payer and the attached sum.
func (n *Node) CreateTokenEscrow(ref types.SubjectRef, payer, beneficiary types.Address, total *big.Int, token string, attached *big.Int) (*escrow.Escrow, *Result, error) {
	var created *escrow.Escrow
	res, err := n.withMutation(payer, mutationOpts{
		action:   ActionEscrowCreate,
		category: guard.CategoryEscrowCreate,
		subject:  &ref,
	}, func(c *call) ([]types.PaymentMsg, error) {
		esc, err := c.escrow.Create(ref, payer, beneficiary, total, escrow.Funds{Token: token, Amount: attached}, c.now)
		if err != nil {
			return nil, err
		}
		created = esc
		if err := c.guard.CountEscrow(c.now); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return nil, nil, err
	}
	n.publishTotals()
	return created, res, nil
}

// ReleaseEscrow settles in favour of the beneficiary and returns the queued
// payout messages for the host to apply.
func (n *Node) ReleaseEscrow(id [32]byte, caller types.Address) (*Result, error) {
	return n.withMutation(caller, mutationOpts{
		action:    ActionEscrowRelease,
		reference: fmt.Sprintf("%x", id),
	}, func(c *call) ([]types.PaymentMsg, error) {
		return c.escrow.Release(id, caller, c.now)
	})
}

// RefundEscrow returns the full attached sum to the payer. Administrator only.
func (n *Node) RefundEscrow(id [32]byte, caller types.Address) (*Result, error) {
	return n.withMutation(caller, mutationOpts{
		action:    ActionEscrowRefund,
		reference: fmt.Sprintf("%x", id),
	}, func(c *call) ([]types.PaymentMsg, error) {
		return c.escrow.Refund(id, caller)
	})
}

// RaiseDispute opens a dispute over the subject's escrow.
func (n *Node) RaiseDispute(ref types.SubjectRef, caller types.Address, reason string, evidence []string) (*dispute.Dispute, *Result, error) {
	var raised *dispute.Dispute
	res, err := n.withMutation(caller, mutationOpts{
		action:   ActionDisputeRaise,
		category: guard.CategoryDisputeRaise,
		subject:  &ref,
	}, func(c *call) ([]types.PaymentMsg, error) {
		d, err := c.disputes.Raise(ref, caller, reason, evidence, c.now)
		if err != nil {
			return nil, err
		}
		raised = d
		if err := c.guard.CountDispute(c.now); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return nil, nil, err
	}
	n.publishTotals()
	return raised, res, nil
}

// ResolveDispute closes a dispute with the administrator's verdict. The
// admin_action budget applies.
func (n *Node) ResolveDispute(id uint64, resolution string, releaseToBeneficiary bool, caller types.Address) (*dispute.Dispute, *Result, error) {
	var resolved *dispute.Dispute
	res, err := n.withMutation(caller, mutationOpts{
		action:    ActionDisputeResolve,
		category:  guard.CategoryAdminAction,
		reference: fmt.Sprintf("%d", id),
	}, func(c *call) ([]types.PaymentMsg, error) {
		d, payments, err := c.disputes.Resolve(id, resolution, releaseToBeneficiary, caller, c.now)
		if err != nil {
			return nil, err
		}
		resolved = d
		return payments, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return resolved, res, nil
}

// BlockAddress bars the target from every mutating call. The administrator
// itself can never be blocked: the blocklist check runs before the admin
// check, so a blocked admin would be locked out of every recovery op.
func (n *Node) BlockAddress(caller, target types.Address, reason string) (*Result, error) {
	return n.withMutation(caller, mutationOpts{
		action:    ActionAdminBlock,
		adminOnly: true,
		reference: target.String(),
	}, func(c *call) ([]types.PaymentMsg, error) {
		if target == c.params.Admin {
			return nil, ErrAdminTarget
		}
		return nil, c.guard.Block(target, reason, c.now)
	})
}

// UnblockAddress lifts a block.
func (n *Node) UnblockAddress(caller, target types.Address) (*Result, error) {
	return n.withMutation(caller, mutationOpts{
		action:    ActionAdminUnblock,
		adminOnly: true,
		reference: target.String(),
	}, func(c *call) ([]types.PaymentMsg, error) {
		return nil, c.guard.Unblock(target)
	})
}

// ResetRateLimit clears the target's counters.
func (n *Node) ResetRateLimit(caller, target types.Address) (*Result, error) {
	return n.withMutation(caller, mutationOpts{
		action:    ActionAdminResetRate,
		adminOnly: true,
		reference: target.String(),
	}, func(c *call) ([]types.PaymentMsg, error) {
		return nil, c.guard.ResetRateLimit(target)
	})
}

// Pause halts every mutating operation except Unpause.
func (n *Node) Pause(caller types.Address) (*Result, error) {
	return n.withMutation(caller, mutationOpts{
		action:    ActionAdminPause,
		adminOnly: true,
	}, func(c *call) ([]types.PaymentMsg, error) {
		return nil, c.guard.Pause()
	})
}

// Unpause lifts the pause switch. It is the one mutating call allowed while
// paused.
func (n *Node) Unpause(caller types.Address) (*Result, error) {
	return n.withMutation(caller, mutationOpts{
		action:          ActionAdminUnpause,
		adminOnly:       true,
		allowWhenPaused: true,
	}, func(c *call) ([]types.PaymentMsg, error) {
		return nil, c.guard.Unpause()
	})
}

// ParamUpdate carries the optional fields an administrator may change. Nil
// fields keep their current value.
type ParamUpdate struct {
	PlatformFeePercent   *uint64
	MinEscrowAmount      *big.Int
	DisputePeriodSeconds *int64
	FeeRecipient         *types.Address
}

// UpdateConfig applies a partial parameter update. The fee ceiling and the
// rest of the parameter invariants are re-validated before anything persists.
func (n *Node) UpdateConfig(caller types.Address, update ParamUpdate) (*Result, error) {
	return n.withMutation(caller, mutationOpts{
		action:    ActionAdminUpdate,
		adminOnly: true,
	}, func(c *call) ([]types.PaymentMsg, error) {
		next := c.params.Clone()
		if update.PlatformFeePercent != nil {
			next.PlatformFeePercent = *update.PlatformFeePercent
		}
		if update.MinEscrowAmount != nil {
			next.MinEscrowAmount = new(big.Int).Set(update.MinEscrowAmount)
		}
		if update.DisputePeriodSeconds != nil {
			next.DisputePeriodSeconds = *update.DisputePeriodSeconds
		}
		if update.FeeRecipient != nil {
			next.FeeRecipient = *update.FeeRecipient
		}
		if err := next.Validate(); err != nil {
			return nil, err
		}
		return nil, params.NewStore(c.txn).Save(next)
	})
}

func (n *Node) publishTotals() {
	if n.metrics == nil {
		return
	}
	metrics, err := n.SecurityMetrics()
	if err != nil || metrics == nil {
		return
	}
	n.metrics.SetTotals(metrics.TotalEscrows, metrics.TotalDisputes)
}

// withView runs fn over a read-only snapshot bound transaction.
func (n *Node) withView(fn func(c *call) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	txn := n.state.Begin()
	defer txn.Abort()
	c, err := n.bind(txn)
	if err != nil {
		return err
	}
	return fn(c)
}

// GetEscrow returns the escrow with the given id.
func (n *Node) GetEscrow(id [32]byte) (*escrow.Escrow, bool, error) {
	var (
		out *escrow.Escrow
		ok  bool
	)
	err := n.withView(func(c *call) error {
		var viewErr error
		out, ok, viewErr = c.escrow.Get(id)
		return viewErr
	})
	return out, ok, err
}

// EscrowBySubject returns the escrow recorded for the subject.
func (n *Node) EscrowBySubject(ref types.SubjectRef) (*escrow.Escrow, bool, error) {
	var (
		out *escrow.Escrow
		ok  bool
	)
	err := n.withView(func(c *call) error {
		var viewErr error
		out, ok, viewErr = c.escrow.BySubject(ref)
		return viewErr
	})
	return out, ok, err
}

// GetDispute returns the dispute with the given id.
func (n *Node) GetDispute(id uint64) (*dispute.Dispute, bool, error) {
	var (
		out *dispute.Dispute
		ok  bool
	)
	err := n.withView(func(c *call) error {
		var viewErr error
		out, ok, viewErr = c.disputes.Get(id)
		return viewErr
	})
	return out, ok, err
}

// DisputeBySubject returns the subject's dispute, if any.
func (n *Node) DisputeBySubject(ref types.SubjectRef) (*dispute.Dispute, error) {
	var out *dispute.Dispute
	err := n.withView(func(c *call) error {
		var viewErr error
		out, viewErr = c.disputes.BySubject(ref)
		return viewErr
	})
	return out, err
}

// DisputesByActor lists disputes raised by the actor.
func (n *Node) DisputesByActor(actor types.Address, limit int) ([]*dispute.Dispute, error) {
	var out []*dispute.Dispute
	err := n.withView(func(c *call) error {
		var viewErr error
		out, viewErr = c.disputes.ByActor(actor, limit)
		return viewErr
	})
	return out, err
}

// SecurityMetrics returns the persisted security aggregate.
func (n *Node) SecurityMetrics() (*guard.Metrics, error) {
	var out *guard.Metrics
	err := n.withView(func(c *call) error {
		var viewErr error
		out, viewErr = c.guard.Metrics()
		return viewErr
	})
	return out, err
}

// IsBlocked reports whether the address is on the blocklist.
func (n *Node) IsBlocked(addr types.Address) (bool, error) {
	var out bool
	err := n.withView(func(c *call) error {
		var viewErr error
		out, viewErr = c.guard.IsBlocked(addr)
		return viewErr
	})
	return out, err
}

// BlockedAddresses lists every blocked address with its reason.
func (n *Node) BlockedAddresses() ([]guard.BlockedAddress, error) {
	var out []guard.BlockedAddress
	err := n.withView(func(c *call) error {
		var viewErr error
		out, viewErr = c.guard.BlockedAddresses()
		return viewErr
	})
	return out, err
}

// RateLimitStatus returns the actor's current counters.
func (n *Node) RateLimitStatus(actor types.Address) (*guard.RateLimitState, bool, error) {
	var (
		out *guard.RateLimitState
		ok  bool
	)
	err := n.withView(func(c *call) error {
		var viewErr error
		out, ok, viewErr = c.guard.RateLimitStatus(actor)
		return viewErr
	})
	return out, ok, err
}

// Params returns the current platform parameters.
func (n *Node) Params() (*params.Platform, error) {
	var out *params.Platform
	err := n.withView(func(c *call) error {
		out = c.params.Clone()
		return nil
	})
	return out, err
}

// AuditList pages through the audit log, most recent first.
func (n *Node) AuditList(startAfter string, limit int, actionFilter string) ([]*audit.Entry, error) {
	var out []*audit.Entry
	err := n.withView(func(c *call) error {
		var viewErr error
		out, viewErr = c.audits.List(startAfter, limit, actionFilter)
		return viewErr
	})
	return out, err
}
