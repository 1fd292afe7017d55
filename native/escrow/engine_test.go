package escrow

import (
	"errors"
	"math/big"
	"testing"

	"workchain/core/events"
	"workchain/core/state"
	"workchain/core/types"
	"workchain/native/params"
	wcstorage "workchain/storage"
)

const testDenom = "uwork"

type stubOracle struct {
	subjects map[types.SubjectRef]types.SubjectInfo
}

func (o *stubOracle) SubjectInfo(ref types.SubjectRef) (types.SubjectInfo, bool, error) {
	info, ok := o.subjects[ref]
	return info, ok, nil
}

type testEnv struct {
	engine   *Engine
	oracle   *stubOracle
	recorder *events.Recorder
	params   *params.Platform
}

var (
	payer       = types.Address{0x01}
	beneficiary = types.Address{0x02}
	admin       = types.Address{0x0A}
	treasury    = types.Address{0x0F}
	outsider    = types.Address{0xCC}
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mgr := state.NewManager(wcstorage.NewMemDB())
	txn := mgr.Begin()
	t.Cleanup(txn.Abort)
	platform := &params.Platform{
		Admin:                admin,
		FeeRecipient:         treasury,
		PlatformFeePercent:   5,
		MinEscrowAmount:      big.NewInt(1000),
		DisputePeriodSeconds: params.DefaultDisputePeriodSeconds,
		NativeDenom:          testDenom,
	}
	oracle := &stubOracle{subjects: map[types.SubjectRef]types.SubjectInfo{}}
	recorder := events.NewRecorder()
	engine := NewEngine()
	engine.SetStore(txn)
	engine.SetOracle(oracle)
	engine.SetParams(platform)
	engine.SetEmitter(recorder)
	return &testEnv{engine: engine, oracle: oracle, recorder: recorder, params: platform}
}

func (env *testEnv) addSubject(ref types.SubjectRef, status types.SubjectStatus) {
	env.oracle.subjects[ref] = types.SubjectInfo{Owner: payer, Assignee: beneficiary, Status: status}
}

func (env *testEnv) createFunded(t *testing.T, ref types.SubjectRef, total int64) *Escrow {
	t.Helper()
	env.addSubject(ref, types.SubjectStatusInProgress)
	esc, err := env.engine.Create(ref, payer, beneficiary, big.NewInt(total), Funds{Token: testDenom, Amount: big.NewInt(total)}, 1000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return esc
}

func TestCreateSplitsFee(t *testing.T) {
	env := newTestEnv(t)
	ref := types.SubjectRef{Kind: types.SubjectJob, ID: 1}
	esc := env.createFunded(t, ref, 10000)

	if esc.PlatformFee.Int64() != 500 {
		t.Fatalf("fee = %s, want 500", esc.PlatformFee)
	}
	if esc.Amount.Int64() != 9500 {
		t.Fatalf("amount = %s, want 9500", esc.Amount)
	}
	if esc.Released || esc.DisputeStatus != DisputeNone {
		t.Fatalf("fresh escrow state %+v", esc)
	}
	stored, ok, err := env.engine.BySubject(ref)
	if err != nil || !ok {
		t.Fatalf("by subject ok=%v err=%v", ok, err)
	}
	if stored.ID != esc.ID {
		t.Fatal("subject index mismatch")
	}
	evts := env.recorder.Events()
	if len(evts) != 1 || evts[0].Type != EventTypeEscrowCreated {
		t.Fatalf("events %+v", evts)
	}
}

func TestCreateRejectsDuplicateSubject(t *testing.T) {
	env := newTestEnv(t)
	ref := types.SubjectRef{Kind: types.SubjectJob, ID: 2}
	env.createFunded(t, ref, 10000)

	_, err := env.engine.Create(ref, payer, beneficiary, big.NewInt(10000), Funds{Token: testDenom, Amount: big.NewInt(10000)}, 1001)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second create: %v", err)
	}
}

func TestCreateRequiresExactFunds(t *testing.T) {
	env := newTestEnv(t)
	ref := types.SubjectRef{Kind: types.SubjectJob, ID: 3}
	env.addSubject(ref, types.SubjectStatusInProgress)

	for _, attached := range []int64{9999, 10001} {
		_, err := env.engine.Create(ref, payer, beneficiary, big.NewInt(10000), Funds{Token: testDenom, Amount: big.NewInt(attached)}, 1000)
		var fundsErr *InsufficientFundsError
		if !errors.As(err, &fundsErr) {
			t.Fatalf("attached %d: %v", attached, err)
		}
	}
}

func TestCreateEnforcesMinimum(t *testing.T) {
	env := newTestEnv(t)
	ref := types.SubjectRef{Kind: types.SubjectJob, ID: 4}
	env.addSubject(ref, types.SubjectStatusInProgress)

	_, err := env.engine.Create(ref, payer, beneficiary, big.NewInt(999), Funds{Token: testDenom, Amount: big.NewInt(999)}, 1000)
	var lowErr *AmountTooLowError
	if !errors.As(err, &lowErr) {
		t.Fatalf("below minimum: %v", err)
	}
	if lowErr.Min.Int64() != 1000 {
		t.Fatalf("min carried = %s", lowErr.Min)
	}
}

func TestCreateValidatesSubject(t *testing.T) {
	env := newTestEnv(t)
	ref := types.SubjectRef{Kind: types.SubjectJob, ID: 5}

	// Unknown subject.
	if _, err := env.engine.Create(ref, payer, beneficiary, big.NewInt(10000), Funds{Token: testDenom, Amount: big.NewInt(10000)}, 1000); err == nil {
		t.Fatal("unknown subject accepted")
	}
	// Wrong payer.
	env.addSubject(ref, types.SubjectStatusInProgress)
	if _, err := env.engine.Create(ref, outsider, beneficiary, big.NewInt(10000), Funds{Token: testDenom, Amount: big.NewInt(10000)}, 1000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong payer: %v", err)
	}
	// Subject not in progress.
	env.addSubject(ref, types.SubjectStatusOpen)
	if _, err := env.engine.Create(ref, payer, beneficiary, big.NewInt(10000), Funds{Token: testDenom, Amount: big.NewInt(10000)}, 1000); err == nil {
		t.Fatal("open subject accepted")
	}
}

func TestReleaseByPayer(t *testing.T) {
	env := newTestEnv(t)
	ref := types.SubjectRef{Kind: types.SubjectJob, ID: 6}
	esc := env.createFunded(t, ref, 10000)

	msgs, err := env.engine.Release(esc.ID, payer, 2000)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("queued %d payments, want 2", len(msgs))
	}
	if msgs[0].To != beneficiary || msgs[0].Amount.Int64() != 9500 {
		t.Fatalf("beneficiary payment %+v", msgs[0])
	}
	if msgs[1].To != treasury || msgs[1].Amount.Int64() != 500 {
		t.Fatalf("fee payment %+v", msgs[1])
	}
	stored, _, _ := env.engine.Get(esc.ID)
	if !stored.Released {
		t.Fatal("released flag not set")
	}
}

func TestReleaseTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createFunded(t, types.SubjectRef{Kind: types.SubjectJob, ID: 7}, 10000)

	if _, err := env.engine.Release(esc.ID, payer, 2000); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if _, err := env.engine.Release(esc.ID, payer, 2001); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("second release: %v", err)
	}
}

func TestReleaseByThirdParty(t *testing.T) {
	env := newTestEnv(t)
	ref := types.SubjectRef{Kind: types.SubjectJob, ID: 8}
	esc := env.createFunded(t, ref, 10000)
	periodEnd := esc.FundedAt + env.params.DisputePeriodSeconds

	// Before the subject completes, outsiders cannot release.
	if _, err := env.engine.Release(esc.ID, outsider, periodEnd+1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outsider before completion: %v", err)
	}
	env.addSubject(ref, types.SubjectStatusCompleted)
	// Completed but inside the dispute window: still payer-only.
	if _, err := env.engine.Release(esc.ID, outsider, periodEnd); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outsider inside window: %v", err)
	}
	if _, err := env.engine.Release(esc.ID, outsider, periodEnd+1); err != nil {
		t.Fatalf("outsider after window: %v", err)
	}
}

func TestReleaseBlockedByDispute(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createFunded(t, types.SubjectRef{Kind: types.SubjectJob, ID: 9}, 10000)

	if err := env.engine.MarkDisputed(esc.ID, 1500, 1500+env.params.DisputePeriodSeconds); err != nil {
		t.Fatalf("mark disputed: %v", err)
	}
	if _, err := env.engine.Release(esc.ID, payer, 1600); !errors.Is(err, ErrDisputeActive) {
		t.Fatalf("release during dispute: %v", err)
	}
	if _, err := env.engine.Refund(esc.ID, admin); !errors.Is(err, ErrDisputeActive) {
		t.Fatalf("refund during dispute: %v", err)
	}
}

func TestRefundAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createFunded(t, types.SubjectRef{Kind: types.SubjectJob, ID: 10}, 10000)

	if _, err := env.engine.Refund(esc.ID, payer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("payer refund: %v", err)
	}
	msgs, err := env.engine.Refund(esc.ID, admin)
	if err != nil {
		t.Fatalf("admin refund: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("queued %d payments, want 1", len(msgs))
	}
	if msgs[0].To != payer || msgs[0].Amount.Int64() != 10000 {
		t.Fatalf("refund payment %+v", msgs[0])
	}
	if _, err := env.engine.Refund(esc.ID, admin); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("second refund: %v", err)
	}
}

func TestMarkDisputedOnce(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createFunded(t, types.SubjectRef{Kind: types.SubjectBounty, ID: 11}, 10000)

	if err := env.engine.MarkDisputed(esc.ID, 1500, 2000); err != nil {
		t.Fatalf("mark disputed: %v", err)
	}
	stored, _, _ := env.engine.Get(esc.ID)
	if stored.DisputeStatus != DisputeRaised || stored.DisputeRaisedAt != 1500 || stored.DisputeDeadline != 2000 {
		t.Fatalf("dispute fields %+v", stored)
	}
	if err := env.engine.MarkDisputed(esc.ID, 1600, 2100); err == nil {
		t.Fatal("second dispute accepted")
	}
}

func TestSettleReleaseToBeneficiary(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createFunded(t, types.SubjectRef{Kind: types.SubjectJob, ID: 12}, 10000)
	if err := env.engine.MarkDisputed(esc.ID, 1500, 2000); err != nil {
		t.Fatalf("mark disputed: %v", err)
	}

	msgs, err := env.engine.Settle(esc.ID, true)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(msgs) != 2 || msgs[0].To != beneficiary || msgs[0].Amount.Int64() != 9500 || msgs[1].To != treasury || msgs[1].Amount.Int64() != 500 {
		t.Fatalf("settle payments %+v", msgs)
	}
	stored, _, _ := env.engine.Get(esc.ID)
	if !stored.Released || stored.DisputeStatus != DisputeResolved {
		t.Fatalf("settled escrow %+v", stored)
	}
	if _, err := env.engine.Settle(esc.ID, true); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("second settle: %v", err)
	}
}

func TestSettleRefundStillRoutesFee(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createFunded(t, types.SubjectRef{Kind: types.SubjectJob, ID: 13}, 10000)
	if err := env.engine.MarkDisputed(esc.ID, 1500, 2000); err != nil {
		t.Fatalf("mark disputed: %v", err)
	}

	msgs, err := env.engine.Settle(esc.ID, false)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(msgs) != 2 || msgs[0].To != payer || msgs[0].Amount.Int64() != 9500 || msgs[1].To != treasury || msgs[1].Amount.Int64() != 500 {
		t.Fatalf("refund settle payments %+v", msgs)
	}
}

func TestSettleRequiresActiveDispute(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createFunded(t, types.SubjectRef{Kind: types.SubjectJob, ID: 14}, 10000)

	if _, err := env.engine.Settle(esc.ID, true); err == nil {
		t.Fatal("settle without dispute accepted")
	}
}

func TestEscrowIDDeterministic(t *testing.T) {
	ref := types.SubjectRef{Kind: types.SubjectJob, ID: 42}
	a := escrowID(ref, payer, beneficiary)
	b := escrowID(ref, payer, beneficiary)
	if a != b {
		t.Fatal("ids differ for identical inputs")
	}
	other := escrowID(types.SubjectRef{Kind: types.SubjectBounty, ID: 42}, payer, beneficiary)
	if a == other {
		t.Fatal("ids collide across subject kinds")
	}
}
