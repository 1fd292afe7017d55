package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"net/http/httptest"
	"testing"

	"workchain/core"
	"workchain/core/state"
	"workchain/core/types"
	"workchain/native/params"
	"workchain/storage"
)

const testToken = "rpc-secret"

var (
	rpcPayer       = types.Address{0x01}
	rpcBeneficiary = types.Address{0x02}
	rpcAdmin       = types.Address{0x0A}
	rpcTreasury    = types.Address{0x0F}
)

type rpcOracle struct {
	subjects map[types.SubjectRef]types.SubjectInfo
}

func (o *rpcOracle) SubjectInfo(ref types.SubjectRef) (types.SubjectInfo, bool, error) {
	info, ok := o.subjects[ref]
	return info, ok, nil
}

func (o *rpcOracle) SetSubjectStatus(ref types.SubjectRef, status types.SubjectStatus) error {
	info, ok := o.subjects[ref]
	if !ok {
		return errors.New("unknown subject")
	}
	info.Status = status
	o.subjects[ref] = info
	return nil
}

func newTestServer(t *testing.T) (*Server, *rpcOracle) {
	t.Helper()
	t.Setenv(EnvToken, testToken)
	oracle := &rpcOracle{subjects: map[types.SubjectRef]types.SubjectInfo{}}
	node := core.NewNode(state.NewManager(storage.NewMemDB()), oracle)
	err := node.Initialise(&params.Platform{
		Admin:                rpcAdmin,
		FeeRecipient:         rpcTreasury,
		PlatformFeePercent:   5,
		MinEscrowAmount:      big.NewInt(1000),
		DisputePeriodSeconds: params.DefaultDisputePeriodSeconds,
		NativeDenom:          "uwork",
	})
	if err != nil {
		t.Fatalf("initialise: %v", err)
	}
	return NewServer(node, nil), oracle
}

func call(t *testing.T, s *Server, method string, params interface{}, token string) (*RPCResponse, int) {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handle(rec, req)
	resp := &RPCResponse{}
	if err := json.NewDecoder(rec.Body).Decode(resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, rec.Code
}

func addSubject(o *rpcOracle, ref types.SubjectRef) {
	o.subjects[ref] = types.SubjectInfo{
		Owner:    rpcPayer,
		Assignee: rpcBeneficiary,
		Status:   types.SubjectStatusInProgress,
	}
}

func createParams() map[string]interface{} {
	return map[string]interface{}{
		"subjectKind": "job",
		"subjectId":   1,
		"payer":       rpcPayer.String(),
		"beneficiary": rpcBeneficiary.String(),
		"total":       "10000",
		"attached":    "10000",
	}
}

func TestMutationRequiresBearerToken(t *testing.T) {
	s, oracle := newTestServer(t)
	addSubject(oracle, types.SubjectRef{Kind: types.SubjectJob, ID: 1})

	resp, status := call(t, s, "escrow_create", createParams(), "")
	if status != 401 || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("no token: status=%d resp=%+v", status, resp)
	}
	resp, status = call(t, s, "escrow_create", createParams(), "wrong")
	if status != 401 || resp.Error == nil {
		t.Fatalf("bad token: status=%d resp=%+v", status, resp)
	}
}

func TestEscrowCreateAndGet(t *testing.T) {
	s, oracle := newTestServer(t)
	addSubject(oracle, types.SubjectRef{Kind: types.SubjectJob, ID: 1})

	resp, status := call(t, s, "escrow_create", createParams(), testToken)
	if status != 200 || resp.Error != nil {
		t.Fatalf("create: status=%d err=%+v", status, resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var created EscrowResult
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if created.Amount != "9500" || created.PlatformFee != "500" {
		t.Fatalf("split %+v", created)
	}

	// Reads need no token.
	resp, status = call(t, s, "escrow_get", map[string]string{"id": created.ID}, "")
	if status != 200 || resp.Error != nil {
		t.Fatalf("get: status=%d err=%+v", status, resp.Error)
	}
}

func TestDuplicateCreateSurfacesError(t *testing.T) {
	s, oracle := newTestServer(t)
	addSubject(oracle, types.SubjectRef{Kind: types.SubjectJob, ID: 1})

	if resp, _ := call(t, s, "escrow_create", createParams(), testToken); resp.Error != nil {
		t.Fatalf("first create: %+v", resp.Error)
	}
	resp, status := call(t, s, "escrow_create", createParams(), testToken)
	if status == 200 || resp.Error == nil {
		t.Fatalf("duplicate accepted: status=%d", status)
	}
}

func TestDisputeRateLimitedCode(t *testing.T) {
	s, oracle := newTestServer(t)
	for id := uint64(1); id <= 3; id++ {
		ref := types.SubjectRef{Kind: types.SubjectJob, ID: id}
		addSubject(oracle, ref)
		p := createParams()
		p["subjectId"] = id
		if resp, _ := call(t, s, "escrow_create", p, testToken); resp.Error != nil {
			t.Fatalf("create %d: %+v", id, resp.Error)
		}
	}

	raise := func(id uint64) (*RPCResponse, int) {
		return call(t, s, "dispute_raise", map[string]interface{}{
			"subjectKind": "job",
			"subjectId":   id,
			"caller":      rpcPayer.String(),
			"reason":      "undelivered",
		}, testToken)
	}
	for id := uint64(1); id <= 2; id++ {
		if resp, _ := raise(id); resp.Error != nil {
			t.Fatalf("raise %d: %+v", id, resp.Error)
		}
	}
	resp, status := raise(3)
	if status != 429 || resp.Error == nil || resp.Error.Code != codeRateLimited {
		t.Fatalf("third raise: status=%d resp=%+v", status, resp)
	}
}

func TestPausedSurfacesDedicatedCode(t *testing.T) {
	s, oracle := newTestServer(t)
	addSubject(oracle, types.SubjectRef{Kind: types.SubjectJob, ID: 1})

	if resp, _ := call(t, s, "admin_pause", map[string]string{"caller": rpcAdmin.String()}, testToken); resp.Error != nil {
		t.Fatalf("pause: %+v", resp.Error)
	}
	resp, status := call(t, s, "escrow_create", createParams(), testToken)
	if status != 503 || resp.Error == nil || resp.Error.Code != codePaused {
		t.Fatalf("create while paused: status=%d resp=%+v", status, resp)
	}
	if resp, _ := call(t, s, "admin_unpause", map[string]string{"caller": rpcAdmin.String()}, testToken); resp.Error != nil {
		t.Fatalf("unpause: %+v", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	s, _ := newTestServer(t)
	resp, status := call(t, s, "escrow_burn", nil, "")
	if status != 404 || resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("unknown method: status=%d resp=%+v", status, resp)
	}
}

func TestAuditListOverRPC(t *testing.T) {
	s, oracle := newTestServer(t)
	addSubject(oracle, types.SubjectRef{Kind: types.SubjectJob, ID: 1})
	if resp, _ := call(t, s, "escrow_create", createParams(), testToken); resp.Error != nil {
		t.Fatalf("create: %+v", resp.Error)
	}

	resp, status := call(t, s, "audit_list", map[string]interface{}{"limit": 10}, "")
	if status != 200 || resp.Error != nil {
		t.Fatalf("audit_list: status=%d err=%+v", status, resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var entries []AuditEntryResult
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != core.ActionEscrowCreate || !entries[0].Success {
		t.Fatalf("entries %+v", entries)
	}
}
