package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"

	"workchain/core"
	"workchain/core/types"
	"workchain/native/audit"
	"workchain/native/dispute"
	"workchain/native/escrow"
	"workchain/native/guard"
)

type EscrowResult struct {
	ID              string `json:"id"`
	SubjectKind     string `json:"subjectKind"`
	SubjectID       uint64 `json:"subjectId"`
	Payer           string `json:"payer"`
	Beneficiary     string `json:"beneficiary"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	PlatformFee     string `json:"platformFee"`
	FundedAt        int64  `json:"fundedAt"`
	Released        bool   `json:"released"`
	DisputeStatus   string `json:"disputeStatus"`
	DisputeRaisedAt int64  `json:"disputeRaisedAt,omitempty"`
	DisputeDeadline int64  `json:"disputeDeadline,omitempty"`
}

func newEscrowResult(e *escrow.Escrow) *EscrowResult {
	if e == nil {
		return nil
	}
	return &EscrowResult{
		ID:              hex.EncodeToString(e.ID[:]),
		SubjectKind:     e.Subject.Kind.String(),
		SubjectID:       e.Subject.ID,
		Payer:           e.Payer.String(),
		Beneficiary:     e.Beneficiary.String(),
		Token:           e.Token,
		Amount:          e.Amount.String(),
		PlatformFee:     e.PlatformFee.String(),
		FundedAt:        e.FundedAt,
		Released:        e.Released,
		DisputeStatus:   e.DisputeStatus.String(),
		DisputeRaisedAt: e.DisputeRaisedAt,
		DisputeDeadline: e.DisputeDeadline,
	}
}

type DisputeResult struct {
	ID          uint64   `json:"id"`
	SubjectKind string   `json:"subjectKind"`
	SubjectID   uint64   `json:"subjectId"`
	RaisedBy    string   `json:"raisedBy"`
	Reason      string   `json:"reason"`
	Evidence    []string `json:"evidence,omitempty"`
	Status      string   `json:"status"`
	CreatedAt   int64    `json:"createdAt"`
	ResolvedAt  int64    `json:"resolvedAt,omitempty"`
	Resolution  string   `json:"resolution,omitempty"`
}

func newDisputeResult(d *dispute.Dispute) *DisputeResult {
	if d == nil {
		return nil
	}
	return &DisputeResult{
		ID:          d.ID,
		SubjectKind: d.Subject.Kind.String(),
		SubjectID:   d.Subject.ID,
		RaisedBy:    d.RaisedBy.String(),
		Reason:      d.Reason,
		Evidence:    d.Evidence,
		Status:      d.Status.String(),
		CreatedAt:   d.CreatedAt,
		ResolvedAt:  d.ResolvedAt,
		Resolution:  d.Resolution,
	}
}

type PaymentResult struct {
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func newPaymentResults(msgs []types.PaymentMsg) []PaymentResult {
	out := make([]PaymentResult, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, PaymentResult{To: m.To.String(), Token: m.Token, Amount: m.Amount.String()})
	}
	return out
}

type AuditEntryResult struct {
	ID          string `json:"id"`
	Action      string `json:"action"`
	Actor       string `json:"actor"`
	SubjectKind string `json:"subjectKind,omitempty"`
	SubjectID   uint64 `json:"subjectId,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

func newAuditResults(entries []*audit.Entry) []AuditEntryResult {
	out := make([]AuditEntryResult, 0, len(entries))
	for _, e := range entries {
		res := AuditEntryResult{
			ID:        e.ID,
			Action:    e.Action,
			Actor:     e.Actor.String(),
			Reference: e.Reference,
			Timestamp: e.Timestamp,
			Success:   e.Success,
			Error:     e.Error,
		}
		if e.Subject != nil {
			res.SubjectKind = e.Subject.Kind.String()
			res.SubjectID = e.Subject.ID
		}
		out = append(out, res)
	}
	return out
}

func parseSubjectKind(kind string) (types.SubjectKind, error) {
	switch kind {
	case "job":
		return types.SubjectJob, nil
	case "bounty":
		return types.SubjectBounty, nil
	default:
		return 0, fmt.Errorf("unknown subject kind %q", kind)
	}
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal integer", raw)
	}
	return amount, nil
}

func parseEscrowID(raw string) ([32]byte, error) {
	var id [32]byte
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return id, fmt.Errorf("escrow id must be 64 hex characters")
	}
	copy(id[:], decoded)
	return id, nil
}

type subjectParams struct {
	SubjectKind string `json:"subjectKind"`
	SubjectID   uint64 `json:"subjectId"`
}

func (p subjectParams) ref() (types.SubjectRef, error) {
	kind, err := parseSubjectKind(p.SubjectKind)
	if err != nil {
		return types.SubjectRef{}, err
	}
	ref := types.SubjectRef{Kind: kind, ID: p.SubjectID}
	if !ref.Valid() {
		return types.SubjectRef{}, fmt.Errorf("invalid subject reference")
	}
	return ref, nil
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		subjectParams
		Payer       string `json:"payer"`
		Beneficiary string `json:"beneficiary"`
		Total       string `json:"total"`
		Attached    string `json:"attached"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ref, err := p.ref()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	payer, err := types.ParseAddress(p.Payer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	beneficiary, err := types.ParseAddress(p.Beneficiary)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	total, err := parseAmount(p.Total)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	attached, err := parseAmount(p.Attached)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	esc, _, err := s.node.CreateEscrow(ref, payer, beneficiary, total, attached)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newEscrowResult(esc))
}

func (s *Server) handleEscrowCreateToken(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		subjectParams
		Payer       string `json:"payer"`
		Beneficiary string `json:"beneficiary"`
		Total       string `json:"total"`
		Token       string `json:"token"`
		Attached    string `json:"attached"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ref, err := p.ref()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	payer, err := types.ParseAddress(p.Payer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	beneficiary, err := types.ParseAddress(p.Beneficiary)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	total, err := parseAmount(p.Total)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	attached, err := parseAmount(p.Attached)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if p.Token == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "token required", nil)
		return
	}
	esc, _, err := s.node.CreateTokenEscrow(ref, payer, beneficiary, total, p.Token, attached)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newEscrowResult(esc))
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		ID     string `json:"id"`
		Caller string `json:"caller"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseEscrowID(p.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(p.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	res, err := s.node.ReleaseEscrow(id, caller)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"payments": newPaymentResults(res.Payments)})
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		ID     string `json:"id"`
		Caller string `json:"caller"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseEscrowID(p.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(p.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	res, err := s.node.RefundEscrow(id, caller)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"payments": newPaymentResults(res.Payments)})
}

func (s *Server) handleDisputeRaise(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		subjectParams
		Caller   string   `json:"caller"`
		Reason   string   `json:"reason"`
		Evidence []string `json:"evidence"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ref, err := p.ref()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(p.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	d, _, err := s.node.RaiseDispute(ref, caller, p.Reason, p.Evidence)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newDisputeResult(d))
}

func (s *Server) handleDisputeResolve(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		ID                   uint64 `json:"id"`
		Resolution           string `json:"resolution"`
		ReleaseToBeneficiary bool   `json:"releaseToBeneficiary"`
		Caller               string `json:"caller"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(p.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	d, res, err := s.node.ResolveDispute(p.ID, p.Resolution, p.ReleaseToBeneficiary, caller)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"dispute":  newDisputeResult(d),
		"payments": newPaymentResults(res.Payments),
	})
}

func (s *Server) handleAdminBlock(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		Caller string `json:"caller"`
		Target string `json:"target"`
		Reason string `json:"reason"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(p.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	target, err := types.ParseAddress(p.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if _, err := s.node.BlockAddress(caller, target, p.Reason); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"blocked": true})
}

func (s *Server) handleAdminUnblock(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		Caller string `json:"caller"`
		Target string `json:"target"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(p.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	target, err := types.ParseAddress(p.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if _, err := s.node.UnblockAddress(caller, target); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"blocked": false})
}

func (s *Server) handleAdminResetRateLimit(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		Caller string `json:"caller"`
		Target string `json:"target"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(p.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	target, err := types.ParseAddress(p.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if _, err := s.node.ResetRateLimit(caller, target); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"reset": true})
}

func (s *Server) handleAdminPause(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		Caller string `json:"caller"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(p.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if _, err := s.node.Pause(caller); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"paused": true})
}

func (s *Server) handleAdminUnpause(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		Caller string `json:"caller"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(p.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if _, err := s.node.Unpause(caller); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"paused": false})
}

func (s *Server) handleAdminUpdateConfig(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		Caller               string  `json:"caller"`
		PlatformFeePercent   *uint64 `json:"platformFeePercent"`
		MinEscrowAmount      *string `json:"minEscrowAmount"`
		DisputePeriodSeconds *int64  `json:"disputePeriodSeconds"`
		FeeRecipient         *string `json:"feeRecipient"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(p.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	update := core.ParamUpdate{
		PlatformFeePercent:   p.PlatformFeePercent,
		DisputePeriodSeconds: p.DisputePeriodSeconds,
	}
	if p.MinEscrowAmount != nil {
		amount, err := parseAmount(*p.MinEscrowAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		update.MinEscrowAmount = amount
	}
	if p.FeeRecipient != nil {
		recipient, err := types.ParseAddress(*p.FeeRecipient)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		update.FeeRecipient = &recipient
	}
	if _, err := s.node.UpdateConfig(caller, update); err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"updated": true})
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		ID string `json:"id"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := parseEscrowID(p.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	esc, ok, err := s.node.GetEscrow(id)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "escrow not found", nil)
		return
	}
	writeResult(w, req.ID, newEscrowResult(esc))
}

func (s *Server) handleEscrowGetBySubject(w http.ResponseWriter, req *RPCRequest) {
	var p subjectParams
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ref, err := p.ref()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	esc, ok, err := s.node.EscrowBySubject(ref)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "escrow not found", nil)
		return
	}
	writeResult(w, req.ID, newEscrowResult(esc))
}

func (s *Server) handleDisputeGet(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		ID uint64 `json:"id"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	d, ok, err := s.node.GetDispute(p.ID)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "dispute not found", nil)
		return
	}
	writeResult(w, req.ID, newDisputeResult(d))
}

func (s *Server) handleDisputeListBySubject(w http.ResponseWriter, req *RPCRequest) {
	var p subjectParams
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ref, err := p.ref()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	d, err := s.node.DisputeBySubject(ref)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	results := []*DisputeResult{}
	if d != nil {
		results = append(results, newDisputeResult(d))
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleDisputeListByActor(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		Actor string `json:"actor"`
		Limit int    `json:"limit"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	actor, err := types.ParseAddress(p.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	disputes, err := s.node.DisputesByActor(actor, p.Limit)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	results := make([]*DisputeResult, 0, len(disputes))
	for _, d := range disputes {
		results = append(results, newDisputeResult(d))
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleSecurityMetrics(w http.ResponseWriter, req *RPCRequest) {
	metrics, err := s.node.SecurityMetrics()
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, metrics)
}

func (s *Server) handleSecurityIsBlocked(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		Address string `json:"address"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := types.ParseAddress(p.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	blocked, err := s.node.IsBlocked(addr)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"blocked": blocked})
}

func (s *Server) handleSecurityRateLimitStatus(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		Actor string `json:"actor"`
	}
	if err := firstParam(req, &p); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	actor, err := types.ParseAddress(p.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	status, ok, err := s.node.RateLimitStatus(actor)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	if !ok {
		status = &guard.RateLimitState{Counters: map[guard.Category]uint64{}}
	}
	writeResult(w, req.ID, status)
}

func (s *Server) handleAuditList(w http.ResponseWriter, req *RPCRequest) {
	var p struct {
		StartAfter string `json:"startAfter"`
		Limit      int    `json:"limit"`
		Action     string `json:"action"`
	}
	if len(req.Params) > 0 {
		if err := firstParam(req, &p); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	entries, err := s.node.AuditList(p.StartAfter, p.Limit, p.Action)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newAuditResults(entries))
}
