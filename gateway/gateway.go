package gateway

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workchain/core"
	"workchain/core/types"
	"workchain/native/dispute"
	"workchain/native/escrow"
)

// Server exposes the read side of the node over REST. Mutations go through
// the authenticated JSON-RPC surface only.
type Server struct {
	node   *core.Node
	logger *slog.Logger
}

func NewServer(node *core.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{node: node, logger: logger}
}

// Router assembles the chi routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/escrows/{id}", s.getEscrow)
		r.Get("/subjects/{kind}/{id}/escrow", s.getEscrowBySubject)
		r.Get("/subjects/{kind}/{id}/disputes", s.listDisputesBySubject)
		r.Get("/disputes/{id}", s.getDispute)
		r.Get("/actors/{address}/disputes", s.listDisputesByActor)
		r.Get("/actors/{address}/ratelimit", s.getRateLimitStatus)
		r.Get("/security/metrics", s.getSecurityMetrics)
		r.Get("/security/blocked", s.listBlocked)
		r.Get("/security/blocked/{address}", s.getBlocked)
		r.Get("/audit", s.listAudit)
	})
	return r
}

func (s *Server) Start(addr string) error {
	s.logger.Info("starting gateway", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

// requestID tags every request so gateway logs correlate across services.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type escrowView struct {
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
	DisputeDeadline int64  `json:"disputeDeadline,omitempty"`
}

func newEscrowView(e *escrow.Escrow) escrowView {
	return escrowView{
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
		DisputeDeadline: e.DisputeDeadline,
	}
}

type disputeView struct {
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

func newDisputeView(d *dispute.Dispute) disputeView {
	return disputeView{
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

func subjectRefFromURL(r *http.Request) (types.SubjectRef, error) {
	var kind types.SubjectKind
	switch chi.URLParam(r, "kind") {
	case "job":
		kind = types.SubjectJob
	case "bounty":
		kind = types.SubjectBounty
	default:
		return types.SubjectRef{}, errBadSubject
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return types.SubjectRef{}, errBadSubject
	}
	return types.SubjectRef{Kind: kind, ID: id}, nil
}

var errBadSubject = &badRequestError{"invalid subject reference"}

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func (s *Server) getEscrow(w http.ResponseWriter, r *http.Request) {
	raw, err := hex.DecodeString(chi.URLParam(r, "id"))
	if err != nil || len(raw) != 32 {
		writeErr(w, http.StatusBadRequest, "escrow id must be 64 hex characters")
		return
	}
	var id [32]byte
	copy(id[:], raw)
	esc, ok, err := s.node.GetEscrow(id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "escrow not found")
		return
	}
	writeJSON(w, http.StatusOK, newEscrowView(esc))
}

func (s *Server) getEscrowBySubject(w http.ResponseWriter, r *http.Request) {
	ref, err := subjectRefFromURL(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	esc, ok, err := s.node.EscrowBySubject(ref)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "escrow not found")
		return
	}
	writeJSON(w, http.StatusOK, newEscrowView(esc))
}

func (s *Server) getDispute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid dispute id")
		return
	}
	d, ok, err := s.node.GetDispute(id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "dispute not found")
		return
	}
	writeJSON(w, http.StatusOK, newDisputeView(d))
}

func (s *Server) listDisputesBySubject(w http.ResponseWriter, r *http.Request) {
	ref, err := subjectRefFromURL(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.node.DisputeBySubject(ref)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := []disputeView{}
	if d != nil {
		views = append(views, newDisputeView(d))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) listDisputesByActor(w http.ResponseWriter, r *http.Request) {
	actor, err := types.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	disputes, err := s.node.DisputesByActor(actor, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]disputeView, 0, len(disputes))
	for _, d := range disputes {
		views = append(views, newDisputeView(d))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := types.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	status, ok, err := s.node.RateLimitStatus(actor)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"counters": map[string]uint64{}})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) getSecurityMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.node.SecurityMetrics()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) listBlocked(w http.ResponseWriter, r *http.Request) {
	blocked, err := s.node.BlockedAddresses()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, blocked)
}

func (s *Server) getBlocked(w http.ResponseWriter, r *http.Request) {
	addr, err := types.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	blocked, err := s.node.IsBlocked(addr)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"blocked": blocked})
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	entries, err := s.node.AuditList(query.Get("startAfter"), limit, query.Get("action"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	type entryView struct {
		ID        string `json:"id"`
		Action    string `json:"action"`
		Actor     string `json:"actor"`
		Reference string `json:"reference,omitempty"`
		Timestamp int64  `json:"timestamp"`
		Success   bool   `json:"success"`
		Error     string `json:"error,omitempty"`
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{
			ID:        e.ID,
			Action:    e.Action,
			Actor:     e.Actor.String(),
			Reference: e.Reference,
			Timestamp: e.Timestamp,
			Success:   e.Success,
			Error:     e.Error,
		})
	}
	writeJSON(w, http.StatusOK, views)
}
