package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"futarchy/crypto"
	"futarchy/gateway/middleware"
	"futarchy/native/futarchy"
	obsmetrics "futarchy/observability/metrics"
	"futarchy/services/futarchyd/config"
)

// QueueRegistry looks up the live ProposalQueue for a DAO, letting the HTTP
// layer drive admission operations without owning queue lifetime itself.
// Queues are bound with Register; cmd/futarchyd's bootstrap creates the
// registry empty.
type QueueRegistry struct {
	mu     sync.Mutex
	queues map[uint64]*futarchy.ProposalQueue
}

// NewQueueRegistry constructs an empty registry.
func NewQueueRegistry() *QueueRegistry {
	return &QueueRegistry{queues: make(map[uint64]*futarchy.ProposalQueue)}
}

// Register binds a DAO id to its queue.
func (r *QueueRegistry) Register(daoID uint64, q *futarchy.ProposalQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[daoID] = q
}

// Get returns the queue bound to daoID, if any.
func (r *QueueRegistry) Get(daoID uint64) (*futarchy.ProposalQueue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[daoID]
	return q, ok
}

// Engines bundles the constructed native/futarchy engines the HTTP surface
// dispatches to, wired once at startup by main.go.
type Engines struct {
	Store      *futarchy.Store
	Lifecycle  *futarchy.LifecycleEngine
	Queue      *futarchy.QueueEngine
	Queues     *QueueRegistry
	Config     *futarchy.ConfigEngine
	Fees       *futarchy.FeeManager
	PropFees   *futarchy.ProposalFeeManager
	Dispatcher *futarchy.Dispatcher
	Council    *futarchy.CouncilEngine
	Audit      *futarchy.AuditLog
}

// Server exposes the crank/admin HTTP API described in SPEC_FULL.md's
// DOMAIN STACK: activation, stage-advancement, eviction, and fee-collection
// endpoints over chi (there is no submission endpoint), mirroring gateway/routes' router
// construction and middleware composition even though this service speaks
// directly to in-process engines rather than proxying to a backend.
type Server struct {
	engines Engines
	logger  *slog.Logger
}

// New constructs the HTTP handler for the futarchy service.
func New(engines Engines, cfg config.Config, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engines: engines, logger: logger}

	var authenticator *middleware.Authenticator
	if cfg.Auth.Enabled {
		authenticator = middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}, nil)
	}
	rateLimiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"crank": {RatePerSecond: cfg.Crank.RateLimitPerSecond, Burst: cfg.Crank.RateLimitBurst},
	}, nil)

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/proposals", func(pr chi.Router) {
		pr.Use(rateLimiter.Middleware("crank"))
		pr.Post("/{proposalId}/advance", s.handleAdvanceStage)
		pr.Post("/dao/{daoId}/evict/{proposalId}", s.handleEvict)
	})

	r.Route("/v1/queue", func(qr chi.Router) {
		qr.Use(rateLimiter.Middleware("crank"))
		qr.Post("/dao/{daoId}/activate", s.handleActivate)
	})

	r.Route("/v1/admin", func(ar chi.Router) {
		if authenticator != nil {
			ar.Use(authenticator.Middleware("futarchy:admin"))
		}
		ar.Post("/dao/{daoId}/collect-fee", s.handleCollectFee)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseURLParamUint64(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, name), 10, 64)
}

// handleAdvanceStage drives a proposal through its next lifecycle
// transition (REVIEW->TRADING or TRADING->FINALIZED). On finalization it
// mints a ProposalExecutionContext and immediately runs it through the
// dispatcher, since the crank caller has no further role to play once the
// winning outcome is known (spec.md §4.1, §4.4).
func (s *Server) handleAdvanceStage(w http.ResponseWriter, r *http.Request) {
	proposalID, err := parseURLParamUint64(r, "proposalId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := s.engines.Lifecycle.AdvanceStage(proposalID)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	if receipt == nil {
		obsmetrics.Futarchy().ObserveStageAdvance("trading")
		s.engines.Audit.Record(futarchy.AuditRecord{ProposalID: proposalID, Action: "advance_stage"})
		writeJSON(w, http.StatusOK, map[string]string{"status": "trading"})
		return
	}

	obsmetrics.Futarchy().ObserveStageAdvance("finalized")
	info, _, _ := s.engines.Store.GetProposalInfo(proposalID)
	var dao *futarchy.DAO
	if info != nil {
		dao, _, _ = s.engines.Store.GetDAO(info.DaoID)
	}
	ctx := futarchy.NewProposalExecutionContext(receipt)
	execErr := error(nil)
	if dao != nil {
		execErr = s.engines.Dispatcher.Execute(ctx, dao)
	}
	s.engines.Audit.Record(futarchy.AuditRecord{
		ProposalID: proposalID,
		Action:     "finalize_and_execute",
		Detail:     map[string]string{"winningOutcome": strconv.Itoa(int(ctx.WinningOutcome))},
	})
	if execErr != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "finalized", "winningOutcome": ctx.WinningOutcome, "executionError": execErr.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "finalized_and_executed", "winningOutcome": ctx.WinningOutcome})
}

// handleEvict evicts a stale queued proposal, releasing its held submission
// fee to protocol revenue and slashing its bond (spec.md §4.2).
func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	daoID, err := parseURLParamUint64(r, "daoId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	proposalID, err := parseURLParamUint64(r, "proposalId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q, ok := s.engines.Queues.Get(daoID)
	if !ok {
		writeError(w, http.StatusNotFound, futarchy.ErrProposalNotFound)
		return
	}
	dao, ok, err := s.engines.Store.GetDAO(daoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, futarchy.ErrProposalNotFound)
		return
	}
	entry, err := s.engines.Queue.EvictStale(q, proposalID, dao.TreasuryConfigured)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	recipient := "proposer"
	if dao.TreasuryConfigured {
		recipient = "treasury"
	}
	if entry.Bond != nil && entry.Bond.Sign() > 0 {
		obsmetrics.Futarchy().ObserveBondSlashed(recipient)
	}
	s.engines.Audit.Record(futarchy.AuditRecord{DaoID: daoID, ProposalID: proposalID, Action: "evict_stale"})
	writeJSON(w, http.StatusOK, map[string]string{"status": "evicted"})
}

// activateRequest is the body for /v1/queue/dao/{daoId}/activate: callers
// name which entry kind to pop (proposer-funded or dao-funded) and who the
// activator reward is paid to (spec.md §4.2).
type activateRequest struct {
	DaoFunded bool   `json:"daoFunded"`
	Activator string `json:"activator"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	daoID, err := parseURLParamUint64(r, "daoId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	activator, err := crypto.DecodeAddress(req.Activator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q, ok := s.engines.Queues.Get(daoID)
	if !ok {
		writeError(w, http.StatusNotFound, futarchy.ErrProposalNotFound)
		return
	}

	var entry *futarchy.QueuedProposal
	var reward interface{ String() string }
	if req.DaoFunded {
		e, rewardAmt, err := s.engines.Queue.ActivateNextDaoFunded(q, activator)
		if err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		entry, reward = e, rewardAmt
	} else {
		e, rewardAmt, err := s.engines.Queue.ActivateNextProposerFunded(q, activator)
		if err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		entry, reward = e, rewardAmt
	}

	proposal, err := s.engines.Lifecycle.Create(entry.ProposalID, futarchy.CreateParams{
		DaoID:            entry.DaoID,
		Proposer:         entry.Proposer,
		Title:            entry.Data.Title,
		OutcomeMessages:  entry.Data.OutcomeMessages,
		OutcomeDetails:   entry.Data.OutcomeDetails,
		AssetAmounts:     entry.Data.AssetAmounts,
		StableAmounts:    entry.Data.StableAmounts,
		UsesDaoLiquidity: entry.UsesDaoLiquidity,
	})
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	s.engines.Audit.Record(futarchy.AuditRecord{DaoID: daoID, ProposalID: entry.ProposalID, Action: "activate_from_queue"})
	resp := map[string]any{"proposalId": proposal.ID}
	if reward != nil {
		resp["activatorReward"] = reward.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCollectFee(w http.ResponseWriter, r *http.Request) {
	daoID, err := parseURLParamUint64(r, "daoId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	dao, ok, err := s.engines.Store.GetDAO(daoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, futarchy.ErrProposalNotFound)
		return
	}
	fee, err := s.engines.Fees.CollectDueFee(daoID, dao.Config.Governance.ProposalFeePerOutcome)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	obsmetrics.Futarchy().SetFeePaused(strconv.FormatUint(daoID, 10), false)
	s.engines.Audit.Record(futarchy.AuditRecord{DaoID: daoID, Action: "collect_dao_platform_fee", Detail: map[string]string{"amount": fee.String()}})
	writeJSON(w, http.StatusOK, map[string]string{"collected": fee.String()})
}
