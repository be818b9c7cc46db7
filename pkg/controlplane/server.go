// Package controlplane implements Component F of SPEC_FULL.md: a small
// stateless HTTP surface over the Publisher, letting an operator request an
// on-demand publication bypassing the driver loop (but not the rate
// limiter) and exposing Prometheus metrics.
//
// Grounded on spec.md §4.6/§6 and, for the status-polling supplement, on
// original_source/janitor/site/publish.py (dropped by the distillation).
// Routing uses gorilla/mux; metrics registration follows the
// promauto/promhttp pattern used for gitserver-style counters in the
// broader retrieval pack.
package controlplane

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/threatcode/janitor/pkg/codes"
	"github.com/threatcode/janitor/pkg/model"
	"github.com/threatcode/janitor/pkg/publisher"
	"github.com/threatcode/janitor/pkg/ratelimit"
	"github.com/threatcode/janitor/pkg/store"
)

// openProposalGauge mirrors original_source/janitor/publish.py's
// Prometheus gauge open_proposal_count, one series per maintainer.
var openProposalGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "janitor_open_proposals",
	Help: "Number of open merge proposals, per maintainer.",
}, []string{"maintainer"})

// Server is the stateless control-plane HTTP surface.
type Server struct {
	Publisher *publisher.Publisher
	Store     *store.DB
	Limiter   ratelimit.Limiter
}

// New builds the mux router wiring both the publish endpoints and /metrics.
func New(pub *publisher.Publisher, db *store.DB, limiter ratelimit.Limiter) http.Handler {
	s := &Server{Publisher: pub, Store: db, Limiter: limiter}

	r := mux.NewRouter()
	r.HandleFunc("/{suite}/{package}/publish", s.handlePublish).Methods(http.MethodPost)
	r.HandleFunc("/{suite}/{package}/publish/{id}", s.handlePublishStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

type publishResponse struct {
	BranchName string `json:"branch_name"`
	Mode       string `json:"mode"`
	IsNew      bool   `json:"is_new"`
	Proposal   string `json:"proposal,omitempty"`
}

type errorResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// handlePublish effects POST /{suite}/{package}/publish per spec.md §6:
// 200 on success, 400 with a coded body on failure, 429 when the rate
// limiter blocks the requested mode.
func (s *Server) handlePublish(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	suite, pkgName := vars["suite"], vars["package"]

	if err := req.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, codes.ConfigError, "malformed form body")
		return
	}
	mode := model.PublicationMode(req.FormValue("mode"))
	if mode == "" {
		writeError(w, http.StatusBadRequest, codes.ConfigError, "missing required field 'mode'")
		return
	}

	pkg, err := s.Store.GetPackage(pkgName)
	if err != nil {
		writeError(w, http.StatusBadRequest, codes.ConfigError, fmt.Sprintf("unknown package %q", pkgName))
		return
	}

	if (mode == model.ModePropose || mode == model.ModeAttemptPush) && !s.Limiter.Allowed(pkg.Maintainer) {
		writeError(w, http.StatusTooManyRequests, codes.RateLimited, fmt.Sprintf("maintainer %s is at their open-proposal cap", pkg.Maintainer))
		return
	}

	run, err := s.Store.LatestRunFor(pkgName, suite)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, codes.NothingToDo, "no publish-ready run recorded for this package/campaign")
			return
		}
		writeError(w, http.StatusBadRequest, codes.ConfigError, err.Error())
		return
	}
	if !model.IsPublishReady(run.Result) {
		writeError(w, http.StatusBadRequest, string(run.Result), "latest run is not publish-ready")
		return
	}

	_, hadProposal, _ := s.Store.FindProposalForPackageCampaign(pkgName, suite)

	pub, err := s.Publisher.PublishOne(req.Context(), run, mode, model.RequestorOnDemand)
	if err != nil {
		var coded *codes.Error
		if errors.As(err, &coded) {
			writeError(w, http.StatusBadRequest, coded.Code, coded.Description)
			return
		}
		writeError(w, http.StatusBadRequest, codes.WorkerFailure, err.Error())
		return
	}

	isNew := !hadProposal && pub.ProposalURL != ""

	writeJSON(w, http.StatusOK, publishResponse{
		BranchName: pub.BranchName,
		Mode:       string(pub.Mode),
		IsNew:      isNew,
		Proposal:   pub.ProposalURL,
	})

	refreshMetrics(s.Store)
}

// handlePublishStatus effects the status-polling supplement:
// GET /{suite}/{package}/publish/{id}, returning the branch name, mode and
// proposal URL of the latest Publication recorded for a run id that was
// previously submitted for publication. The outcome code is not included,
// and is_new is always false.
func (s *Server) handlePublishStatus(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	runID := vars["id"]

	pubs, err := s.Store.ListPublicationsForRun(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codes.WorkerFailure, err.Error())
		return
	}
	if len(pubs) == 0 {
		writeError(w, http.StatusNotFound, codes.NothingToDo, fmt.Sprintf("no publication recorded for run %q", runID))
		return
	}

	latest := pubs[len(pubs)-1]
	writeJSON(w, http.StatusOK, publishResponse{
		BranchName: latest.BranchName,
		Mode:       string(latest.Mode),
		IsNew:      false,
		Proposal:   latest.ProposalURL,
	})
}

func refreshMetrics(db *store.DB) {
	counts, err := db.OpenCountsByMaintainer()
	if err != nil {
		return
	}
	openProposalGauge.Reset()
	for maintainer, count := range counts {
		openProposalGauge.WithLabelValues(maintainer).Set(float64(count))
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Code: code, Description: description})
}
