package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/headline-goat/popup-goat/internal/eligibility"
	"github.com/headline-goat/popup-goat/internal/stats"
	"github.com/headline-goat/popup-goat/internal/store"
	"github.com/headline-goat/popup-goat/internal/targeting"
)

type HealthResponse struct {
	Status           string `json:"status"`
	CampaignsCount   int    `json:"campaigns_count"`
	ExperimentsCount int    `json:"experiments_count"`
	DBSizeBytes      int64  `json:"db_size_bytes"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()

	campaigns, err := s.app.Store.ListCampaigns(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	experiments, err := s.app.Store.ListExperiments(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	var dbSize int64
	row := s.app.SQLite.DB().QueryRowContext(ctx, "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	_ = row.Scan(&dbSize)

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		CampaignsCount:   len(campaigns),
		ExperimentsCount: len(experiments),
		DBSizeBytes:      dbSize,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	})
}

// DecideRequest is the page-view snapshot sent by the overlay script.
type DecideRequest struct {
	CampaignID   int64    `json:"campaign_id"`
	ExperimentID int64    `json:"experiment_id"`
	VisitorID    string   `json:"visitor_id"`
	URL          string   `json:"url"`
	ContentID    int64    `json:"content_id"`
	ContentType  string   `json:"content_type"`
	Returning    *bool    `json:"returning"`
	Roles        []string `json:"roles"`
	DeviceType   string   `json:"device_type"`
	Browser      string   `json:"browser"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "POST, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CampaignID == 0 && req.ExperimentID == 0 {
		writeError(w, http.StatusBadRequest, "campaign_id or experiment_id is required")
		return
	}

	v := resolveVisitor(r, req.VisitorID)
	if v.fresh {
		setVisitorCookie(w, v.ID)
	}

	device, browser := parseUserAgent(r.UserAgent())
	if req.DeviceType != "" {
		device = req.DeviceType
	}
	if req.Browser != "" {
		browser = req.Browser
	}
	returning := v.Returning
	if req.Returning != nil {
		returning = *req.Returning
	}
	// Body roles are honoured only for an identified user.
	roles := v.Roles
	if v.LoggedIn {
		roles = append(roles, req.Roles...)
	}

	d, err := s.app.Service.Decide(r.Context(), eligibility.DecisionRequest{
		CampaignID:   req.CampaignID,
		ExperimentID: req.ExperimentID,
		VisitorID:    v.ID,
		Context: targeting.RequestContext{
			URL:         req.URL,
			ContentID:   req.ContentID,
			ContentType: req.ContentType,
			LoggedIn:    v.LoggedIn,
			Roles:       roles,
			Returning:   returning,
			DeviceType:  device,
			Browser:     browser,
		},
	})
	if err != nil {
		// Fail closed: the body still says not eligible.
		writeJSON(w, statusFor(err), d)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "POST, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req eligibility.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.VisitorID = resolveVisitor(r, req.VisitorID).ID

	if err := s.app.Service.RecordEvent(r.Context(), req); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		campaigns, err := s.app.Store.ListCampaigns(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if campaigns == nil {
			campaigns = []*store.Campaign{}
		}
		writeJSON(w, http.StatusOK, campaigns)

	case http.MethodPost:
		var c store.Campaign
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		created, err := s.app.Service.CreateCampaign(r.Context(), &c)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		c, err := s.app.Store.GetCampaign(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)

	case http.MethodPut:
		var c store.Campaign
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		c.ID = id
		if err := s.app.Service.UpdateCampaign(r.Context(), &c); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &c)

	case http.MethodDelete:
		if err := s.app.Service.DeleteCampaign(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		experiments, err := s.app.Store.ListExperiments(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if experiments == nil {
			experiments = []*store.Experiment{}
		}
		writeJSON(w, http.StatusOK, experiments)

	case http.MethodPost:
		var e store.Experiment
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		created, err := s.app.Service.CreateExperiment(r.Context(), &e)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.app.Service.StartExperiment(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeclareWinner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		WinnerID int64 `json:"winner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := s.app.Service.DeclareWinner(r.Context(), id, req.WinnerID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type VariantResponse struct {
	CampaignID  int64   `json:"campaign_id"`
	Name        string  `json:"name"`
	Weight      int     `json:"weight"`
	Displays    int     `json:"displays"`
	Interacted  int     `json:"interacted"`
	Conversions int     `json:"conversions"`
	Rate        float64 `json:"rate"`
	CILower     float64 `json:"ci_lower"`
	CIUpper     float64 `json:"ci_upper"`
	Leader      bool    `json:"leader"`
}

type ComparisonResponse struct {
	CampaignID     int64        `json:"campaign_id"`
	Significant    bool         `json:"significant"`
	ConfidencePct  float64      `json:"confidence_pct"`
	PValue         float64      `json:"p_value"`
	ZScore         float64      `json:"z_score"`
	ImprovementPct float64      `json:"improvement_pct"`
	Reason         stats.Reason `json:"reason,omitempty"`
}

type ResultsResponse struct {
	Experiment  *store.Experiment    `json:"experiment"`
	Variants    []VariantResponse    `json:"variants"`
	Comparisons []ComparisonResponse `json:"comparisons"`
	Ready       bool                 `json:"ready"`
	Confident   bool                 `json:"confident"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	res, err := s.app.Service.Results(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := ResultsResponse{
		Experiment:  res.Experiment,
		Variants:    []VariantResponse{},
		Comparisons: []ComparisonResponse{},
		Ready:       res.Summary.Ready,
		Confident:   res.Summary.Confident,
	}
	for i, v := range res.Summary.Variants {
		resp.Variants = append(resp.Variants, VariantResponse{
			CampaignID:  v.CampaignID,
			Name:        v.Name,
			Weight:      v.Weight,
			Displays:    v.Sample.Displays,
			Interacted:  v.Interacted,
			Conversions: v.Sample.Conversions,
			Rate:        v.Rate,
			CILower:     v.CILower,
			CIUpper:     v.CIUpper,
			Leader:      i == res.Summary.Leader,
		})
	}
	for _, c := range res.Summary.Comparisons {
		resp.Comparisons = append(resp.Comparisons, ComparisonResponse{
			CampaignID:     c.CampaignID,
			Significant:    c.Result.Significant,
			ConfidencePct:  c.Result.ConfidencePct,
			PValue:         c.Result.PValue,
			ZScore:         c.Result.ZScore,
			ImprovementPct: c.Result.ImprovementPct,
			Reason:         c.Result.Reason,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.Controller.Run(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		msg = http.StatusText(status)
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
