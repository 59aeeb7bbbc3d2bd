package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"

	"citetrail/internal/config"
	"citetrail/internal/faults"
	"citetrail/internal/gateway"
	"citetrail/internal/models"
	"citetrail/internal/papersearch"
	"citetrail/internal/provenance"
	"citetrail/internal/research"
	"citetrail/internal/storage"
	"citetrail/internal/workflows"
)

type Server struct {
	cfg          config.Config
	projectRepo  *storage.ProjectRepo
	paperRepo    *storage.PaperRepo
	chunkRepo    *storage.ChunkRepo
	synthRepo    *storage.SynthesisRepo
	citationRepo *storage.CitationRepo
	search       papersearch.Client
	gateway      gateway.Client
	query        *research.QueryService
	linker       *provenance.Linker
	temporal     tclient.Client
	log          zerolog.Logger
}

func NewServer(cfg config.Config, db *storage.DB, search papersearch.Client, gw gateway.Client, query *research.QueryService, linker *provenance.Linker, temporal tclient.Client, log zerolog.Logger) *Server {
	return &Server{
		cfg:          cfg,
		projectRepo:  storage.NewProjectRepo(db),
		paperRepo:    storage.NewPaperRepo(db),
		chunkRepo:    storage.NewChunkRepo(db),
		synthRepo:    storage.NewSynthesisRepo(db),
		citationRepo: storage.NewCitationRepo(db),
		search:       search,
		gateway:      gw,
		query:        query,
		linker:       linker,
		temporal:     temporal,
		log:          log,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/projects", s.handleProjects)
	mux.HandleFunc("/projects/", s.handleProjectScoped)
	mux.HandleFunc("/papers/", s.handlePaperScoped)
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/syntheses/", s.handleSynthesis)
	mux.HandleFunc("/citations", s.handleCitations)
	mux.HandleFunc("/citations/", s.handleCitationScoped)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}
	if req.Limit <= 0 || req.Limit > 50 {
		req.Limit = 10
	}
	results, err := s.search.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projects, err := s.projectRepo.ListProjects(r.Context())
		if err != nil {
			s.writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("name is required"))
			return
		}
		p := models.Project{ProjectID: uuid.NewString(), Name: req.Name}
		if err := s.projectRepo.CreateProject(r.Context(), p); err != nil {
			s.writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"project_id": p.ProjectID, "name": p.Name})
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *Server) handleProjectScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/projects/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	projectID := parts[0]
	if err := requireUUID("project_id", projectID); err != nil {
		s.writeFault(w, r, err)
		return
	}

	if len(parts) == 2 && parts[1] == "papers" {
		switch r.Method {
		case http.MethodGet:
			papers, err := s.paperRepo.ListPapersByProject(r.Context(), projectID)
			if err != nil {
				s.writeFault(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"papers": papers})
		case http.MethodPost:
			s.handleAddPaper(w, r, projectID)
		default:
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		}
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		p, err := s.projectRepo.GetProject(r.Context(), projectID)
		if err != nil {
			s.writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) handleAddPaper(w http.ResponseWriter, r *http.Request, projectID string) {
	var req struct {
		DOI        string          `json:"doi"`
		ArxivID    string          `json:"arxiv_id"`
		ExternalID string          `json:"external_id"`
		Title      string          `json:"title"`
		Authors    []models.Author `json:"authors"`
		Year       *int            `json:"year"`
		Venue      string          `json:"venue"`
		PDFURL     string          `json:"pdf_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("title is required"))
		return
	}
	if _, err := s.projectRepo.GetProject(r.Context(), projectID); err != nil {
		s.writeFault(w, r, err)
		return
	}

	p := models.Paper{
		PaperID:    uuid.NewString(),
		ProjectID:  projectID,
		DOI:        strings.TrimSpace(req.DOI),
		ArxivID:    strings.TrimSpace(req.ArxivID),
		ExternalID: strings.TrimSpace(req.ExternalID),
		Title:      req.Title,
		Authors:    req.Authors,
		Year:       req.Year,
		Venue:      strings.TrimSpace(req.Venue),
		PDFURL:     strings.TrimSpace(req.PDFURL),
		Status:     models.StatusPending,
	}
	if err := s.paperRepo.CreatePaper(r.Context(), p); err != nil {
		s.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"paper_id": p.PaperID, "status": string(p.Status)})
}

func (s *Server) handlePaperScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/papers/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	paperID := parts[0]
	if err := requireUUID("paper_id", paperID); err != nil {
		s.writeFault(w, r, err)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			p, err := s.paperRepo.GetPaper(r.Context(), paperID)
			if err != nil {
				s.writeFault(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, p)
		case http.MethodDelete:
			s.handleDeletePaper(w, r, paperID)
		default:
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		}
		return
	}

	if len(parts) == 2 && parts[1] == "chunks" {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		if _, err := s.paperRepo.GetPaper(r.Context(), paperID); err != nil {
			s.writeFault(w, r, err)
			return
		}
		chunks, err := s.chunkRepo.ListByPaper(r.Context(), paperID)
		if err != nil {
			s.writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
		return
	}

	if len(parts) == 2 && parts[1] == "ingest" {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleIngest(w, r, paperID)
		return
	}

	if len(parts) == 2 && parts[1] == "progress" {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleIngestProgress(w, r, paperID)
		return
	}

	writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request, paperID string) {
	force := r.URL.Query().Get("force") == "true"
	p, err := s.paperRepo.GetPaper(r.Context(), paperID)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}

	switch p.Status {
	case models.StatusReady:
		if !force {
			writeJSON(w, http.StatusOK, map[string]any{"paper_id": paperID, "status": string(p.Status), "ingested": false})
			return
		}
	case models.StatusFailed:
		if err := s.paperRepo.ResetForRetry(r.Context(), paperID); err != nil {
			s.writeFault(w, r, err)
			return
		}
	case models.StatusPending:
		// first ingestion
	default:
		writeErr(w, http.StatusConflict, fmt.Errorf("ingestion already in progress for paper %s", paperID))
		return
	}

	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       "ingest-paper-" + paperID,
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.PaperIngestWorkflow, workflows.PaperIngestInput{PaperID: paperID, Force: force})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"paper_id":    paperID,
		"workflow_id": we.GetID(),
		"run_id":      we.GetRunID(),
		"force":       force,
	})
}

func (s *Server) handleIngestProgress(w http.ResponseWriter, r *http.Request, paperID string) {
	var status workflows.PaperIngestStatus
	resp, err := s.temporal.QueryWorkflow(r.Context(), "ingest-paper-"+paperID, "", workflows.QueryGetIngestStatus)
	if err != nil {
		// No live workflow to query; report the durable state instead.
		p, pErr := s.paperRepo.GetPaper(r.Context(), paperID)
		if pErr != nil {
			s.writeFault(w, r, pErr)
			return
		}
		writeJSON(w, http.StatusOK, workflows.PaperIngestStatus{
			PaperID:    paperID,
			Status:     string(p.Status),
			FailReason: p.FailReason,
			DocName:    p.DocName,
			ChunkCount: p.ChunkCount,
		})
		return
	}
	if err := resp.Get(&status); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDeletePaper(w http.ResponseWriter, r *http.Request, paperID string) {
	force := r.URL.Query().Get("force") == "true"
	p, err := s.paperRepo.GetPaper(r.Context(), paperID)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	if err := s.paperRepo.DeletePaper(r.Context(), paperID, force); err != nil {
		s.writeFault(w, r, err)
		return
	}
	if p.DocName != "" {
		if err := s.gateway.DeleteDocument(r.Context(), p.DocName); err != nil {
			s.log.Warn().Err(err).Str("doc_name", p.DocName).Msg("paper deleted locally but gateway document removal failed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"paper_id": paperID, "deleted": true, "force": force})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		ProjectID string `json:"project_id"`
		Question  string `json:"question"`
		Mode      string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.Question = strings.TrimSpace(req.Question)
	if req.ProjectID == "" || req.Question == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("project_id and question are required"))
		return
	}
	if err := requireUUID("project_id", req.ProjectID); err != nil {
		s.writeFault(w, r, err)
		return
	}
	if _, err := s.projectRepo.GetProject(r.Context(), req.ProjectID); err != nil {
		s.writeFault(w, r, err)
		return
	}
	ans, err := s.query.Ask(r.Context(), req.ProjectID, req.Question, gateway.QueryMode(req.Mode))
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) handleSynthesis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/syntheses/"), "/")
	if id == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if err := requireUUID("synthesis_id", id); err != nil {
		s.writeFault(w, r, err)
		return
	}
	syn, err := s.synthRepo.GetSynthesis(r.Context(), id)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syn)
}

func (s *Server) handleCitations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req models.Citation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	for field, v := range map[string]string{"paper_id": req.PaperID, "chunk_id": req.ChunkID, "synthesis_id": req.SynthesisID} {
		if v == "" {
			continue
		}
		if err := requireUUID(field, v); err != nil {
			s.writeFault(w, r, err)
			return
		}
	}
	id, err := s.linker.Create(r.Context(), req)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"citation_id": id})
}

func (s *Server) handleCitationScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/citations/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	citationID := parts[0]
	if err := requireUUID("citation_id", citationID); err != nil {
		s.writeFault(w, r, err)
		return
	}

	switch parts[1] {
	case "provenance":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		pv, err := s.linker.Provenance(r.Context(), citationID)
		if err != nil {
			s.writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pv)
	case "verify":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		res, err := s.linker.Verify(r.Context(), citationID)
		if err != nil {
			s.writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

// requireUUID rejects malformed ids before they reach uuid-typed SQL
// parameters, where Postgres would surface them as opaque 500s.
func requireUUID(field, v string) error {
	if _, err := uuid.Parse(v); err != nil {
		return faults.Newf(faults.KindValidation, "%s is not a valid id", field)
	}
	return nil
}

// writeFault translates the fault taxonomy into HTTP. Unknown references
// are logged loudly: a client holding a dead id usually means a bug on
// one side or the other.
func (s *Server) writeFault(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForFault(err)
	if status == http.StatusNotFound || status >= 500 {
		s.log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	writeErr(w, status, err)
}

func statusForFault(err error) int {
	switch faults.KindOf(err) {
	case faults.KindValidation:
		if errors.Is(err, faults.ErrPaperCited) || errors.Is(err, faults.ErrDuplicateOrder) || errors.Is(err, faults.ErrInvalidPaper) {
			return http.StatusConflict
		}
		if errors.Is(err, faults.ErrRejectedInput) {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case faults.KindUnknownRef:
		return http.StatusNotFound
	case faults.KindUpstream:
		return http.StatusBadGateway
	case faults.KindUnparsable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "CT-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status >= 500 && status != http.StatusBadGateway:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "CT-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "CT-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "CT-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "CT-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "CT-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "CT-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusUnprocessableEntity:
		code = "CT-API-4022"
		msg = "The content could not be processed."
	case status == http.StatusMethodNotAllowed:
		code = "CT-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusBadGateway:
		code = "CT-API-5020"
		msg = "Upstream service unavailable. Retry shortly."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "name is required"):
			msg = "Project name is required."
		case strings.Contains(raw, "title is required"):
			msg = "Paper title is required."
		case strings.Contains(raw, "query is required"):
			msg = "Search query is required."
		case strings.Contains(raw, "project_id and question are required"):
			msg = "Both project and question are required."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		case errors.Is(err, faults.ErrPaperCited):
			msg = "Paper is referenced by citations. Delete with force to mark them source-removed."
		case errors.Is(err, faults.ErrPaperChunkMismatch):
			msg = "Cited chunk belongs to a different paper."
		case errors.Is(err, faults.ErrNoExtractableText):
			msg = "The PDF contains no extractable text."
		case strings.Contains(raw, "already in progress"):
			msg = "Ingestion is already in progress for this paper."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
