package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/repository"
)

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return false
	}
	return true
}

type analyzeDirectiveRequest struct {
	Directive string `json:"directive" validate:"required"`
	Submitter string `json:"submitter" validate:"required"`
}

func (s *Server) handleAnalyzeDirective(w http.ResponseWriter, r *http.Request) {
	var req analyzeDirectiveRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	b, err := s.briefs.Analyze(req.Directive, req.Submitter)
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBrief(w http.ResponseWriter, r *http.Request) {
	b, err := s.briefs.Get(chi.URLParam(r, "briefID"))
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, b)
}

type respondBriefRequest struct {
	QuestionID string `json:"question_id" validate:"required"`
	Response   string `json:"response" validate:"required"`
}

func (s *Server) handleRespondBrief(w http.ResponseWriter, r *http.Request) {
	var req respondBriefRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	b, err := s.briefs.RecordResponse(chi.URLParam(r, "briefID"), req.QuestionID, req.Response)
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleFinalizeBrief(w http.ResponseWriter, r *http.Request) {
	b, err := s.briefs.Finalize(chi.URLParam(r, "briefID"))
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, b)
}

type createWorkflowRequest struct {
	Directive string `json:"directive"`
	BriefID   string `json:"brief_id"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.Directive == "" && req.BriefID == "" {
		respondError(w, http.StatusBadRequest, "directive or brief_id is required")
		return
	}
	wf, err := s.orch.CreateWorkflow(r.Context(), req.Directive, req.BriefID)
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orch.GetWorkflow(chi.URLParam(r, "workflowID"))
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	filter := repository.WorkflowFilter{Status: r.URL.Query().Get("status")}
	respondJSON(w, http.StatusOK, s.orch.ListWorkflows(filter))
}

type cancelWorkflowRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (s *Server) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	var req cancelWorkflowRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	wf, err := s.orch.CancelWorkflow(r.Context(), chi.URLParam(r, "workflowID"), req.Reason)
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

type approvalDecisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected needs_revision"`
	Approver string `json:"approver" validate:"required"`
	Comments string `json:"comments"`
}

func (s *Server) handleRecordApprovalDecision(w http.ResponseWriter, r *http.Request) {
	var req approvalDecisionRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	wf, err := s.orch.RecordApprovalDecision(r.Context(), chi.URLParam(r, "workflowID"), req.Decision, req.Approver, req.Comments)
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

type emergencyUnblockRequest struct {
	Approver string `json:"approver" validate:"required"`
	Reason   string `json:"reason" validate:"required"`
}

func (s *Server) handleEmergencyUnblock(w http.ResponseWriter, r *http.Request) {
	var req emergencyUnblockRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	wf, err := s.orch.EmergencyUnblock(r.Context(), chi.URLParam(r, "workflowID"), req.Approver, req.Reason)
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	withLineage, err := s.lineage.GetWithLineage(chi.URLParam(r, "artifactID"))
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, withLineage)
}

func (s *Server) handleSearchArtifacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria := model.SearchCriteria{
		WorkflowID:    q.Get("workflow_id"),
		AgentName:     q.Get("agent"),
		FileName:      q.Get("name"),
		FileType:      q.Get("type"),
		ContentSubstr: q.Get("contains"),
	}
	respondJSON(w, http.StatusOK, s.lineage.Search(criteria))
}

func (s *Server) handleStreamArtifact(w http.ResponseWriter, r *http.Request) {
	withLineage, err := s.lineage.GetWithLineage(chi.URLParam(r, "artifactID"))
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	a := withLineage.Artifact
	data, err := readArtifactBytes(s.workspaceRoot, a)
	if err != nil {
		respondError(w, httpStatusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Artifact-Hash", a.ContentHash)
	w.Header().Set("X-Artifact-Name", a.Name)
	_, _ = w.Write(data)
}
