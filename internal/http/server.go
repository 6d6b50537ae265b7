package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hireflow/hireflow/internal/log"
	"github.com/hireflow/hireflow/pkg/models"
	"github.com/hireflow/hireflow/pkg/service"
	"github.com/hireflow/hireflow/pkg/storage"
	"github.com/pkg/errors"
)

// Services bundles the collaborators the HTTP surface exposes.
type Services struct {
	Store      storage.Store
	Catalog    *service.CatalogService
	Engine     *service.ExecutionEngine
	Correlator *service.Correlator
}

func NewServeMux(svc Services) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/inbound", inboundHandler(svc))
	mux.HandleFunc("/jobs", jobsHandler(svc))
	mux.HandleFunc("/approvals/", approvalsHandler(svc))
	mux.HandleFunc("/instances", instancesHandler(svc))
	mux.HandleFunc("/instances/", instanceHandler(svc))
	return mux
}

func StartServer(port string, svc Services) error {
	log.GetLogger().Infof("Starting HireFlow server on :%s", port)
	return http.ListenAndServe(":"+port, NewServeMux(svc))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "HireFlow server is running")
}

// inboundHandler accepts a raw inbound email notification and routes it
// through the correlator.
func inboundHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			MessageUID string `json:"message_uid"`
			Sender     string `json:"sender"`
			Subject    string `json:"subject"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.MessageUID == "" || req.Sender == "" {
			http.Error(w, "Missing 'message_uid' or 'sender'", http.StatusBadRequest)
			return
		}
		outcome, err := svc.Correlator.NotifyInboundMessage(models.InboundMessage{
			MessageUID: req.MessageUID,
			Sender:     req.Sender,
			Subject:    req.Subject,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			log.GetLogger().Errorf("Failed to route message %s: %v", req.MessageUID, err)
			http.Error(w, fmt.Sprintf("Failed to route message: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"outcome": outcome})
	}
}

// jobsHandler creates jobs with generated correlation keys.
func jobsHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Title      string `json:"title"`
			TemplateID string `json:"template_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.Title == "" || req.TemplateID == "" {
			http.Error(w, "Missing 'title' or 'template_id'", http.StatusBadRequest)
			return
		}
		if _, err := svc.Catalog.GetTemplate(req.TemplateID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "Unknown template", http.StatusBadRequest)
				return
			}
			http.Error(w, fmt.Sprintf("Failed to load template: %v", err), http.StatusInternalServerError)
			return
		}
		job := models.Job{
			ID:         uuid.NewString(),
			Title:      req.Title,
			ShortID:    service.NewJobShortID(),
			TemplateID: req.TemplateID,
			CreatedAt:  time.Now(),
		}
		// Regenerate on a short id collision rather than fail the call.
		for i := 0; i < 5; i++ {
			err := svc.Store.SaveJob(job)
			if err == nil {
				writeJSON(w, http.StatusCreated, job)
				return
			}
			if !errors.Is(err, storage.ErrDuplicate) {
				log.GetLogger().Errorf("Failed to create job: %v", err)
				http.Error(w, fmt.Sprintf("Failed to create job: %v", err), http.StatusInternalServerError)
				return
			}
			job.ShortID = service.NewJobShortID()
		}
		http.Error(w, "Failed to allocate a job key", http.StatusInternalServerError)
	}
}

// approvalsHandler serves POST /approvals/{id}/decisions.
func approvalsHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := splitPath(r.URL.Path)
		if len(parts) != 3 || parts[0] != "approvals" || parts[2] != "decisions" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		requestID := parts[1]
		var req struct {
			ResponderID string `json:"responder_id"`
			Decision    string `json:"decision"`
			Comments    string `json:"comments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.ResponderID == "" {
			http.Error(w, "Missing 'responder_id'", http.StatusBadRequest)
			return
		}
		decision := models.Decision(strings.ToUpper(req.Decision))
		if decision != models.ApproveDecision && decision != models.RejectDecision {
			http.Error(w, "Decision must be APPROVE or REJECT", http.StatusBadRequest)
			return
		}
		status, err := svc.Engine.SubmitApprovalDecision(requestID, req.ResponderID, decision, req.Comments)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrNotFound):
				http.NotFound(w, r)
			case errors.Is(err, service.ErrAlreadyResolved):
				http.Error(w, "Approval request already resolved", http.StatusConflict)
			default:
				log.GetLogger().Errorf("Failed to record decision on %s: %v", requestID, err)
				http.Error(w, fmt.Sprintf("Failed to record decision: %v", err), http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": status})
	}
}

// instancesHandler serves POST /instances (direct start, no email).
func instancesHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			JobID       string `json:"job_id"`
			CandidateID string `json:"candidate_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.JobID == "" || req.CandidateID == "" {
			http.Error(w, "Missing 'job_id' or 'candidate_id'", http.StatusBadRequest)
			return
		}
		inst, created, err := svc.Engine.StartOrResume(req.JobID, req.CandidateID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "Unknown job or candidate", http.StatusBadRequest)
				return
			}
			log.GetLogger().Errorf("Failed to start instance: %v", err)
			http.Error(w, fmt.Sprintf("Failed to start instance: %v", err), http.StatusInternalServerError)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, inst)
	}
}

// instanceHandler serves the per-instance routes:
//
//	GET  /instances/{id}
//	GET  /instances/{id}/log
//	POST /instances/{id}/timer
//	POST /instances/{id}/start
//	POST /instances/{id}/steps/{binding}/complete
func instanceHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := splitPath(r.URL.Path)
		if len(parts) < 2 || parts[0] != "instances" {
			http.NotFound(w, r)
			return
		}
		instanceID := parts[1]
		switch {
		case len(parts) == 2 && r.Method == http.MethodGet:
			getInstance(w, r, svc, instanceID)
		case len(parts) == 3 && parts[2] == "log" && r.Method == http.MethodGet:
			getInstanceLog(w, r, svc, instanceID)
		case len(parts) == 3 && parts[2] == "timer" && r.Method == http.MethodPost:
			fireTimer(w, r, svc, instanceID)
		case len(parts) == 3 && parts[2] == "start" && r.Method == http.MethodPost:
			externalStart(w, r, svc, instanceID)
		case len(parts) == 5 && parts[2] == "steps" && parts[4] == "complete" && r.Method == http.MethodPost:
			completeManualStep(w, r, svc, instanceID, parts[3])
		default:
			http.NotFound(w, r)
		}
	}
}

func getInstance(w http.ResponseWriter, r *http.Request, svc Services, instanceID string) {
	state, err := svc.Engine.GetInstanceState(instanceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to load instance: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func getInstanceLog(w http.ResponseWriter, r *http.Request, svc Services, instanceID string) {
	entries, err := svc.Store.ListLog(instanceID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load log: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func fireTimer(w http.ResponseWriter, r *http.Request, svc Services, instanceID string) {
	var req struct {
		BindingID string `json:"binding_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.BindingID == "" {
		http.Error(w, "Missing 'binding_id'", http.StatusBadRequest)
		return
	}
	if err := svc.Engine.FireDelayTimer(instanceID, req.BindingID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to fire timer: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func externalStart(w http.ResponseWriter, r *http.Request, svc Services, instanceID string) {
	if err := svc.Engine.ExternalStartStep(instanceID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to start step: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func completeManualStep(w http.ResponseWriter, r *http.Request, svc Services, instanceID, bindingID string) {
	var req struct {
		Output models.Payload `json:"output"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
	}
	if err := svc.Engine.CompleteManualStep(instanceID, bindingID, req.Output); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.NotFound(w, r)
		case errors.Is(err, storage.ErrConflict):
			http.Error(w, fmt.Sprintf("Step not completable: %v", err), http.StatusConflict)
		default:
			log.GetLogger().Errorf("Failed to complete step %s on %s: %v", bindingID, instanceID, err)
			http.Error(w, fmt.Sprintf("Failed to complete step: %v", err), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func splitPath(p string) []string {
	return strings.Split(strings.Trim(p, "/"), "/")
}
