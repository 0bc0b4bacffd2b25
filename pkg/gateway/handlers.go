package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/unimem/unimem/internal/observability"
	"github.com/unimem/unimem/pkg/agent"
	"github.com/unimem/unimem/pkg/memory"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps memory package sentinels to HTTP status codes
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, memory.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, memory.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

type createMemoryRequest struct {
	TenantID string            `json:"tenant_id"`
	Content  string            `json:"content"`
	Type     memory.Type       `json:"memory_type,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Source   string            `json:"source,omitempty"`
	Summary  string            `json:"summary,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := s.service.Create(r.Context(), memory.CreateRequest{
		TenantID: req.TenantID,
		Content:  req.Content,
		Type:     req.Type,
		Metadata: req.Metadata,
		Source:   req.Source,
		Summary:  req.Summary,
		Tags:     req.Tags,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	observability.RecordMemoryAudit(r.Context(), "memory_created", req.TenantID, "success", map[string]interface{}{
		"id": id,
	})
	s.broadcaster.Broadcast(EventMemoryCreated, map[string]interface{}{
		"id":        id,
		"tenant_id": req.TenantID,
	})

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type ingestRequest struct {
	TenantID string            `json:"tenant_id"`
	Content  string            `json:"content"`
	Source   string            `json:"source,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.service.Ingest(r.Context(), memory.IngestRequest{
		TenantID: req.TenantID,
		Content:  req.Content,
		Source:   req.Source,
		Metadata: req.Metadata,
		Tags:     req.Tags,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	observability.RecordMemoryAudit(r.Context(), "document_ingested", req.TenantID, "success", map[string]interface{}{
		"document_id": result.DocumentID,
		"chunks":      result.Chunks,
	})
	s.broadcaster.Broadcast(EventDocumentIngested, map[string]interface{}{
		"document_id": result.DocumentID,
		"tenant_id":   req.TenantID,
		"chunks":      result.Chunks,
	})

	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}

	rec, err := s.service.GetOwned(r.Context(), r.PathValue("id"), tenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}

	id := r.PathValue("id")
	if err := s.service.Delete(r.Context(), id, tenantID); err != nil {
		writeServiceError(w, err)
		return
	}

	observability.RecordMemoryAudit(r.Context(), "memory_deleted", tenantID, "success", map[string]interface{}{
		"id": id,
	})
	s.broadcaster.Broadcast(EventMemoryDeleted, map[string]interface{}{
		"id":        id,
		"tenant_id": tenantID,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := memory.ListFilter{
		TenantID:   q.Get("tenant_id"),
		Type:       memory.Type(q.Get("memory_type")),
		DocumentID: q.Get("document_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		filter.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until timestamp")
			return
		}
		filter.Until = t
	}

	records, err := s.service.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []*memory.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memories": records,
		"count":    len(records),
	})
}

type searchRequest struct {
	TenantID  string  `json:"tenant_id"`
	Query     string  `json:"query"`
	Limit     int     `json:"limit,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	results, err := s.service.Search(r.Context(), memory.SearchRequest{
		TenantID:  req.TenantID,
		Query:     req.Query,
		Limit:     req.Limit,
		Threshold: req.Threshold,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if results == nil {
		results = []memory.SearchResult{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

type relatedRequest struct {
	TenantID string `json:"tenant_id"`
	Limit    int    `json:"limit,omitempty"`
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	var req relatedRequest
	if !decodeBody(w, r, &req) {
		return
	}

	results, err := s.service.Related(r.Context(), r.PathValue("id"), req.TenantID, req.Limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if results == nil {
		results = []memory.SearchResult{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}

	stats, err := s.service.Stats(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, "chat agent is not enabled")
		return
	}

	var req agent.ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := s.agent.Chat(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.service.Health(r.Context())

	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
