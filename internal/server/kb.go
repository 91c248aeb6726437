package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/kbgraph-go/internal/apperr"
	"github.com/54b3r/kbgraph-go/internal/graph"
	"github.com/54b3r/kbgraph-go/internal/knowledge"
	"github.com/54b3r/kbgraph-go/internal/logging"
	"github.com/54b3r/kbgraph-go/internal/rag"
)

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// handleCreateKB handles POST /api/kb.
func (s *Server) handleCreateKB(w http.ResponseWriter, r *http.Request) {
	var req createKBRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	id, err := s.kb.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]string{"kb_uuid": id})
}

// handleListKB handles GET /api/kb.
func (s *Server) handleListKB(w http.ResponseWriter, r *http.Request) {
	kbs := s.kb.List(r.Context())
	out := make([]kbSummary, 0, len(kbs))
	for _, k := range kbs {
		out = append(out, kbSummary{
			KBUUID:      k.ID,
			Name:        k.Name,
			Description: k.Description,
			Files:       len(k.Files),
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleGetKB handles GET /api/kb/{id}.
func (s *Server) handleGetKB(w http.ResponseWriter, r *http.Request) {
	info, err := s.kb.Info(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := kbInfoResponse{
		KBUUID:         info.ID,
		Name:           info.Name,
		Description:    info.Description,
		Files:          make([]fileEntry, 0, len(info.OrderedFiles)),
		Vectors:        info.Vectors,
		GraphDocuments: info.GraphDocuments,
	}
	for _, f := range info.OrderedFiles {
		resp.Files = append(resp.Files, fileEntry{FileUUID: f.ID, Filename: f.Filename, Seq: f.Seq})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleDeleteKB handles DELETE /api/kb/{id}?level=graph|vec|all.
func (s *Server) handleDeleteKB(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("level")
	if raw == "" {
		raw = string(knowledge.LevelAll)
	}
	level, err := knowledge.ParseLevel(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	err = s.kb.DeleteByLevel(r.Context(), id, level)
	if !errors.Is(err, apperr.ErrNotFound) {
		s.metrics.graphOperationsTotal.WithLabelValues("delete", graphResult(err)).Inc()
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"kb_uuid": id, "level": string(level)})
}

// handleUpload handles POST /api/kb/{id}/files (multipart field "file").
// Only extensions with a registered loader are accepted.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.cfg.MaxUploadBytes {
		writeJSON(w, r, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload exceeds size limit"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, r, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload exceeds size limit"})
			return
		}
		badRequest(w, r, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	if !s.formats.Supports(header.Filename) {
		writeError(w, r, fmt.Errorf("upload %q (accepted: %s): %w",
			header.Filename, strings.Join(s.formats.Extensions(), ", "), apperr.ErrUnsupportedFormat))
		return
	}

	fileID, err := s.kb.Upload(r.Context(), r.PathValue("id"), header.Filename, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]string{"file_uuid": fileID, "filename": header.Filename})
}

// handleGetFile handles GET /api/kb/{id}/files/{fileID}. The body is the
// raw upload; the original name travels in Content-Disposition.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	rec, f, err := s.kb.OpenFile(r.Context(), r.PathValue("id"), r.PathValue("fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	modTime := time.Time{}
	if st, err := f.Stat(); err == nil {
		modTime = st.ModTime()
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.Filename}))
	http.ServeContent(w, r, rec.Filename, modTime, f)
}

// handleGenerateVectors handles POST /api/kb/{id}/vectors.
func (s *Server) handleGenerateVectors(w http.ResponseWriter, r *http.Request) {
	var req vectorsRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	res, err := s.kb.GenerateVectors(r.Context(), r.PathValue("id"), req.ChunkSize, req.ChunkOverlap)
	s.metrics.vectorsGeneratedTotal.Add(float64(res.Total))
	if err != nil {
		if res.Total > 0 {
			logging.FromContext(r.Context()).Warn("vector generation stopped after partial progress",
				slog.String("kb_id", res.KBUUID),
				slog.Int("records_kept", res.Total),
				slog.Int("files_done", len(res.Files)),
			)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleQuery handles POST /api/kb/{id}/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(w, r, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = rag.DefaultTopK
	}

	id := r.PathValue("id")
	start := time.Now()
	matches, err := s.kb.Query(r.Context(), id, req.Query, req.TopK)
	s.metrics.queryDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, queryResponse{KBUUID: id, Matches: matches})
}

// handleBuildGraph handles POST /api/kb/{id}/graph.
func (s *Server) handleBuildGraph(w http.ResponseWriter, r *http.Request) {
	var opts graph.Options
	if err := decodeBody(r, &opts); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	res, err := s.kb.BuildGraph(r.Context(), r.PathValue("id"), opts)
	s.metrics.graphOperationsTotal.WithLabelValues("build", graphResult(err)).Inc()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}
