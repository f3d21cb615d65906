package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pibackup/internal/backup"
)

const maxRequestBody = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	backup.Status
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// chartData is the capacity series shown on the dashboard, one point per
// volume, in bytes.
type chartData struct {
	Labels []string `json:"labels"`
	Used   []uint64 `json:"used"`
	Free   []uint64 `json:"free"`
	Total  []uint64 `json:"total"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleRunBackup(w http.ResponseWriter, _ *http.Request) {
	resp := s.svc.RunBackup()
	switch resp.Outcome {
	case backup.RunAccepted:
		s.writeJSON(w, http.StatusCreated, resp)
	case backup.RunAlreadyRunning:
		s.writeJSON(w, http.StatusConflict, resp)
	default:
		s.writeJSON(w, http.StatusPreconditionFailed, resp)
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.svc.JobStatus()
	if st.State == backup.JobIdle {
		s.writeJSON(w, http.StatusNotFound, statusResponse{Status: st})
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: st, ElapsedSeconds: st.Elapsed.Seconds()})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.svc.ListSnapshots()
	if errors.Is(err, backup.ErrNoDestinationRoot) {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []*backup.SnapshotEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListVolumes(w http.ResponseWriter, _ *http.Request) {
	volumes, err := s.svc.ListVolumes()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if volumes == nil {
		volumes = []*backup.Volume{}
	}
	s.writeJSON(w, http.StatusOK, volumes)
}

func (s *Server) handleSetRoles(w http.ResponseWriter, r *http.Request) {
	var assignment backup.RoleAssignment
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&assignment); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	roots, err := s.svc.SetRoles(assignment)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, roots)
	case errors.Is(err, backup.ErrJobRunning):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, backup.ErrInvalidAssignment), errors.Is(err, backup.ErrUnknownVolume):
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleEject(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Eject(chi.URLParam(r, "name"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, backup.ErrUnknownVolume):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, backup.ErrJobRunning):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "name") {
	case "config":
		s.writeJSON(w, http.StatusOK, s.opts.Config)
	case "directories":
		s.writeJSON(w, http.StatusOK, s.svc.Roots())
	default:
		s.writeJSON(w, http.StatusNotFound, struct{}{})
	}
}

func (s *Server) handleChartData(w http.ResponseWriter, _ *http.Request) {
	volumes, err := s.svc.ListVolumes()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	data := chartData{
		Labels: make([]string, 0, len(volumes)),
		Used:   make([]uint64, 0, len(volumes)),
		Free:   make([]uint64, 0, len(volumes)),
		Total:  make([]uint64, 0, len(volumes)),
	}
	for _, v := range volumes {
		data.Labels = append(data.Labels, v.Name)
		data.Used = append(data.Used, v.Capacity.Used)
		data.Free = append(data.Free, v.Capacity.Free)
		data.Total = append(data.Total, v.Capacity.Total)
	}
	s.writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	records, err := s.svc.History(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*backup.JobRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}
