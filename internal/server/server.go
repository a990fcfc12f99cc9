// Package server exposes banner previews, live job rendering, saved banners
// and the printer connection over HTTP.
package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"tomgalvin.uk/phogobanner/internal/config"
	"tomgalvin.uk/phogobanner/internal/coordinator"
	"tomgalvin.uk/phogobanner/internal/printer"
	"tomgalvin.uk/phogobanner/internal/render"
	"tomgalvin.uk/phogobanner/internal/store"
)

// Longest a print may take before the request gives up on it
const printTimeout = 60 * time.Second

const maxBodyBytes = 1 << 20

type Server struct {
	logger   *slog.Logger
	machine  *printer.Machine
	repo     *store.BannerRepository
	pipeline *render.Pipeline
	debounce time.Duration
	mux      *http.ServeMux

	mu   sync.Mutex
	jobs map[string]*coordinator.Coordinator
}

func NewServer(logger *slog.Logger, machine *printer.Machine, repo *store.BannerRepository, pipeline *render.Pipeline, cfg config.Config) *Server {
	s := &Server{
		logger:   logger,
		machine:  machine,
		repo:     repo,
		pipeline: pipeline,
		debounce: cfg.Debounce,
		mux:      http.NewServeMux(),
		jobs:     map[string]*coordinator.Coordinator{},
	}

	s.mux.HandleFunc("POST /api/preview", s.handlePreview)

	s.mux.HandleFunc("PUT /api/jobs/{id}", s.handleUpdateJob)
	s.mux.HandleFunc("GET /api/jobs/{id}/bitmap", s.handleJobBitmap)
	s.mux.HandleFunc("POST /api/jobs/{id}/print", s.handlePrintJob)
	s.mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCloseJob)

	s.mux.HandleFunc("POST /api/printer/connect", s.handleConnect)
	s.mux.HandleFunc("POST /api/printer/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("POST /api/printer/reset", s.handleReset)
	s.mux.HandleFunc("GET /api/printer/status", s.handleStatus)

	s.mux.HandleFunc("GET /api/banners", s.handleListBanners)
	s.mux.HandleFunc("POST /api/banners", s.handleCreateBanner)
	s.mux.HandleFunc("GET /api/banners/{uuid}", s.handleGetBanner)
	s.mux.HandleFunc("PUT /api/banners/{uuid}", s.handleUpdateBanner)
	s.mux.HandleFunc("DELETE /api/banners/{uuid}", s.handleDeleteBanner)
	s.mux.HandleFunc("GET /api/banners/{uuid}/bitmap", s.handleBannerBitmap)
	s.mux.HandleFunc("POST /api/banners/{uuid}/print", s.handlePrintBanner)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close stops every job's pending renders
func (s *Server) Close() {
	s.mu.Lock()
	jobs := s.jobs
	s.jobs = map[string]*coordinator.Coordinator{}
	s.mu.Unlock()

	for _, c := range jobs {
		c.Close()
	}
}

func (s *Server) writeJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Couldn't write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "status", status, "error", err)
	}
	s.writeJson(w, status, ErrorJson{Error: err.Error()})
}

func readJson(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Couldn't decode request body:\n%w", err)
	}
	return nil
}

// writeBitmap sends the rendered banner as a PNG whose size is exactly the
// canvas dimensions
func (s *Server) writeBitmap(w http.ResponseWriter, res *render.Result) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, res.Bitmap.Image()); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("Couldn't encode bitmap:\n%w", err))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "image/png")
	h.Set("X-Canvas-Width", strconv.Itoa(res.Dims.Width))
	h.Set("X-Canvas-Height", strconv.Itoa(res.Dims.Height))
	h.Set("X-Banner-Density", strconv.Itoa(int(res.Job.Density)))
	if res.Dims.Truncated {
		h.Set("X-Banner-Truncated", "true")
	}
	for _, warning := range res.Warnings {
		h.Add("X-Banner-Warning", warning)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var j JobJson
	if err := readJson(w, r, &j); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := mapJobFromJson("preview", &j)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.pipeline.Render(r.Context(), job)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("Couldn't render preview:\n%w", err))
		return
	}
	s.writeBitmap(w, res)
}

// coordinator returns the job's coordinator, creating it on first use
func (s *Server) coordinator(id string, create bool) *coordinator.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.jobs[id]
	if !ok && create {
		logger := s.logger.With("job", id)
		c = coordinator.New(s.pipeline, coordinator.Options{
			Debounce: s.debounce,
			Logger:   logger,
			OnCommit: func(res *render.Result) {
				logger.Debug("Committed banner", "dims", res.Dims.String())
			},
		})
		s.jobs[id] = c
	}
	return c
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var j JobJson
	if err := readJson(w, r, &j); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := mapJobFromJson(id, &j)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.coordinator(id, true).OnContentChanged(job)
	w.WriteHeader(http.StatusAccepted)
}

// committed returns the job's coordinator along with its committed bitmap
func (s *Server) committed(w http.ResponseWriter, id string) (*coordinator.Coordinator, *render.Result, bool) {
	c := s.coordinator(id, false)
	if c == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("No job %q", id))
		return nil, nil, false
	}
	res, ok := c.CurrentBitmap()
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("Job %q has not been rendered yet", id))
		return nil, nil, false
	}
	return c, res, true
}

func (s *Server) handleJobBitmap(w http.ResponseWriter, r *http.Request) {
	c, res, ok := s.committed(w, r.PathValue("id"))
	if !ok {
		return
	}
	if c.Pending() {
		w.Header().Set("X-Banner-Pending", "true")
	}
	s.writeBitmap(w, res)
}

func (s *Server) handlePrintJob(w http.ResponseWriter, r *http.Request) {
	_, res, ok := s.committed(w, r.PathValue("id"))
	if !ok {
		return
	}
	s.print(w, r, res)
}

func (s *Server) handleCloseJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	c, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()

	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("No job %q", id))
		return
	}
	c.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) print(w http.ResponseWriter, r *http.Request, res *render.Result) {
	ctx, cancel := context.WithTimeout(r.Context(), printTimeout)
	defer cancel()

	if err := s.machine.Print(ctx, res.Bitmap, res.Job.Density); err != nil {
		if errors.Is(err, printer.ErrNotConnected) {
			s.writeJson(w, http.StatusConflict, ErrorJson{Error: err.Error(), State: s.machine.State().String()})
			return
		}
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) status() StatusJson {
	st := StatusJson{State: s.machine.State()}
	if err := s.machine.LastError(); err != nil {
		st.Error = err.Error()
	}
	if info, ok := s.machine.Info(); ok && st.State == printer.Connected {
		st.Info = &info
	}
	return st
}

// transitionResult reports the outcome of a state change request. Invalid
// transitions are a conflict with the current state, not a server error.
func (s *Server) transitionResult(w http.ResponseWriter, status int, err error) {
	switch {
	case err == nil:
		s.writeJson(w, status, s.status())
	case errors.Is(err, printer.ErrInvalidTransition):
		s.writeJson(w, http.StatusConflict, ErrorJson{Error: err.Error(), State: s.machine.State().String()})
	default:
		s.writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.transitionResult(w, http.StatusAccepted, s.machine.Connect(r.Context()))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.transitionResult(w, http.StatusOK, s.machine.Disconnect())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.transitionResult(w, http.StatusOK, s.machine.Reset())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, s.status())
}

func (s *Server) bannerUuid(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	u, err := uuid.Parse(r.PathValue("uuid"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("Bad banner UUID:\n%w", err))
		return uuid.Nil, false
	}
	return u, true
}

// loadBanner writes a 404 and returns nil when there's no such banner
func (s *Server) loadBanner(w http.ResponseWriter, r *http.Request) *store.Banner {
	u, ok := s.bannerUuid(w, r)
	if !ok {
		return nil
	}
	b, err := s.repo.Get(u)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("Couldn't fetch banner:\n%w", err))
		return nil
	}
	if b == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("No banner with UUID %s", u))
		return nil
	}
	return b
}

func (s *Server) handleListBanners(w http.ResponseWriter, r *http.Request) {
	banners, err := s.repo.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("Couldn't list banners:\n%w", err))
		return
	}
	j := make([]*BannerJson, len(banners))
	for i := range banners {
		j[i] = mapBannerToJson(&banners[i])
	}
	s.writeJson(w, http.StatusOK, j)
}

func (s *Server) handleCreateBanner(w http.ResponseWriter, r *http.Request) {
	var j BannerJson
	if err := readJson(w, r, &j); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := mapBannerFromJson(&j)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.repo.Transact(func(tx *sql.Tx) error {
		return s.repo.Create(tx, b)
	}); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("Couldn't create banner:\n%w", err))
		return
	}
	s.writeJson(w, http.StatusCreated, mapBannerToJson(b))
}

func (s *Server) handleGetBanner(w http.ResponseWriter, r *http.Request) {
	if b := s.loadBanner(w, r); b != nil {
		s.writeJson(w, http.StatusOK, mapBannerToJson(b))
	}
}

func (s *Server) handleUpdateBanner(w http.ResponseWriter, r *http.Request) {
	u, ok := s.bannerUuid(w, r)
	if !ok {
		return
	}
	var j BannerJson
	if err := readJson(w, r, &j); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := mapBannerFromJson(&j)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	err = s.repo.Transact(func(tx *sql.Tx) error {
		return s.repo.Update(tx, u, b)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("Couldn't update banner:\n%w", err))
	default:
		s.writeJson(w, http.StatusOK, mapBannerToJson(b))
	}
}

func (s *Server) handleDeleteBanner(w http.ResponseWriter, r *http.Request) {
	u, ok := s.bannerUuid(w, r)
	if !ok {
		return
	}
	err := s.repo.Transact(func(tx *sql.Tx) error {
		return s.repo.Delete(tx, u)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("Couldn't delete banner:\n%w", err))
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// renderBanner renders a saved banner straight away, without debouncing
func (s *Server) renderBanner(w http.ResponseWriter, r *http.Request) *render.Result {
	b := s.loadBanner(w, r)
	if b == nil {
		return nil
	}
	job, err := b.Job()
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return nil
	}
	res, err := s.pipeline.Render(r.Context(), job)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("Couldn't render banner:\n%w", err))
		return nil
	}
	return res
}

func (s *Server) handleBannerBitmap(w http.ResponseWriter, r *http.Request) {
	if res := s.renderBanner(w, r); res != nil {
		s.writeBitmap(w, res)
	}
}

func (s *Server) handlePrintBanner(w http.ResponseWriter, r *http.Request) {
	if res := s.renderBanner(w, r); res != nil {
		s.print(w, r, res)
	}
}

var _ http.Handler = (*Server)(nil)
