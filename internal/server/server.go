// Package server exposes the dubbing job service over HTTP.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/forPelevin/autodub/internal/domain/languages"
	"github.com/forPelevin/autodub/internal/jobs"
	"github.com/forPelevin/autodub/internal/usecase"
)

const (
	defaultLanguage = "es"
	maxBodyBytes    = 1 << 20
	wsWriteTimeout  = 10 * time.Second
)

// OutputsPrefix is the URL prefix under which finished videos are served.
const OutputsPrefix = "/outputs/"

type JobService interface {
	Submit(ctx context.Context, req jobs.Request) (jobs.Job, error)
	Get(ctx context.Context, id string) (jobs.Job, error)
	List(ctx context.Context) ([]jobs.Job, error)
	Subscribe(ctx context.Context, id string) (<-chan jobs.Job, func(), error)
}

type Server struct {
	jobs     JobService
	outDir   string
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func New(svc JobService, outDir string, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		jobs:   svc,
		outDir: outDir,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /dub", s.handleDub)
	mux.HandleFunc("GET /jobs", s.handleList)
	mux.HandleFunc("GET /jobs/{id}", s.handleGet)
	mux.HandleFunc("GET /jobs/{id}/ws", s.handleWatch)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET "+OutputsPrefix, http.StripPrefix(OutputsPrefix, http.FileServer(http.Dir(s.outDir))))
	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is done, then drains open requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type dubRequest struct {
	URL                string `json:"youtube_url"`
	Language           string `json:"language"`
	PreserveBackground bool   `json:"preserve_background"`
	BurnSubtitles      bool   `json:"burn_subtitles"`
	VoiceClone         bool   `json:"voice_clone"`
}

func (s *Server) handleDub(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	req, err := parseDubRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	req.Language = strings.ToLower(strings.TrimSpace(req.Language))
	if req.Language == "" {
		req.Language = defaultLanguage
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "youtube_url is required")
		return
	}
	if !usecase.IsRemote(req.URL) {
		writeError(w, http.StatusBadRequest, "youtube_url must be an http(s) URL")
		return
	}
	if !languages.Supported(req.Language) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported language %q (supported: %s)",
			req.Language, strings.Join(languages.Codes(), ", ")))
		return
	}

	j, err := s.jobs.Submit(r.Context(), jobs.Request{
		URL:      req.URL,
		Language: req.Language,
		Options: jobs.Options{
			PreserveBackground: req.PreserveBackground,
			BurnSubtitles:      req.BurnSubtitles,
			VoiceClone:         req.VoiceClone,
		},
	})
	if errors.Is(err, jobs.ErrShuttingDown) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.log.WithError(err).Error("submit job")
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": j.ID,
		"status": string(j.Status),
	})
}

func parseDubRequest(r *http.Request) (dubRequest, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req dubRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return dubRequest{}, fmt.Errorf("invalid json body: %w", err)
		}
		return req, nil
	}
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return dubRequest{}, fmt.Errorf("invalid form: %w", err)
	}
	return dubRequest{
		URL:                r.FormValue("youtube_url"),
		Language:           r.FormValue("language"),
		PreserveBackground: formBool(r.FormValue("preserve_background")),
		BurnSubtitles:      formBool(r.FormValue("burn_subtitles")),
		VoiceClone:         formBool(r.FormValue("voice_clone")),
	}, nil
}

func formBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes":
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("get job")
		writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.jobs.List(r.Context())
	if err != nil {
		s.log.WithError(err).Error("list jobs")
		writeError(w, http.StatusInternalServerError, "could not list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

// handleWatch streams job snapshots over a websocket until the job finishes
// or the client goes away.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe, err := s.jobs.Subscribe(ctx, id)
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("subscribe job")
		writeError(w, http.StatusInternalServerError, "could not watch job")
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).WithField("job_id", id).Warn("websocket upgrade")
		return
	}
	defer conn.Close()

	// Reads only detect the client closing the socket.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(j); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Info("http request")
	})
}
