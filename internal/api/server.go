// Package api exposes the dispatcher, sessions and commentator over HTTP
// and websockets.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jeanpaul/danzar/internal/commentator"
	"github.com/jeanpaul/danzar/internal/connector"
	"github.com/jeanpaul/danzar/internal/dispatcher"
	"github.com/jeanpaul/danzar/internal/session"
	"github.com/jeanpaul/danzar/internal/vision"
)

// maxBodyBytes leaves room for a base64 encoded image upload.
const maxBodyBytes = 16 << 20

const defaultRunTTL = time.Hour

type Dispatcher interface {
	Submit(ctx context.Context, it dispatcher.Item) error
	Pending() int
}

type Sessions interface {
	Teach(ctx context.Context, req session.TeachRequest) (session.Report, error)
	Research(ctx context.Context, req session.ResearchRequest) (session.Report, error)
}

type Commentator interface {
	Start(ctx context.Context, t commentator.Target) (bool, error)
	Stop() bool
	Running() bool
}

type Options struct {
	Dispatcher  Dispatcher
	Sessions    Sessions
	Commentator Commentator
	// MemorySize reports the number of remembered entries for /healthz.
	MemorySize   func() int
	AuthToken    string
	CORSOrigins  []string
	ReplyTimeout time.Duration
	// UploadDir holds uploaded images until they are answered. Empty means
	// the system temp directory.
	UploadDir    string
	// RunTTL is how long a finished session stays visible on
	// GET /v1/sessions/{id}.
	RunTTL       time.Duration
	Logger       *slog.Logger
}

type Server struct {
	disp         Dispatcher
	sessions     Sessions
	commentator  Commentator
	memorySize   func() int
	authToken    string
	corsOrigins  []string
	replyTimeout time.Duration
	uploadDir    string
	runTTL       time.Duration
	logger       *slog.Logger

	hub      *Hub
	upgrader websocket.Upgrader

	// base parents background sessions so shutdown cancels them.
	base context.Context

	mu   sync.Mutex
	runs map[string]*sessionRun
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 5 * time.Minute
	}
	if opts.RunTTL <= 0 {
		opts.RunTTL = defaultRunTTL
	}
	if opts.MemorySize == nil {
		opts.MemorySize = func() int { return 0 }
	}
	return &Server{
		disp:         opts.Dispatcher,
		sessions:     opts.Sessions,
		commentator:  opts.Commentator,
		memorySize:   opts.MemorySize,
		authToken:    opts.AuthToken,
		corsOrigins:  opts.CORSOrigins,
		replyTimeout: opts.ReplyTimeout,
		uploadDir:    opts.UploadDir,
		runTTL:       opts.RunTTL,
		logger:       opts.Logger.With("component", "api"),
		hub:          NewHub(),
		upgrader:     newUpgrader(opts.CORSOrigins),
		base:         context.Background(),
		runs:         map[string]*sessionRun{},
	}
}

// Hub is the broadcast channel shared by every websocket client.
func (s *Server) Hub() *Hub { return s.hub }

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(CORS(s.corsOrigins))
	r.Use(RequestID)
	r.Use(Logger(s.logger))
	r.Use(Recovery(s.logger))

	r.Get("/healthz", s.Health)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(s.authToken))

		r.Route("/v1", func(r chi.Router) {
			r.Post("/messages", s.PostMessage)
			r.Post("/teach", s.StartTeach)
			r.Post("/research", s.StartResearch)
			r.Get("/sessions/{id}", s.GetSession)
			r.Post("/commentator", s.ToggleCommentator)
			r.Get("/ws", s.Socket)
		})
	})

	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.base = ctx
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errc:
		return fmt.Errorf("api: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status      string `json:"status"`
	Queue       int    `json:"queue"`
	Memory      int    `json:"memory"`
	Clients     int    `json:"clients"`
	Commentator bool   `json:"commentator"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Memory: s.memorySize(), Clients: s.hub.Clients()}
	if s.disp != nil {
		resp.Queue = s.disp.Pending()
	}
	if s.commentator != nil {
		resp.Commentator = s.commentator.Running()
	}
	writeJSON(w, http.StatusOK, resp)
}

type messageRequest struct {
	Author  string `json:"author"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
	// Image is the uploaded file, base64 encoded in JSON. It is written to a
	// temporary file that the dispatcher removes after answering.
	Image []byte `json:"image"`
	// ImagePath names a file on the server host. It is read, never removed.
	ImagePath string `json:"image_path"`
}

type messageResponse struct {
	ID    string `json:"id"`
	Reply string `json:"reply"`
}

// PostMessage handles POST /v1/messages. It waits for the final reply.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var payload dispatcher.Payload
	switch {
	case len(req.Image) > 0:
		path, err := s.saveUpload(req.Image)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload = dispatcher.TempImage(path)
	case req.ImagePath != "":
		if !vision.IsImage(req.ImagePath) {
			writeError(w, http.StatusBadRequest, "image_path is not a readable image")
			return
		}
		payload = dispatcher.ImagePath(req.ImagePath)
	case req.Text != "":
		payload = dispatcher.Text(req.Text)
	default:
		writeError(w, http.StatusBadRequest, "text, image or image_path is required")
		return
	}
	if req.Author == "" {
		req.Author = "user"
	}
	if req.Channel == "" {
		req.Channel = "http"
	}

	rec := connector.NewRecorder()
	id := uuid.NewString()
	err := s.disp.Submit(r.Context(), dispatcher.Item{
		ID: id, Author: req.Author, Channel: req.Channel, Payload: payload, Reply: rec,
	})
	if err != nil && payload.Owned {
		s.removeUpload(payload.Path)
	}
	switch {
	case errors.Is(err, dispatcher.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, dispatcher.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.replyTimeout)
	defer cancel()
	reply, err := rec.WaitEdit(ctx)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, "no reply: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{ID: id, Reply: reply})
}

var uploadExts = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// saveUpload writes image bytes to a new temporary file named after the
// sniffed content type.
func (s *Server) saveUpload(data []byte) (string, error) {
	ext, ok := uploadExts[http.DetectContentType(data)]
	if !ok {
		return "", errors.New("image is not a png, jpeg, gif, webp or bmp file")
	}
	f, err := os.CreateTemp(s.uploadDir, "danzar-upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		s.removeUpload(f.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := f.Close(); err != nil {
		s.removeUpload(f.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	return f.Name(), nil
}

func (s *Server) removeUpload(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("could not remove upload", "path", path, "error", err)
	}
}

// sessionRun tracks one background session.
type sessionRun struct {
	mu       sync.Mutex
	id       string
	kind     session.Kind
	running  bool
	finished time.Time
	report   *session.Report
	err      string
	rec      *connector.Recorder
}

type sessionView struct {
	ID       string          `json:"id"`
	Kind     session.Kind    `json:"kind"`
	Running  bool            `json:"running"`
	Report   *session.Report `json:"report,omitempty"`
	Error    string          `json:"error,omitempty"`
	Messages []string        `json:"messages"`
}

func (sr *sessionRun) view() sessionView {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sessionView{
		ID: sr.id, Kind: sr.kind, Running: sr.running,
		Report: sr.report, Error: sr.err, Messages: sr.rec.Messages(),
	}
}

func (sr *sessionRun) finish(rep session.Report, err error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.running = false
	sr.finished = time.Now()
	if err != nil {
		sr.err = err.Error()
		return
	}
	sr.report = &rep
}

// expiredBefore reports whether the run finished before cutoff.
func (sr *sessionRun) expiredBefore(cutoff time.Time) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return !sr.running && sr.finished.Before(cutoff)
}

// pruneRuns forgets finished runs older than the TTL. The caller holds s.mu.
func (s *Server) pruneRuns(now time.Time) {
	cutoff := now.Add(-s.runTTL)
	for id, sr := range s.runs {
		if sr.expiredBefore(cutoff) {
			delete(s.runs, id)
		}
	}
}

func (s *Server) launch(kind session.Kind, run func(ctx context.Context, id string, out connector.Channel) (session.Report, error)) *sessionRun {
	sr := &sessionRun{id: uuid.NewString(), kind: kind, running: true, rec: connector.NewRecorder()}
	s.mu.Lock()
	s.pruneRuns(time.Now())
	s.runs[sr.id] = sr
	s.mu.Unlock()

	out := connector.Tee(sr.rec, s.hub)
	go func() {
		rep, err := run(s.base, sr.id, out)
		if err != nil {
			s.logger.Warn("session failed", "session", sr.id, "error", err)
		}
		sr.finish(rep, err)
	}()
	return sr
}

type teachRequest struct {
	Topic string `json:"topic"`
	Turns int    `json:"turns"`
}

type researchRequest struct {
	Topic   string `json:"topic"`
	Minutes int    `json:"minutes"`
}

type sessionStarted struct {
	ID   string       `json:"id"`
	Kind session.Kind `json:"kind"`
}

// StartTeach handles POST /v1/teach.
func (s *Server) StartTeach(w http.ResponseWriter, r *http.Request) {
	var req teachRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Topic == "" || req.Turns < 1 {
		writeError(w, http.StatusBadRequest, "topic and turns >= 1 are required")
		return
	}
	sr := s.launch(session.KindTeach, func(ctx context.Context, id string, out connector.Channel) (session.Report, error) {
		return s.sessions.Teach(ctx, session.TeachRequest{ID: id, Topic: req.Topic, Turns: req.Turns, Channel: out})
	})
	writeJSON(w, http.StatusAccepted, sessionStarted{ID: sr.id, Kind: sr.kind})
}

// StartResearch handles POST /v1/research.
func (s *Server) StartResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Topic == "" || req.Minutes < 0 {
		writeError(w, http.StatusBadRequest, "topic and minutes >= 0 are required")
		return
	}
	sr := s.launch(session.KindResearch, func(ctx context.Context, id string, out connector.Channel) (session.Report, error) {
		return s.sessions.Research(ctx, session.ResearchRequest{ID: id, Topic: req.Topic, Minutes: req.Minutes, Channel: out})
	})
	writeJSON(w, http.StatusAccepted, sessionStarted{ID: sr.id, Kind: sr.kind})
}

// GetSession handles GET /v1/sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	s.pruneRuns(time.Now())
	sr, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sr.view())
}

type commentatorRequest struct {
	Enabled bool   `json:"enabled"`
	Channel string `json:"channel"`
}

type commentatorResponse struct {
	Running bool `json:"running"`
	Changed bool `json:"changed"`
}

// ToggleCommentator handles POST /v1/commentator. Commentary goes to every
// websocket client.
func (s *Server) ToggleCommentator(w http.ResponseWriter, r *http.Request) {
	if s.commentator == nil {
		writeError(w, http.StatusNotImplemented, "commentator is not configured")
		return
	}
	var req commentatorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Channel == "" {
		req.Channel = "commentator"
	}

	var changed bool
	if req.Enabled {
		started, err := s.commentator.Start(s.base, commentator.Target{Author: "Danzar", Channel: req.Channel, Reply: s.hub})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		changed = started
	} else {
		changed = s.commentator.Stop()
	}
	writeJSON(w, http.StatusOK, commentatorResponse{Running: s.commentator.Running(), Changed: changed})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
