package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"attic/internal/auth"
	"attic/internal/ingest"
	"attic/internal/storage"
)

// Server exposes an App over HTTP.
type Server struct {
	app  *App
	auth auth.AuthEngine
}

type ServerOption func(*Server)

// WithAuthEngine overrides the engine built from the configured credentials.
func WithAuthEngine(engine auth.AuthEngine) ServerOption {
	return func(s *Server) {
		s.auth = engine
	}
}

// NewServer creates a server for app. Requests must carry Basic or SigV4
// credentials when the config has an access key pair.
func NewServer(app *App, opts ...ServerOption) *Server {
	s := &Server{app: app}

	if cfg := app.Config; cfg.AccessKeyID != "" {
		s.auth = auth.NewCompoundAuthEngine(
			auth.NewAwsHmacAuthEngine(cfg.AccessKeyID, cfg.SecretAccessKey),
			auth.NewBasicAuthEngine(cfg.AccessKeyID, cfg.SecretAccessKey),
		)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run executes fn on the worker pool. The job is detached from the request
// context so it completes even if the client goes away.
func (s *Server) run(ctx context.Context, fn func(ctx context.Context) error) error {
	jobCtx := context.WithoutCancel(ctx)
	return s.app.Pool.Do(ctx, func() error {
		return fn(jobCtx)
	})
}

func pathTier(r *http.Request) (storage.Tier, error) {
	return storage.ParseTier(r.PathValue("tier"))
}

func pathName(r *http.Request) (storage.Tier, storage.FileName, error) {
	tier, err := pathTier(r)
	if err != nil {
		return 0, storage.FileName{}, err
	}
	name, err := storage.ParseImageName(r.PathValue("name"))
	if err != nil {
		return 0, storage.FileName{}, err
	}
	return tier, name, nil
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, &storage.Error{Kind: storage.InvalidParameter, Op: "decode request", Err: err})
		return
	}
	if req.Source == "" {
		writeError(w, r, &storage.Error{Kind: storage.InvalidParameter, Op: "ingest", Err: fmt.Errorf("source is required")})
		return
	}

	quality := s.app.Config.DefaultQuality
	if req.Quality != nil {
		quality = *req.Quality
	}

	var name storage.FileName
	err := s.run(r.Context(), func(ctx context.Context) error {
		var err error
		name, err = s.app.Ingestor.Ingest(ctx, req.Source, req.Name,
			ingest.WithTargetSize(req.Width, req.Height),
			ingest.WithQuality(quality),
		)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, IngestResponse{
		Name: name.String(),
		Path: s.app.Engine.PathInCache(name),
	})
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	tier, name, err := pathName(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var exists bool
	if err := s.run(r.Context(), func(context.Context) error {
		exists = s.app.Engine.Exists(tier, name)
		return nil
	}); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	tier, name, err := pathName(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	f, err := s.app.Engine.Open(tier, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, r, storage.NewError("stat", f.Name(), err, storage.ReadFailure))
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeContent(w, r, name.String(), info.ModTime(), f)
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	tier, name, err := pathName(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch tier {
	case storage.Cache:
		writeJSON(w, http.StatusOK, PathResponse{Path: s.app.Engine.PathInCache(name)})
	case storage.Permanent:
		writeJSON(w, http.StatusOK, PathResponse{Path: s.app.Engine.PathInPermanent(name)})
	default:
		writeError(w, r, &storage.Error{Kind: storage.InvalidParameter, Op: "path", Err: fmt.Errorf("paths are not exposed for the %s tier", tier)})
	}
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	from, name, err := pathName(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	to, err := storage.ParseTier(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var result storage.MoveResult
	if err := s.run(r.Context(), func(context.Context) error {
		var err error
		result, err = s.app.Engine.Move(name, from, to)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	resp := MoveResponse{Name: name.String(), From: from.String(), To: to.String()}
	if result.Warning != nil {
		resp.Warning = result.Warning.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	tier, name, err := pathName(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.run(r.Context(), func(context.Context) error {
		return s.app.Engine.Delete(tier, name)
	}); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearTier(w http.ResponseWriter, r *http.Request) {
	tier, err := pathTier(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var sweep func() error
	switch tier {
	case storage.Cache:
		sweep = s.app.Engine.ClearCache
	case storage.Backup:
		sweep = s.app.Engine.ClearBackup
	default:
		writeError(w, r, &storage.Error{Kind: storage.InvalidParameter, Op: "clear", Err: fmt.Errorf("the %s tier is only cleared together with the cache", tier)})
		return
	}

	if err := s.run(r.Context(), func(context.Context) error { return sweep() }); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.run(r.Context(), func(context.Context) error {
		return s.app.Engine.ClearAll()
	}); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := s.app.Engine.Orphans(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, NewOrphanList(orphans))
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var report storage.ReconcileReport
	if err := s.run(r.Context(), func(ctx context.Context) error {
		var err error
		report, err = s.app.Engine.ReconcileOrphans(ctx)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewReconcileResponse(report))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
