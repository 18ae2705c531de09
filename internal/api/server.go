// Package api exposes the HTTP interface of the scan engine and the
// read-side queries the gallery front end consumes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mb-go/internal/paths"
	"mb-go/internal/scan"
)

const defaultPageSize = 24

// Server wires HTTP handlers to the scan service and the aggregate store.
type Server struct {
	router chi.Router
	svc    *scan.Service
	store  scan.Store
	logger scan.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc *scan.Service, store scan.Store, logger scan.Logger) *Server {
	s := &Server{svc: svc, store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)

	r.Route("/api", func(r chi.Router) {
		r.Route("/scan", func(r chi.Router) {
			r.Get("/status", s.scanStatus)
			r.Post("/init", s.scanInit)
			r.Post("/process", s.scanProcess)
			r.Post("/complete", s.scanComplete)
		})
		r.Get("/creators", s.listCreators)
		r.Route("/creators/{creator_id}", func(r chi.Router) {
			r.Get("/posts", s.listPosts)
			r.Get("/media", s.listMedia)
		})
		r.Get("/media/{media_id}", s.getMedia)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Scan endpoints

func (s *Server) scanStatus(w http.ResponseWriter, _ *http.Request) {
	status, err := s.svc.Status()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"last_scan": status.LastScan,
		"interval":  status.Interval,
	})
}

func (s *Server) scanInit(w http.ResponseWriter, _ *http.Request) {
	folders, err := s.svc.Init()
	if err != nil {
		if errors.Is(err, scan.ErrScanInProgress) {
			writeJSON(w, http.StatusConflict, errorBody("A scan is already in progress. Please wait."))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	if folders == nil {
		folders = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "creators": folders})
}

func (s *Server) scanProcess(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	if folder == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("no folder specified"))
		return
	}

	res, err := s.svc.Process(folder)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scan.ErrInvalidFolder) {
			status = http.StatusBadRequest
		} else if errors.Is(err, scan.ErrSourceNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorBody(err.Error()))
		return
	}

	if res.Status == scan.StatusSkipped {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "skipped",
			"message": res.Reason,
			"creator": folder,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"creator":     folder,
		"posts_count": res.Posts,
		"media_count": res.Media,
	})
}

func (s *Server) scanComplete(w http.ResponseWriter, _ *http.Request) {
	if err := s.svc.Complete(); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Gallery read endpoints

type creatorResponse struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Bio        string `json:"bio"`
	AvatarPath string `json:"avatar_path,omitempty"`
	HeaderPath string `json:"header_path,omitempty"`
	ScannedAt  string `json:"scanned_at,omitempty"`
	PostCount  int64  `json:"post_count"`
	MediaCount int64  `json:"media_count"`
}

func (s *Server) listCreators(w http.ResponseWriter, _ *http.Request) {
	creators, err := s.store.ListCreators()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}

	resp := make([]creatorResponse, 0, len(creators))
	for _, c := range creators {
		cr := creatorResponse{
			ID:         c.ID,
			Username:   c.Username,
			Bio:        c.Bio,
			AvatarPath: c.AvatarPath,
			HeaderPath: c.HeaderPath,
			PostCount:  c.PostCount,
			MediaCount: c.MediaCount,
		}
		if !c.ScannedAt.IsZero() {
			cr.ScannedAt = c.ScannedAt.Format("2006-01-02 15:04:05")
		}
		resp = append(resp, cr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"creators": resp})
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := s.creatorFromURL(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)

	posts, err := s.store.ListPosts(creatorID, r.URL.Query().Get("type"), limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	if posts == nil {
		posts = []scan.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (s *Server) listMedia(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := s.creatorFromURL(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)

	media, err := s.store.ListMedia(creatorID, r.URL.Query().Get("type"), limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	if media == nil {
		media = []scan.Media{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"media": media})
}

// getMedia returns one media row along with its resolved absolute file path
// and whether the file currently exists on disk. Serving the bytes is the
// front end's job; this is the lookup it needs.
func (s *Server) getMedia(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "media_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid media id"))
		return
	}

	media, err := s.store.GetMediaByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	if media == nil {
		writeJSON(w, http.StatusNotFound, errorBody("media not found"))
		return
	}

	creator, err := s.store.GetCreatorByID(media.CreatorID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	if creator == nil {
		writeJSON(w, http.StatusNotFound, errorBody("creator not found"))
		return
	}

	fullPath := paths.ResolveMediaPath(creator.FolderPath, media.Directory, media.Filename)
	_, statErr := os.Stat(fullPath)

	writeJSON(w, http.StatusOK, map[string]any{
		"media":  media,
		"path":   fullPath,
		"exists": statErr == nil,
	})
}

func (s *Server) creatorFromURL(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "creator_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid creator id"))
		return 0, false
	}
	return id, true
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	return limit, (page - 1) * limit
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"status": "error", "message": msg}
}
