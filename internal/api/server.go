// Package api provides the HTTP server exposing the file-tree
// operations and the token-gated file delivery endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/download"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/events"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/files"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/filetree"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/logging"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/metrics"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/thumbs"
)

// Config are the server's behavior switches.
type Config struct {
	// Disabled hides the storage from the registry and rejects file
	// operations, without tearing the process down.
	Disabled bool
	// RedirectToOriginalFileURLs serves downloads as redirects to
	// presigned store URLs instead of streaming through this process.
	RedirectToOriginalFileURLs bool
	// DownloadLinkLifetime bounds presigned URLs issued on the read
	// path.
	DownloadLinkLifetime time.Duration
}

// Server is the HTTP server.
type Server struct {
	engine      *filetree.Engine
	tokens      *download.Tokens
	thumbCache  *thumbs.Cache
	broadcaster *events.Broadcaster
	cfg         Config
}

// NewServer creates a server.
func NewServer(engine *filetree.Engine, tokens *download.Tokens, thumbCache *thumbs.Cache, broadcaster *events.Broadcaster, cfg Config) *Server {
	return &Server{
		engine:      engine,
		tokens:      tokens,
		thumbCache:  thumbCache,
		broadcaster: broadcaster,
		cfg:         cfg,
	}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/storages", s.handleStorages)

	mux.HandleFunc("GET /api/v1/files", s.handleList)
	mux.HandleFunc("GET /api/v1/files/info", s.handleFileInfo)
	mux.HandleFunc("POST /api/v1/files/{path...}", s.handleUpload)
	mux.HandleFunc("POST /api/v1/folders", s.handleCreateFolder)
	mux.HandleFunc("POST /api/v1/files:delete", s.handleDelete)
	mux.HandleFunc("POST /api/v1/files:rename", s.handleRename)
	mux.HandleFunc("POST /api/v1/files:move", s.handleMove)
	mux.HandleFunc("POST /api/v1/files:copy", s.handleCopy)
	mux.HandleFunc("GET /api/v1/quota", s.handleQuota)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	mux.HandleFunc("GET /download-file/{token}", s.handleDeliver)
	mux.HandleFunc("GET /download-file/{token}/{action}", s.handleDeliver)

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// storageInfo describes one storage offered to the host application.
type storageInfo struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	IsExternal  bool   `json:"is_external"`
}

func (s *Server) handleStorages(w http.ResponseWriter, r *http.Request) {
	storages := []storageInfo{}
	if !s.cfg.Disabled {
		storages = append(storages, storageInfo{
			Type:        files.StorageType,
			DisplayName: "S3",
			IsExternal:  true,
		})
	}
	s.sendJSON(w, map[string]any{"storages": storages})
}

// scopeFrom builds the request scope from the gateway-supplied identity
// headers. The host application authenticates upstream; this service
// trusts the headers it forwards.
func (s *Server) scopeFrom(r *http.Request) (files.Scope, error) {
	user := r.Header.Get("X-User")
	if user == "" {
		return files.Scope{}, errors.New("missing X-User header")
	}
	scope := files.Scope{UserPublicID: user, Origin: r.Header.Get("Origin")}
	if raw := r.Header.Get("X-Tenant-ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return files.Scope{}, fmt.Errorf("bad X-Tenant-ID: %w", err)
		}
		scope.TenantID = id
	}
	return scope, nil
}

// scoped wraps a handler with disabled-check and scope extraction.
func (s *Server) scoped(fn func(http.ResponseWriter, *http.Request, files.Scope)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Disabled {
			s.sendError(w, http.StatusServiceUnavailable, "storage disabled")
			return
		}
		scope, err := s.scopeFrom(r)
		if err != nil {
			s.sendError(w, http.StatusUnauthorized, err.Error())
			return
		}
		fn(w, r, scope)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.scoped(func(w http.ResponseWriter, r *http.Request, scope files.Scope) {
		entries, err := s.engine.ListFolder(r.Context(), scope,
			r.URL.Query().Get("path"), r.URL.Query().Get("pattern"))
		if err != nil {
			s.sendStorageError(w, err)
			return
		}
		s.sendJSON(w, map[string]any{"items": entries})
	})(w, r)
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	s.scoped(func(w http.ResponseWriter, r *http.Request, scope files.Scope) {
		info, err := s.engine.GetFileInfo(r.Context(), scope,
			r.URL.Query().Get("path"), r.URL.Query().Get("name"))
		if err != nil {
			s.sendStorageError(w, err)
			return
		}
		s.sendJSON(w, info)
	})(w, r)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.scoped(func(w http.ResponseWriter, r *http.Request, scope files.Scope) {
		full := r.PathValue("path")
		if full == "" {
			s.sendError(w, http.StatusBadRequest, "path required")
			return
		}
		dir, name := path.Split(full)
		if name == "" {
			s.sendError(w, http.StatusBadRequest, "file name required")
			return
		}
		if err := s.engine.CreateFile(r.Context(), scope, dir, name, r.Body); err != nil {
			s.sendStorageError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		s.sendJSON(w, map[string]string{"path": full})
	})(w, r)
}

type createFolderRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	s.scoped(func(w http.ResponseWriter, r *http.Request, scope files.Scope) {
		var req createFolderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			s.sendError(w, http.StatusBadRequest, "folder name required")
			return
		}
		if err := s.engine.CreateFolder(r.Context(), scope, req.Path, req.Name); err != nil {
			s.sendStorageError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		s.sendJSON(w, map[string]string{"path": files.JoinPath(req.Path, req.Name)})
	})(w, r)
}

type deleteRequest struct {
	Items []files.Item `json:"items"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.scoped(func(w http.ResponseWriter, r *http.Request, scope files.Scope) {
		var req deleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Items) == 0 {
			s.sendError(w, http.StatusBadRequest, "items required")
			return
		}
		if err := s.engine.Delete(r.Context(), scope, req.Items); err != nil {
			s.sendStorageError(w, err)
			return
		}
		s.sendJSON(w, map[string]bool{"ok": true})
	})(w, r)
}

type renameRequest struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	NewName  string `json:"new_name"`
	IsFolder bool   `json:"is_folder"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	s.scoped(func(w http.ResponseWriter, r *http.Request, scope files.Scope) {
		var req renameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.NewName == "" {
			s.sendError(w, http.StatusBadRequest, "name and new_name required")
			return
		}
		if err := s.engine.Rename(r.Context(), scope, req.Path, req.Name, req.NewName, req.IsFolder); err != nil {
			s.sendStorageError(w, err)
			return
		}
		s.sendJSON(w, map[string]bool{"ok": true})
	})(w, r)
}

type transferRequest struct {
	FromPath string       `json:"from_path"`
	ToPath   string       `json:"to_path"`
	Items    []files.Item `json:"items"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, true)
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, false)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, move bool) {
	s.scoped(func(w http.ResponseWriter, r *http.Request, scope files.Scope) {
		var req transferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Items) == 0 {
			s.sendError(w, http.StatusBadRequest, "items required")
			return
		}
		err := s.engine.CopyOrMove(r.Context(), scope, req.FromPath, req.ToPath, req.Items, move)
		var partial *files.PartialMoveError
		if errors.As(err, &partial) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]any{
				"error":   "partial move",
				"unmoved": partial.Unmoved,
			})
			return
		}
		if err != nil {
			s.sendStorageError(w, err)
			return
		}
		s.sendJSON(w, map[string]bool{"ok": true})
	})(w, r)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	s.scoped(func(w http.ResponseWriter, r *http.Request, scope files.Scope) {
		quota, err := s.engine.GetQuota(r.Context(), scope)
		if err != nil {
			s.sendStorageError(w, err)
			return
		}
		s.sendJSON(w, quota)
	})(w, r)
}

// handleEvents streams the user's file-tree changes over SSE.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.scoped(func(w http.ResponseWriter, r *http.Request, scope files.Scope) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			s.sendError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := s.broadcaster.Subscribe()
		defer s.broadcaster.Unsubscribe(ch)

		for {
			select {
			case <-r.Context().Done():
				return
			case event, open := <-ch:
				if !open {
					return
				}
				if event.User != scope.UserPublicID {
					continue
				}
				data, err := events.MarshalEvent(event)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
				flusher.Flush()
			}
		}
	})(w, r)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// sendStorageError maps the storage error taxonomy onto HTTP statuses.
func (s *Server) sendStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, files.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "not found")
	case errors.Is(err, files.ErrAccessDenied):
		s.sendError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, files.ErrMalformedKey):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, files.ErrBucketConflict):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		logging.Error("storage operation failed", zap.Error(err))
		s.sendError(w, http.StatusBadGateway, "storage unavailable")
	}
}
