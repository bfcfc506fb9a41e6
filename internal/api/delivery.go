package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/download"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/files"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/logging"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/metrics"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/thumbs"
)

// handleDeliver serves GET /download-file/{token}[/{action}]. The token
// pins the file; the action selects attachment download (default),
// inline view or a thumbnail.
func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	claims, err := s.tokens.Parse(r.PathValue("token"))
	if err != nil {
		s.sendStorageError(w, err)
		return
	}

	switch r.PathValue("action") {
	case "thumb":
		s.deliverThumb(w, r, claims, r.PathValue("token"))
	case "", "download":
		s.deliverFile(w, r, claims, true)
	default:
		// Unrecognized actions fall through to inline view.
		s.deliverFile(w, r, claims, false)
	}
}

func (s *Server) deliverFile(w http.ResponseWriter, r *http.Request, claims *download.Claims, asAttachment bool) {
	scope := claims.Scope()

	if s.cfg.RedirectToOriginalFileURLs {
		url, err := s.engine.PresignRead(r.Context(), scope, claims.Path, claims.Name,
			s.cfg.DownloadLinkLifetime, asAttachment)
		if err != nil {
			s.sendStorageError(w, err)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	rc, size, err := s.engine.OpenFile(r.Context(), scope, claims.Path, claims.Name)
	if err != nil {
		s.sendStorageError(w, err)
		return
	}
	defer rc.Close()

	if asAttachment {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", claims.Name))
	} else {
		w.Header().Set("Content-Type", contentTypeFor(claims.Name))
	}
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		logging.Warn("file delivery aborted",
			zap.String("file", files.JoinPath(claims.Path, claims.Name)), zap.Error(err))
	}
}

func (s *Server) deliverThumb(w http.ResponseWriter, r *http.Request, claims *download.Claims, token string) {
	if !thumbs.Supported(claims.Name) {
		metrics.RecordThumbnail("error")
		s.sendError(w, http.StatusNotFound, "no thumbnail for this file type")
		return
	}

	key := thumbs.CacheKey(token, claims.Name)
	data, ok := s.thumbCache.Get(claims.UserPublicID, key)
	if ok {
		metrics.RecordThumbnail("hit")
	} else {
		rc, _, err := s.engine.OpenFile(r.Context(), claims.Scope(), claims.Path, claims.Name)
		if err != nil {
			metrics.RecordThumbnail("error")
			s.sendStorageError(w, err)
			return
		}
		data, err = thumbs.Generate(rc, claims.Name)
		rc.Close()
		if err != nil {
			metrics.RecordThumbnail("error")
			logging.Warn("thumbnail generation failed",
				zap.String("file", files.JoinPath(claims.Path, claims.Name)), zap.Error(err))
			s.sendError(w, http.StatusUnprocessableEntity, "cannot generate thumbnail")
			return
		}
		s.thumbCache.Put(claims.UserPublicID, key, data)
		metrics.RecordThumbnail("miss")
	}

	w.Header().Set("Content-Type", contentTypeFor(claims.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func contentTypeFor(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
