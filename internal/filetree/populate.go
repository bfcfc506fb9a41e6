package filetree

import (
	"errors"
	"mime"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/files"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/keys"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/logging"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/thumbs"
)

// populate turns a decoded key into the entry handed to clients,
// attaching content type, thumbnail capability and action URLs.
func (e *Engine) populate(scope files.Scope, d keys.Decoded, size int64) files.Entry {
	entry := files.Entry{
		IsFolder:   d.IsFolder,
		IsExternal: true,
		Name:       d.Name,
		Path:       d.Path,
		FullPath:   files.JoinPath(d.Path, d.Name),
		Owner:      scope.UserPublicID,
		Actions:    map[string]files.Action{},
	}

	if d.IsFolder {
		entry.Actions[files.ActionList] = files.Action{}
		return entry
	}

	if size > 0 {
		entry.Size = uint64(size)
	}
	entry.ContentType = contentTypeByName(d.Name)
	entry.HasThumb = thumbs.Supported(d.Name)

	if e.tokens != nil {
		token, err := e.tokens.Issue(scope, d.Path, d.Name, "")
		if err != nil {
			logging.Warn("issuing access token failed",
				zap.String("file", entry.FullPath), zap.Error(err))
		} else {
			url := "?download-file/" + token
			entry.Actions[files.ActionDownload] = files.Action{URL: url}
			entry.Actions[files.ActionView] = files.Action{URL: url + "/view"}
		}
	}
	return entry
}

// contentTypeByName resolves a MIME type from the file extension,
// defaulting to a binary stream.
func contentTypeByName(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func isNotFound(err error) bool {
	return errors.Is(err, files.ErrNotFound)
}
