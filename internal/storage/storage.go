// Package storage is where archivos and donation receipts live. The file
// services only see the Storage interface; backends (local, s3) register a
// factory from init() and cmd/server blank-imports the ones it ships:
//
//	import _ "github.com/consejo-social/veeduria/internal/storage/s3"
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound means no object is stored under the path.
var ErrNotFound = errors.New("object not found")

// Storage is an object store addressed by slash-separated paths.
type Storage interface {
	// Upload writes size bytes from r under path. Object keys are unique, so
	// backends may refuse to overwrite.
	Upload(ctx context.Context, path string, r io.Reader, size int64) (*UploadResult, error)
	// Download opens the object; the caller closes it. Missing objects yield ErrNotFound.
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	// Delete is idempotent.
	Delete(ctx context.Context, path string) error
	// GetURL returns a link to the object, presigned for ttl where the backend can.
	GetURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult describes a stored object.
type UploadResult struct {
	Path     string
	Size     int64
	Checksum string // hex sha256 of the stored bytes
}

// maxExtLen bounds the extension kept from a client filename.
const maxExtLen = 10

// ObjectKey returns prefix/YYYY/MM/<uuid><ext>. The client filename only
// contributes its lower-cased extension, so two uploads never collide and no
// user text reaches the object key.
func ObjectKey(prefix string, at time.Time, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > maxExtLen || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return path.Join(prefix, at.UTC().Format("2006/01"), uuid.NewString()+ext)
}
