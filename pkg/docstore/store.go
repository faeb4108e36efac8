// Package docstore persists document blobs (report PDFs and similar) and
// returns the metadata needed to link them from a report version.
package docstore

import (
	"context"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Object describes a stored blob.
type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Store persists blobs under a key prefix.
type Store interface {
	Put(ctx context.Context, data []byte, keyPrefix string) (*Object, error)
}

// Option configures a LocalStore.
type Option func(*LocalStore)

// WithBaseURL sets the public URL prefix used to build object URLs.
func WithBaseURL(u string) Option {
	return func(s *LocalStore) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

// LocalStore writes blobs below a root directory.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string, opts ...Option) *LocalStore {
	s := &LocalStore{root: dir, baseURL: "/documents"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put writes data to <root>/<prefix>/<uuid><ext> and returns its metadata.
func (s *LocalStore) Put(ctx context.Context, data []byte, keyPrefix string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, eris.New("docstore: empty document")
	}

	prefix := cleanPrefix(keyPrefix)
	contentType := http.DetectContentType(data)
	key := path.Join(prefix, uuid.NewString()+extension(contentType))

	full := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, eris.Wrapf(err, "docstore: create directory for %s", key)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return nil, eris.Wrapf(err, "docstore: write %s", key)
	}

	return &Object{
		Key:         key,
		URL:         s.baseURL + "/" + key,
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

// cleanPrefix keeps keys relative so a prefix cannot escape the root.
func cleanPrefix(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}

func extension(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if mt == "application/pdf" {
		return ".pdf"
	}
	exts, err := mime.ExtensionsByType(mt)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
