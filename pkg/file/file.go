package file

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"
)

// Object describes a stored artifact.
type Object struct {
	Key         string
	Size        int64
	ContentType string
	URL         string
}

// Storage keeps export artifacts under slash-separated keys.
type Storage interface {
	// Put writes body under key, replacing any existing object.
	Put(ctx context.Context, key string, body io.Reader, contentType string) (*Object, error)
	// Delete removes the object stored under key.
	Delete(ctx context.Context, key string) error
	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) bool
	// List returns the objects whose keys start with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Object, error)
	// URL returns the public URL for key.
	URL(key string) string
}

// CleanKey normalizes key to a relative slash path.
// Keys that escape the root are rejected with ErrInvalidPath.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", ErrInvalidPath
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", ErrInvalidPath
		}
	}
	cleaned := path.Clean(key)
	if cleaned == "." {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// ContentType returns contentType, or one guessed from the key's extension.
func ContentType(key, contentType string) string {
	if contentType != "" {
		return contentType
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
