// Package store persists documents keyed by path. A document is the pad text
// plus at most one binary attachment. Every operation targets exactly one
// path, so backends need no multi-document transactions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// ErrInvalidPath is returned for paths that cannot key a document.
var ErrInvalidPath = errors.New("invalid path")

// Attachment is the optional binary blob stored beside the text.
type Attachment struct {
	Name string
	Data []byte
}

// Document is the persisted state of one path. A path that was never saved
// loads as a Document with empty text and no attachment.
type Document struct {
	Path       string
	Text       string
	Attachment *Attachment
	UpdatedAt  time.Time
}

// Store is safe for concurrent use.
type Store interface {
	// Load returns the document for path, or an empty one if none exists.
	Load(ctx context.Context, path string) (Document, error)
	// SaveText replaces the text of path, creating the document if needed.
	// The attachment is left untouched.
	SaveText(ctx context.Context, path, text string) error
	// SaveAttachment replaces the attachment of path, or deletes it when
	// attachment is nil. The text is left untouched.
	SaveAttachment(ctx context.Context, path string, attachment *Attachment) error
	// Expire deletes documents last updated before the given instant and
	// returns how many were removed.
	Expire(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// ValidatePath reports whether path can key a document. Paths are opaque and
// compared byte for byte, so only empty and non UTF-8 paths are refused.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if !utf8.ValidString(path) {
		return fmt.Errorf("%w: not utf-8", ErrInvalidPath)
	}
	return nil
}

// Options selects and configures a backend for Open.
type Options struct {
	// Driver is one of sqlite, postgres, mongo or memory.
	Driver string
	DSN    string
	// Expiry is forwarded to backends that can expire documents natively.
	Expiry time.Duration
}

// Open connects to the configured backend and wraps it with metrics.
func Open(ctx context.Context, opts Options) (Store, error) {
	var s Store
	var err error
	switch opts.Driver {
	case "memory":
		s = NewMemory()
	case "sqlite", "":
		s, err = OpenSQLite(ctx, opts.DSN)
	case "postgres":
		s, err = OpenPostgres(ctx, opts.DSN)
	case "mongo":
		s, err = OpenMongo(ctx, opts.DSN, opts.Expiry)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(s), nil
}

func copyAttachment(a *Attachment) *Attachment {
	if a == nil {
		return nil
	}
	return &Attachment{Name: a.Name, Data: append([]byte{}, a.Data...)}
}
