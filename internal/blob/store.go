// Package blob persists uploaded files and hands back stable references.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind selects the storage root of a file.
type Kind string

const (
	KindEvidence  Kind = "evidences"
	KindSWMS      Kind = "swms"
	KindSignature Kind = "signatures"
)

// URLPrefix is the public path under which stored files are served.
const URLPrefix = "/uploads/"

var (
	ErrNotFound    = errors.New("blob: not found")
	ErrInvalidName = errors.New("blob: invalid name")
)

func (k Kind) Valid() bool {
	switch k {
	case KindEvidence, KindSWMS, KindSignature:
		return true
	}
	return false
}

// Ref addresses one stored file.
type Ref struct {
	Kind Kind
	Name string
}

// Key is the backend-relative object path.
func (r Ref) Key() string { return string(r.Kind) + "/" + r.Name }

// URL is the relative URL the file is served from.
func (r Ref) URL() string { return URLPrefix + r.Key() }

// Validate rejects unknown kinds and names that could escape the kind root.
func (r Ref) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidName, r.Kind)
	}
	if r.Name == "" || r.Name == "." || r.Name == ".." ||
		strings.ContainsAny(r.Name, `/\`) || strings.ContainsRune(r.Name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, r.Name)
	}
	return nil
}

// ParseURL turns a /uploads/<kind>/<name> path back into a Ref.
func ParseURL(u string) (Ref, error) {
	rest, ok := strings.CutPrefix(u, URLPrefix)
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidName, u)
	}
	kind, name, ok := strings.Cut(rest, "/")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidName, u)
	}
	ref := Ref{Kind: Kind(kind), Name: name}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// Store is the file storage capability. Delete of a missing file returns ErrNotFound.
type Store interface {
	Put(ctx context.Context, ref Ref, data []byte, contentType string) error
	Get(ctx context.Context, ref Ref) ([]byte, error)
	Delete(ctx context.Context, ref Ref) error
}
