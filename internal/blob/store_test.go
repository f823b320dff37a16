package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeworks.org/ptw/internal/config"
)

func TestRefURLRoundTrip(t *testing.T) {
	ref := Ref{Kind: KindEvidence, Name: "1700000000000-ab12cd-photo.jpg"}
	assert.Equal(t, "/uploads/evidences/1700000000000-ab12cd-photo.jpg", ref.URL())

	parsed, err := ParseURL(ref.URL())
	require.NoError(t, err)
	assert.Equal(t, ref, parsed)
}

func TestRefValidate(t *testing.T) {
	bad := []Ref{
		{Kind: "tmp", Name: "x"},
		{Kind: KindSWMS, Name: ""},
		{Kind: KindSWMS, Name: ".."},
		{Kind: KindSWMS, Name: "a/b"},
		{Kind: KindSWMS, Name: `a\b`},
	}
	for _, ref := range bad {
		assert.ErrorIs(t, ref.Validate(), ErrInvalidName, "ref %+v", ref)
	}
	_, err := ParseURL("/static/evidences/x")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = ParseURL("/uploads/evidences")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	ref := Ref{Kind: KindSignature, Name: "sig.png"}

	require.NoError(t, s.Put(ctx, ref, []byte("png-bytes"), "image/png"))
	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), got)

	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, ref), ErrNotFound)
}

func TestFileStore(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)
	for _, dir := range []string{"evidences", "swms", "signatures"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	exerciseStore(t, s)

	ref := Ref{Kind: KindEvidence, Name: "a.jpg"}
	require.NoError(t, s.Put(context.Background(), ref, []byte("x"), "image/jpeg"))
	_, err = os.Stat(filepath.Join(root, "evidences", "a.jpg"))
	assert.NoError(t, err)
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	exerciseStore(t, s)

	s.FailPut = func(ref Ref) error {
		if ref.Name == "bad.jpg" {
			return errors.New("disk full")
		}
		return nil
	}
	ctx := context.Background()
	assert.Error(t, s.Put(ctx, Ref{Kind: KindEvidence, Name: "bad.jpg"}, nil, ""))
	assert.NoError(t, s.Put(ctx, Ref{Kind: KindEvidence, Name: "ok.jpg"}, nil, ""))
	assert.Equal(t, []string{"evidences/ok.jpg"}, s.Keys())
}

func TestFactory(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, config.StorageOptions{Backend: "fs", Root: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = New(ctx, config.StorageOptions{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemStore{}, s)

	_, err = New(ctx, config.StorageOptions{Backend: "ftp"})
	assert.Error(t, err)
}
