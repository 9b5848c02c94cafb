package creds

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	data   []byte
	err    error
	fileID string
	key    string
	calls  int
}

func (f *fakeFetcher) Fetch(_ context.Context, fileID, key string) ([]byte, error) {
	f.calls++
	f.fileID = fileID
	f.key = key
	return f.data, f.err
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "session.db"))
}

func inlineSession(t *testing.T, payload string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(payload)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return "Buddy~" + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestBootstrapOnDiskWins(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save([]byte("EXISTING")); err != nil {
		t.Fatal(err)
	}

	fetcher := &fakeFetcher{}
	b := NewBootstrapper(store, inlineSession(t, "SHOULD-NOT-DECODE"), fetcher, zap.NewNop())
	src, ready := b.Bootstrap(context.Background())
	if !ready || src != SourceDisk {
		t.Fatalf("got (%s, %v), want (%s, true)", src, ready, SourceDisk)
	}

	data, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "EXISTING" {
		t.Errorf("on-disk credentials overwritten: %q", data)
	}
	if fetcher.calls != 0 {
		t.Error("archive fetcher should not be called")
	}
}

func TestBootstrapInlineGzip(t *testing.T) {
	store := newTestStore(t)
	b := NewBootstrapper(store, inlineSession(t, "SESSIONDATA"), nil, zap.NewNop())

	src, ready := b.Bootstrap(context.Background())
	if !ready || src != SourceInline {
		t.Fatalf("got (%s, %v), want (%s, true)", src, ready, SourceInline)
	}

	data, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "SESSIONDATA" {
		t.Errorf("decoded credentials = %q, want SESSIONDATA", data)
	}
}

func TestBootstrapInlineNotGzip(t *testing.T) {
	store := newTestStore(t)
	sid := "Buddy~" + base64.StdEncoding.EncodeToString([]byte("plain text, no gzip magic"))
	b := NewBootstrapper(store, sid, nil, zap.NewNop())

	src, ready := b.Bootstrap(context.Background())
	if ready || src != SourceNone {
		t.Fatalf("got (%s, %v), want (%s, false)", src, ready, SourceNone)
	}
	if store.Exists() {
		t.Error("store should not be written on decode failure")
	}
}

func TestBootstrapInlineBadBase64(t *testing.T) {
	store := newTestStore(t)
	b := NewBootstrapper(store, "Buddy~!!!not-base64!!!", nil, zap.NewNop())

	if src, ready := b.Bootstrap(context.Background()); ready || src != SourceNone {
		t.Fatalf("got (%s, %v), want (%s, false)", src, ready, SourceNone)
	}
}

func TestBootstrapLegacyArchive(t *testing.T) {
	store := newTestStore(t)
	fetcher := &fakeFetcher{data: []byte("ARCHIVED-CREDS")}
	b := NewBootstrapper(store, "Buddy$file123#c2VjcmV0", fetcher, zap.NewNop())

	src, ready := b.Bootstrap(context.Background())
	if !ready || src != SourceArchive {
		t.Fatalf("got (%s, %v), want (%s, true)", src, ready, SourceArchive)
	}
	if fetcher.fileID != "file123" || fetcher.key != "c2VjcmV0" {
		t.Errorf("fetcher called with (%q, %q)", fetcher.fileID, fetcher.key)
	}

	data, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ARCHIVED-CREDS" {
		t.Errorf("stored credentials = %q", data)
	}
}

func TestBootstrapLegacyFetchFails(t *testing.T) {
	store := newTestStore(t)
	fetcher := &fakeFetcher{err: errors.New("object not found")}
	b := NewBootstrapper(store, "Buddy$gone#key", fetcher, zap.NewNop())

	if src, ready := b.Bootstrap(context.Background()); ready || src != SourceNone {
		t.Fatalf("got (%s, %v), want (%s, false)", src, ready, SourceNone)
	}
}

func TestBootstrapNothingConfigured(t *testing.T) {
	store := newTestStore(t)
	b := NewBootstrapper(store, "", nil, zap.NewNop())

	if src, ready := b.Bootstrap(context.Background()); ready || src != SourceNone {
		t.Fatalf("got (%s, %v), want (%s, false)", src, ready, SourceNone)
	}
}

func TestStoreSaveIsAtomic(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save([]byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := store.Save([]byte("two")); err != nil {
		t.Fatal(err)
	}

	data, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "two" {
		t.Errorf("credentials = %q, want two", data)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the credential file, found %d entries", len(entries))
	}
}

func TestStoreExistsIgnoresEmptyFile(t *testing.T) {
	store := newTestStore(t)
	if store.Exists() {
		t.Error("Exists() on missing file should be false")
	}
	if err := os.WriteFile(store.Path(), nil, 0600); err != nil {
		t.Fatal(err)
	}
	if store.Exists() {
		t.Error("Exists() on empty file should be false")
	}
}
