package creds

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// Source tags where the active credential blob came from.
type Source string

const (
	SourceDisk    Source = "on-disk"
	SourceInline  Source = "decoded-inline"
	SourceArchive Source = "remote-archive"
	SourceNone    Source = "none"
)

const (
	// inlinePrefix marks a session string carrying the credential blob
	// itself: Buddy~<base64 of gzipped credential text>.
	inlinePrefix = "Buddy~"
	// legacyPrefix marks the old remote-archive form:
	// Buddy$<fileID>#<decryption key>.
	legacyPrefix = "Buddy$"
)

var gzipMagic = []byte{0x1f, 0x8b}

// ArchiveFetcher retrieves a stored credential archive from the remote
// file-sharing service.
type ArchiveFetcher interface {
	Fetch(ctx context.Context, fileID, key string) ([]byte, error)
}

// Bootstrapper resolves session credentials from, in precedence order:
// an existing on-disk file, an inline compressed blob in the configured
// session string, or a legacy remote archive. When nothing resolves the
// caller must fall back to interactive QR pairing.
type Bootstrapper struct {
	store     *Store
	sessionID string
	fetcher   ArchiveFetcher
	logger    *zap.Logger
}

// NewBootstrapper creates a bootstrapper. fetcher may be nil, in which
// case the legacy remote-archive step is skipped.
func NewBootstrapper(store *Store, sessionID string, fetcher ArchiveFetcher, logger *zap.Logger) *Bootstrapper {
	return &Bootstrapper{
		store:     store,
		sessionID: sessionID,
		fetcher:   fetcher,
		logger:    logger,
	}
}

// Bootstrap tries each credential source in precedence order. It never
// returns an error: every failure logs and cascades to the next step,
// and (SourceNone, false) means interactive pairing is required.
func (b *Bootstrapper) Bootstrap(ctx context.Context) (Source, bool) {
	if b.store.Exists() {
		b.logger.Info("using existing on-disk credentials", zap.String("path", b.store.Path()))
		return SourceDisk, true
	}

	if strings.HasPrefix(b.sessionID, inlinePrefix) {
		if b.bootstrapInline() {
			return SourceInline, true
		}
	}

	if strings.HasPrefix(b.sessionID, legacyPrefix) && strings.Contains(b.sessionID, "#") {
		if b.bootstrapArchive(ctx) {
			return SourceArchive, true
		}
	}

	b.logger.Info("no credential source resolved, interactive pairing required")
	return SourceNone, false
}

func (b *Bootstrapper) bootstrapInline() bool {
	encoded := strings.TrimPrefix(b.sessionID, inlinePrefix)

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		b.logger.Warn("inline session blob is not valid base64", zap.Error(err))
		return false
	}
	if !bytes.HasPrefix(data, gzipMagic) {
		b.logger.Warn("inline session blob is not gzip-compressed")
		return false
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		b.logger.Warn("failed to open gzip stream", zap.Error(err))
		return false
	}
	text, err := io.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		b.logger.Warn("failed to decompress inline session blob", zap.Error(err))
		return false
	}

	if err := b.store.Save(text); err != nil {
		b.logger.Warn("failed to persist decoded credentials", zap.Error(err))
		return false
	}
	b.logger.Info("credentials decoded from inline session blob",
		zap.Int("bytes", len(text)))
	return true
}

func (b *Bootstrapper) bootstrapArchive(ctx context.Context) bool {
	if b.fetcher == nil {
		b.logger.Warn("legacy session string present but no archive fetcher configured")
		return false
	}

	rest := strings.TrimPrefix(b.sessionID, legacyPrefix)
	fileID, key, ok := strings.Cut(rest, "#")
	if !ok || fileID == "" {
		b.logger.Warn("malformed legacy session string")
		return false
	}

	data, err := b.fetcher.Fetch(ctx, fileID, key)
	if err != nil {
		b.logger.Warn("failed to fetch credential archive",
			zap.String("file_id", fileID), zap.Error(err))
		return false
	}

	if err := b.store.Save(data); err != nil {
		b.logger.Warn("failed to persist fetched credentials", zap.Error(err))
		return false
	}
	b.logger.Info("credentials retrieved from remote archive",
		zap.String("file_id", fileID), zap.Int("bytes", len(data)))
	return true
}
