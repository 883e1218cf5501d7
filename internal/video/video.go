package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

const manifestMarker = "master.mpd"

var (
	ErrNotResolved      = errors.New("video url could not be resolved")
	ErrConversionFailed = errors.New("manifest conversion failed")
)

type Reference struct {
	URL        string
	IsManifest bool
}

// JoinSignedURL appends a signed query fragment to base. A fragment that is
// already present at the end of base is not appended again.
func JoinSignedURL(base, signed string) string {
	signed = strings.TrimLeft(strings.TrimSpace(signed), "?&")
	base = strings.TrimSpace(base)
	if signed == "" {
		return base
	}
	if base == "" {
		return ""
	}
	if strings.HasSuffix(base, "?"+signed) || strings.HasSuffix(base, "&"+signed) {
		return base
	}
	base = strings.TrimRight(base, "?&")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + signed
}

func IsManifestURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.Contains(raw, manifestMarker)
	}
	return strings.Contains(u.Path, manifestMarker)
}

type Tokens struct {
	Resolve string
	Convert string
}

type Source interface {
	Resolve(ctx context.Context, batchID, sessionID, token string) (Reference, error)
}

type Converter interface {
	ConvertManifest(ctx context.Context, manifestURL, token string) (string, error)
}

type Service struct {
	source    Source
	converter Converter
}

func NewService(source Source, converter Converter) *Service {
	return &Service{source: source, converter: converter}
}

// ResolvePlayable returns a URL the uploader bot can ingest, converting DASH
// manifests to a playlist first.
func (s *Service) ResolvePlayable(ctx context.Context, batchID, sessionID string, tokens Tokens) (Reference, error) {
	ref, err := s.source.Resolve(ctx, batchID, sessionID, tokens.Resolve)
	if err != nil {
		return Reference{}, fmt.Errorf("resolve session %s: %w", sessionID, errors.Join(ErrNotResolved, err))
	}
	if ref.URL == "" {
		return Reference{}, fmt.Errorf("resolve session %s: %w", sessionID, ErrNotResolved)
	}
	if !ref.IsManifest && !IsManifestURL(ref.URL) {
		return ref, nil
	}
	slog.Info("converting manifest to playlist", "session_id", sessionID)
	playlist, err := s.converter.ConvertManifest(ctx, ref.URL, tokens.Convert)
	if err != nil {
		return Reference{}, fmt.Errorf("convert manifest for session %s: %w", sessionID, errors.Join(ErrConversionFailed, err))
	}
	if playlist == "" {
		return Reference{}, fmt.Errorf("convert manifest for session %s: %w", sessionID, ErrConversionFailed)
	}
	return Reference{URL: playlist}, nil
}
