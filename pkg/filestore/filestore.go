package filestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/musegen/musegen/pkg/filestore/local"
	"github.com/musegen/musegen/pkg/filestore/s3"
)

type fs interface {
	Upload(ctx context.Context, path, name string) error
	Download(ctx context.Context, path, name string) error
}

// Store persists generation artifacts (WAV audio, analysis plots) in a
// local folder or an S3 bucket.
type Store struct {
	fs fs
}

func (s *Store) SetWAV(ctx context.Context, path, id string) error {
	return s.fs.Upload(ctx, path, WAV(id))
}

func (s *Store) GetWAV(ctx context.Context, path, id string) error {
	return s.fs.Download(ctx, path, WAV(id))
}

func (s *Store) SetPNG(ctx context.Context, path, id string) error {
	return s.fs.Upload(ctx, path, PNG(id))
}

func (s *Store) GetPNG(ctx context.Context, path, id string) error {
	return s.fs.Download(ctx, path, PNG(id))
}

// URL returns a shareable link to an artifact. Local stores don't
// produce links, the second return reports whether one is available.
func (s *Store) URL(ctx context.Context, name string) (string, bool, error) {
	l, ok := s.fs.(interface {
		URL(ctx context.Context, name string) (string, error)
	})
	if !ok {
		return "", false, nil
	}
	u, err := l.URL(ctx, name)
	if err != nil {
		return "", false, fmt.Errorf("filestore: %w", err)
	}
	return u, true, nil
}

func New(typ, conn string, debug bool) (*Store, error) {
	var fs fs
	switch typ {
	case "s3":
		split := strings.Split(conn, "@")
		if len(split) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 connection string %q", conn)
		}
		auth := strings.Split(split[0], ":")
		if len(auth) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 auth string %q", conn)
		}
		key := auth[0]
		secret := auth[1]
		loc := strings.Split(split[1], ".")
		if len(loc) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 location string %q", conn)
		}
		bucket := loc[0]
		region := loc[1]
		candidate, err := s3.New(key, secret, region, bucket, debug)
		if err != nil {
			return nil, fmt.Errorf("filestore: %w", err)
		}
		fs = candidate
	case "local":
		fs = local.New(conn, debug)
	default:
		return nil, fmt.Errorf("filestore: unknown file storage type %q", typ)
	}
	return &Store{fs: fs}, nil
}

func WAV(id string) string {
	return id + ".wav"
}

func PNG(id string) string {
	return id + ".png"
}
