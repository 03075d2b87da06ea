package minio

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// RefScheme prefixes a reference to an object outside the default bucket:
// "s3://bucket/key". Bare references are keys in the default bucket.
const RefScheme = "s3://"

const resolveParallelism = 4

// TextStore reads and writes extracted document texts.
type TextStore struct {
	api    ObjectAPI
	cfg    Config
	logger logging.Logger
}

// NewTextStore wraps api.
func NewTextStore(api ObjectAPI, cfg Config, log logging.Logger) *TextStore {
	applyDefaults(&cfg)
	return &TextStore{api: api, cfg: cfg, logger: logging.OrNop(log)}
}

// Bucket returns the default bucket.
func (s *TextStore) Bucket() string { return s.cfg.Bucket }

func (s *TextStore) split(ref string) (bucket, key string, err error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, RefScheme) {
		rest := strings.TrimPrefix(ref, RefScheme)
		i := strings.IndexByte(rest, '/')
		if i <= 0 || i == len(rest)-1 {
			return "", "", errors.Validation("malformed text reference").WithDetail(ref)
		}
		return rest[:i], rest[i+1:], nil
	}
	if ref == "" {
		return "", "", errors.Validation("empty text reference")
	}
	return s.cfg.Bucket, ref, nil
}

// Put stores text under key in the default bucket and returns its reference.
func (s *TextStore) Put(ctx context.Context, key, text string, meta map[string]string) (string, error) {
	if key == "" {
		return "", errors.Validation("empty object key")
	}
	if int64(len(text)) > s.cfg.MaxTextMB<<20 {
		return "", errors.Validation("extracted text too large").WithDetail(key)
	}
	_, err := s.api.PutObject(ctx, s.cfg.Bucket, key, strings.NewReader(text), int64(len(text)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8", UserMetadata: meta})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageError, "failed to store text").WithDetail(key)
	}
	return key, nil
}

// Get returns the text behind ref.
func (s *TextStore) Get(ctx context.Context, ref string) (string, error) {
	bucket, key, err := s.split(ref)
	if err != nil {
		return "", err
	}
	start := time.Now()
	body, err := s.api.Open(ctx, bucket, key)
	if err != nil {
		return "", s.translate(err, ref)
	}
	defer body.Close()

	limit := s.cfg.MaxTextMB << 20
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageError, "failed to read text").WithDetail(ref)
	}
	if int64(len(data)) > limit {
		return "", errors.Validation("extracted text too large").WithDetail(ref)
	}
	s.logger.Debug("text fetched",
		logging.String("ref", ref),
		logging.Int("bytes", len(data)),
		logging.Duration("took", time.Since(start)))
	return string(data), nil
}

// Exists reports whether ref points at an object.
func (s *TextStore) Exists(ctx context.Context, ref string) (bool, error) {
	bucket, key, err := s.split(ref)
	if err != nil {
		return false, err
	}
	if _, err := s.api.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeStorageError, "failed to stat text").WithDetail(ref)
	}
	return true, nil
}

// Delete removes the object behind ref.
func (s *TextStore) Delete(ctx context.Context, ref string) error {
	bucket, key, err := s.split(ref)
	if err != nil {
		return err
	}
	if err := s.api.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "failed to delete text").WithDetail(ref)
	}
	return nil
}

// Resolve fetches every reference of refs, keyed like refs. The first
// failure cancels the rest.
func (s *TextStore) Resolve(ctx context.Context, refs map[string]string) (map[string]string, error) {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)

	texts := make([]string, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveParallelism)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			text, err := s.Get(gctx, refs[name])
			if err != nil {
				return err
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(names))
	for i, name := range names {
		out[name] = texts[i]
	}
	return out, nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func (s *TextStore) translate(err error, ref string) error {
	if isNoSuchKey(err) {
		return errors.New(errors.ErrCodeTextNotFound, "extracted text not found").WithDetail(ref)
	}
	return errors.Wrap(err, errors.ErrCodeStorageError, "failed to open text").WithDetail(ref)
}
