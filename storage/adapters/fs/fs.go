// Package fs stores archived bodies on the local filesystem. Buckets are
// directories under the base path; the empty bucket is the base path itself.
package fs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"netfetch/observability"
	"netfetch/storage/types"
)

const metaDir = ".meta"

// Storage implements types.ObjectStorage on a directory tree.
type Storage struct {
	basePath string
	logger   observability.Logger
	metrics  observability.Metrics
}

var _ types.ObjectStorage = (*Storage)(nil)

// NewStorage creates basePath if needed.
func NewStorage(basePath string, logger observability.Logger, metrics observability.Metrics) (*Storage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("filesystem storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	logger.Info(context.Background(), "Filesystem storage initialized", observability.Fields{"base_path": basePath})

	return &Storage{
		basePath: basePath,
		logger:   logger.WithFields(observability.Fields{"storage": "fs"}),
		metrics:  metrics,
	}, nil
}

// objectPath maps bucket and key to a file path, rejecting keys that would
// leave the bucket directory.
func (s *Storage) objectPath(bucket, key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", types.ErrInvalidKey
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, metaDir+"/") {
		return "", types.ErrInvalidKey
	}
	if strings.Contains(bucket, "/") || bucket == ".." {
		return "", types.ErrInvalidKey
	}
	return filepath.Join(s.basePath, bucket, filepath.FromSlash(clean)), nil
}

func (s *Storage) metaPath(bucket, key string) string {
	return filepath.Join(s.basePath, bucket, metaDir, filepath.FromSlash(path.Clean(key))+".json")
}

func (s *Storage) Put(ctx context.Context, bucket, key string, reader io.Reader, metadata types.ObjectMetadata) error {
	start := time.Now()
	objectPath, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(objectPath), 0o755); err != nil {
		s.metrics.RecordError("fs_put", "mkdir")
		return fmt.Errorf("failed to create bucket directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(objectPath), ".put-*")
	if err != nil {
		s.metrics.RecordError("fs_put", "create")
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := md5.New()
	written, err := io.Copy(io.MultiWriter(tmp, hash), reader)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		s.metrics.RecordError("fs_put", "write")
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := os.Rename(tmp.Name(), objectPath); err != nil {
		s.metrics.RecordError("fs_put", "rename")
		return fmt.Errorf("failed to write data: %w", err)
	}

	metadata.ContentLength = written
	metadata.LastModified = time.Now().UTC()
	metadata.ETag = hex.EncodeToString(hash.Sum(nil))
	if err := s.saveMetadata(bucket, key, metadata); err != nil {
		s.metrics.RecordError("fs_put", "metadata")
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	s.metrics.RecordSuccess("fs_put")
	s.metrics.RecordDuration("fs_put", time.Since(start).Seconds())
	s.metrics.RecordFileSize("archive", written)
	s.logger.Debug(ctx, "object stored", observability.Fields{"bucket": bucket, "key": key, "bytes": written})
	return nil
}

func (s *Storage) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	objectPath, err := s.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(objectPath)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			s.metrics.RecordError("fs_get", "not_found")
			return nil, types.ErrObjectNotFound
		}
		s.metrics.RecordError("fs_get", "open")
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	s.metrics.RecordSuccess("fs_get")
	return file, nil
}

func (s *Storage) GetWithMetadata(ctx context.Context, bucket, key string) (io.ReadCloser, *types.ObjectMetadata, error) {
	file, err := s.Get(ctx, bucket, key)
	if err != nil {
		return nil, nil, err
	}

	metadata, err := s.loadMetadata(bucket, key)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, metadata, nil
}

func (s *Storage) Delete(ctx context.Context, bucket, key string) error {
	objectPath, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}

	if err := os.Remove(objectPath); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		s.metrics.RecordError("fs_delete", "remove")
		return fmt.Errorf("failed to delete object: %w", err)
	}
	if err := os.Remove(s.metaPath(bucket, key)); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		s.logger.Warn(ctx, "failed to delete metadata", observability.Fields{"key": key, "error": err.Error()})
	}

	s.metrics.RecordSuccess("fs_delete")
	return nil
}

func (s *Storage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	objectPath, err := s.objectPath(bucket, key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(objectPath)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return !info.IsDir(), nil
}

// List returns objects whose slash-separated key starts with prefix.
func (s *Storage) List(ctx context.Context, bucket, prefix string) ([]types.ObjectInfo, error) {
	root := filepath.Join(s.basePath, bucket)

	var objects []types.ObjectInfo
	err := filepath.WalkDir(root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) && p == root {
				return iofs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == metaDir {
				return iofs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		obj := types.ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()}
		if meta, err := s.loadMetadata(bucket, key); err == nil {
			obj.ETag = meta.ETag
		}
		objects = append(objects, obj)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return objects, nil
}

func (s *Storage) saveMetadata(bucket, key string, metadata types.ObjectMetadata) error {
	p := s.metaPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (s *Storage) loadMetadata(bucket, key string) (*types.ObjectMetadata, error) {
	data, err := os.ReadFile(s.metaPath(bucket, key))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return &types.ObjectMetadata{}, nil
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata types.ObjectMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &metadata, nil
}
