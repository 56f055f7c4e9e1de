package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/memlease/service/dao"
)

// FsStore is a dao.Service keeping one JSON document per record under a base
// URL on any afs-supported storage. Load returns a fresh copy, so callers
// must Save after mutating.
type FsStore[K comparable, T any] struct {
	baseURL     string
	fs          afs.Service
	mu          sync.RWMutex
	keySelector func(*T) K
	keyName     func(K) string
	less        func(a, b *T) bool
	filter      func(*T, []*dao.Parameter) bool
}

// NewFsStore creates the base location when missing.
func NewFsStore[K comparable, T any](fs afs.Service, baseURL string, keySelector func(*T) K, keyName func(K) string, options ...Option[T]) (*FsStore[K, T], error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if fs == nil {
		fs = afs.New()
	}
	ctx := context.Background()
	baseURL = url.Normalize(baseURL, file.Scheme)
	exists, _ := fs.Exists(ctx, baseURL)
	if !exists {
		if err := fs.Create(ctx, baseURL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory %s: %w", baseURL, err)
		}
	}
	opts := &storeOptions[T]{}
	for _, option := range options {
		option(opts)
	}
	return &FsStore[K, T]{
		baseURL:     baseURL,
		fs:          fs,
		keySelector: keySelector,
		keyName:     keyName,
		less:        opts.less,
		filter:      opts.filter,
	}, nil
}

// Save persists a record.
func (s *FsStore[K, T]) Save(ctx context.Context, v *T) error {
	if v == nil {
		return dao.ErrNilEntity
	}
	name := s.keyName(s.keySelector(v))
	if name == "" {
		return dao.ErrInvalidID
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	URL := s.recordURL(name)
	if err = s.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save record to %s: %w", URL, err)
	}
	return nil
}

// Load reads a record or returns dao.ErrNotFound.
func (s *FsStore[K, T]) Load(ctx context.Context, key K) (*T, error) {
	name := s.keyName(key)
	if name == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	URL := s.recordURL(name)
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to check record %s: %w", URL, err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", URL, err)
	}
	var ret T
	if err = json.Unmarshal(data, &ret); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", URL, err)
	}
	return &ret, nil
}

// Delete removes a record or returns dao.ErrNotFound.
func (s *FsStore[K, T]) Delete(ctx context.Context, key K) error {
	name := s.keyName(key)
	if name == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	URL := s.recordURL(name)
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil {
		return fmt.Errorf("failed to check record %s: %w", URL, err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err = s.fs.Delete(ctx, URL); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", URL, err)
	}
	return nil
}

// List reads every record under the base URL; unreadable files are skipped.
func (s *FsStore[K, T]) List(ctx context.Context, parameters ...*dao.Parameter) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	objects, err := s.fs.List(ctx, s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list records in %s: %w", s.baseURL, err)
	}
	var out []*T
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			continue
		}
		var record T
		if err = json.Unmarshal(data, &record); err != nil {
			continue
		}
		if s.filter != nil && !s.filter(&record, parameters) {
			continue
		}
		out = append(out, &record)
	}
	if s.less != nil {
		sort.SliceStable(out, func(i, j int) bool { return s.less(out[i], out[j]) })
	}
	return out, nil
}

func (s *FsStore[K, T]) recordURL(name string) string {
	return url.Join(s.baseURL, name+".json")
}

