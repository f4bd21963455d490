package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"
)

const (
	ext        = ".json"
	lockSuffix = ".lock"
)

// Repo stores one JSON state file per record, named <prefix><key>.json.
// The layout is the one external tooling already writes.
type Repo struct {
	dir    string
	prefix string

	lockPoll  time.Duration
	lockWait  time.Duration
	staleLock time.Duration
}

func New(dir, prefix string) (*Repo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Repo{
		dir:       dir,
		prefix:    prefix,
		lockPoll:  50 * time.Millisecond,
		lockWait:  10 * time.Second,
		staleLock: 2 * time.Minute,
	}, nil
}

func (r *Repo) path(key string) string {
	return filepath.Join(r.dir, r.prefix+key+ext)
}

func (r *Repo) Keys(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, r.prefix+"*"+ext))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		name := filepath.Base(m)
		key := strings.TrimSuffix(strings.TrimPrefix(name, r.prefix), ext)
		if key == "" || strings.HasPrefix(name, ".") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Repo) Load(ctx context.Context, key string) (*model.Record, error) {
	b, err := os.ReadFile(r.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, model.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ParseRecord(b)
}

// Save writes through a temp file and rename so readers never see a torn file.
func (r *Repo) Save(ctx context.Context, key string, rec *model.Record) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(r.dir, "."+r.prefix+key+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, r.path(key))
}

// Lock creates <file>.lock exclusively. Locks older than staleLock are
// assumed abandoned by a crashed run and taken over.
func (r *Repo) Lock(ctx context.Context, key string) (func(), error) {
	lp := r.path(key) + lockSuffix
	deadline := time.Now().Add(r.lockWait)

	for {
		f, err := os.OpenFile(lp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(lp) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		if st, serr := os.Stat(lp); serr == nil && time.Since(st.ModTime()) > r.staleLock {
			_ = os.Remove(lp)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", model.ErrLockHeld, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.lockPoll):
		}
	}
}

func (r *Repo) Close() error { return nil }

var _ port.RecordStore = (*Repo)(nil)
