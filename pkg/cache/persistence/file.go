// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package persistence persists the token cache to disk. The persister plugs
// into the cache manager's notification hooks: it loads the file before each
// access and writes it back after accesses that changed state, guarding the
// file with an advisory lock so multiple processes can share one cache.
package persistence

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/stacklok/authkit/pkg/cache"
	"github.com/stacklok/authkit/pkg/logger"
)

// lockRetryDelay paces attempts to take the advisory file lock.
const lockRetryDelay = 50 * time.Millisecond

// FilePersister implements cache.Notifier over a JSON cache file.
type FilePersister struct {
	path     string
	lockPath string
}

// NewFilePersister creates a persister for the given cache file path. The
// advisory lock lives next to the cache file.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{
		path:     path,
		lockPath: path + ".lock",
	}
}

// withLock runs fn while holding the advisory lock. Shared locks would
// suffice for reads, but the lock is held briefly either way and exclusive
// keeps the read-modify-write cycle simple.
func (p *FilePersister) withLock(ctx context.Context, fn func() error) error {
	fileLock := flock.New(p.lockPath)
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock cache file: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to lock cache file %s", p.lockPath)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			logger.Warnf("Failed to unlock cache file %s: %v", p.lockPath, err)
		}
	}()
	return fn()
}

// OnBeforeAccess loads the cache file into the accessor. A missing file is
// an empty cache, not an error.
func (p *FilePersister) OnBeforeAccess(ctx context.Context, ac *cache.AccessContext) error {
	return p.withLock(ctx, func() error {
		data, err := os.ReadFile(p.path)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read cache file: %w", err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := ac.Accessor.Deserialize(data); err != nil {
			return fmt.Errorf("failed to load cache file %s: %w", p.path, err)
		}
		return nil
	})
}

// OnAfterAccess writes the cache file when the access changed state. The
// write goes through a temp file and rename so a crash never leaves a
// half-written cache.
func (p *FilePersister) OnAfterAccess(ctx context.Context, ac *cache.AccessContext) error {
	if !ac.Changed {
		return nil
	}
	data, err := ac.Accessor.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize cache: %w", err)
	}
	return p.withLock(ctx, func() error {
		dir := filepath.Dir(p.path)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
		tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp-*")
		if err != nil {
			return fmt.Errorf("failed to create temp cache file: %w", err)
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return fmt.Errorf("failed to write cache file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("failed to close cache file: %w", err)
		}
		if err := os.Chmod(tmpName, 0o600); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("failed to set cache file permissions: %w", err)
		}
		if err := os.Rename(tmpName, p.path); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("failed to replace cache file: %w", err)
		}
		return nil
	})
}
