// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package warehouse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/poiesic/indexit/core"
)

const cacheKeyPrefix = "tablemeta/"

// MetadataCache caches TableMetadata in-process and on local disk, keyed by
// (sourceID, database, schema, table). The in-process map absorbs repeated
// lookups within a run; badger persists across runs. Stale entries are
// detected by the caller comparing the live row count against the cached one
// (see Drifted).
type MetadataCache struct {
	mu     sync.RWMutex
	hot    map[string]*core.TableMetadata
	db     *badger.DB
	logger *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenMetadataCache opens a cache backed by a badger database at path.
// When inMemory is true the path is ignored and nothing persists.
func OpenMetadataCache(path string, inMemory bool) (*MetadataCache, error) {
	logger := slog.Default().With("component", "metadata-cache")

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			if err := os.MkdirAll(path, 0755); err != nil {
				return nil, err
			}
		} else if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", path)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &MetadataCache{
		hot:    make(map[string]*core.TableMetadata),
		db:     db,
		logger: logger,
	}, nil
}

// Close flushes and closes the disk store.
func (c *MetadataCache) Close() error {
	return c.db.Close()
}

// Get returns the cached metadata for a key, consulting the in-process map
// first and the disk store second. The boolean is false on a miss.
func (c *MetadataCache) Get(key string) (*core.TableMetadata, bool) {
	c.mu.RLock()
	meta, ok := c.hot[key]
	c.mu.RUnlock()
	if ok {
		return meta, true
	}

	var stored core.TableMetadata
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cacheKeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if err != nil {
		if err != badger.ErrKeyNotFound {
			c.logger.Warn("cache read failed", "key", key, "err", err)
		}
		return nil, false
	}

	c.mu.Lock()
	c.hot[key] = &stored
	c.mu.Unlock()
	return &stored, true
}

// Put stores metadata in both layers.
func (c *MetadataCache) Put(meta *core.TableMetadata) error {
	key := meta.Key()
	val, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %s: %w", key, err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cacheKeyPrefix+key), val)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.hot[key] = meta
	c.mu.Unlock()
	return nil
}

// Invalidate removes a key from both layers.
func (c *MetadataCache) Invalidate(key string) error {
	c.mu.Lock()
	delete(c.hot, key)
	c.mu.Unlock()

	return c.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(cacheKeyPrefix + key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// Drifted reports whether the live row count has moved enough from the
// cached value to warrant a refresh. Drift below 10% is tolerated; an empty
// cached count always refreshes.
func Drifted(cached, live int64) bool {
	if cached == live {
		return false
	}
	if cached <= 0 {
		return true
	}
	diff := cached - live
	if diff < 0 {
		diff = -diff
	}
	return diff*10 >= cached
}
