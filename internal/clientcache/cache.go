// Package clientcache persists an encrypted local cache of model records
// and signed image URLs. Both sections are sealed with a day-rotating key,
// so entries written yesterday become unreadable today and the cache
// degrades to empty rather than serving stale ciphertext.
package clientcache

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"atelier/api/internal/cryptobox"
	"atelier/api/internal/store"
)

const (
	keyModels     = "cache:models"
	keySignedURLs = "cache:signedUrls"
)

// Cache is an encrypted BadgerDB-backed cache.
type Cache struct {
	db  *badger.DB
	box *cryptobox.Box
	log logrus.FieldLogger
}

// New opens the cache at dbPath. An empty path opens an in-memory
// database, which is what the tests use.
func New(dbPath string, box *cryptobox.Box, logger logrus.FieldLogger) (*Cache, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to open cache database")
		return nil, fmt.Errorf("open cache db at %s: %w", dbPath, err)
	}

	return &Cache{
		db:  db,
		box: box,
		log: logger.WithField("component", "clientcache"),
	}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// loadSection reads and decrypts one cache section inside txn. A missing
// key and a failed decrypt both come back as an empty map: a section
// sealed under a rotated key is treated as if it were never written.
func loadSection[V any](c *Cache, txn *badger.Txn, key string) map[string]V {
	out := map[string]V{}

	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return out
	}
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Failed to read cache section")
		return out
	}

	var sealed string
	if err := item.Value(func(val []byte) error {
		sealed = string(val)
		return nil
	}); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Failed to read cache section value")
		return out
	}

	if err := c.box.Open(sealed, &out); err != nil {
		c.log.WithField("key", key).Info("Cache section unreadable, dropping it")
		return map[string]V{}
	}
	return out
}

func storeSection[V any](c *Cache, txn *badger.Txn, key string, section map[string]V) error {
	sealed, err := c.box.Seal(section)
	if err != nil {
		return fmt.Errorf("seal cache section %s: %w", key, err)
	}
	return txn.Set([]byte(key), []byte(sealed))
}

// MergeRecords folds records into the cache. An incoming record replaces
// the cached one only when it is strictly newer; equal or older updates
// leave the cached copy in place.
func (c *Cache) MergeRecords(records []store.Record) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		cached := loadSection[store.Record](c, txn, keyModels)
		for _, rec := range records {
			existing, ok := cached[rec.ID]
			if ok && !rec.UpdatedAt.After(existing.UpdatedAt) {
				continue
			}
			cached[rec.ID] = rec
		}
		return storeSection(c, txn, keyModels, cached)
	})
	if err != nil {
		c.log.WithError(err).Error("Failed to merge records into cache")
		return err
	}
	return nil
}

// Record returns a single cached record.
func (c *Cache) Record(id string) (store.Record, bool) {
	var (
		rec store.Record
		ok  bool
	)
	err := c.db.View(func(txn *badger.Txn) error {
		cached := loadSection[store.Record](c, txn, keyModels)
		rec, ok = cached[id]
		return nil
	})
	if err != nil {
		c.log.WithError(err).Warn("Failed to read record from cache")
		return store.Record{}, false
	}
	return rec, ok
}

// Records returns all cached records.
func (c *Cache) Records() []store.Record {
	var out []store.Record
	err := c.db.View(func(txn *badger.Txn) error {
		cached := loadSection[store.Record](c, txn, keyModels)
		out = make([]store.Record, 0, len(cached))
		for _, rec := range cached {
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		c.log.WithError(err).Warn("Failed to read records from cache")
		return nil
	}
	return out
}

// MergeSignedURLs folds signed URLs into the cache, keeping whichever
// entry expires later.
func (c *Cache) MergeSignedURLs(entries map[string]store.SignedURL) error {
	if len(entries) == 0 {
		return nil
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		cached := loadSection[store.SignedURL](c, txn, keySignedURLs)
		for ref, entry := range entries {
			existing, ok := cached[ref]
			if ok && existing.Expires >= entry.Expires {
				continue
			}
			cached[ref] = entry
		}
		return storeSection(c, txn, keySignedURLs, cached)
	})
	if err != nil {
		c.log.WithError(err).Error("Failed to merge signed URLs into cache")
		return err
	}
	return nil
}

// SignedURL returns the cached signed URL for an image ref, or false if
// absent or expired.
func (c *Cache) SignedURL(imageRef string) (store.SignedURL, bool) {
	var (
		entry store.SignedURL
		ok    bool
	)
	err := c.db.View(func(txn *badger.Txn) error {
		cached := loadSection[store.SignedURL](c, txn, keySignedURLs)
		entry, ok = cached[imageRef]
		return nil
	})
	if err != nil {
		c.log.WithError(err).Warn("Failed to read signed URL from cache")
		return store.SignedURL{}, false
	}
	if !ok || !entry.Valid(c.box.Now()) {
		return store.SignedURL{}, false
	}
	return entry, true
}

// SignedURLsFor returns the still-valid cached signed URLs for one
// record's images.
func (c *Cache) SignedURLsFor(recordID string) map[string]store.SignedURL {
	out := map[string]store.SignedURL{}
	err := c.db.View(func(txn *badger.Txn) error {
		records := loadSection[store.Record](c, txn, keyModels)
		rec, ok := records[recordID]
		if !ok {
			return nil
		}
		urls := loadSection[store.SignedURL](c, txn, keySignedURLs)
		now := c.box.Now()
		for _, name := range rec.Images {
			if entry, ok := urls[name]; ok && entry.Valid(now) {
				out[name] = entry
			}
		}
		return nil
	})
	if err != nil {
		c.log.WithError(err).Warn("Failed to read signed URLs from cache")
		return map[string]store.SignedURL{}
	}
	return out
}

// PruneExpired drops signed URLs that have expired.
func (c *Cache) PruneExpired() error {
	return c.db.Update(func(txn *badger.Txn) error {
		cached := loadSection[store.SignedURL](c, txn, keySignedURLs)
		now := c.box.Now()
		for ref, entry := range cached {
			if !entry.Valid(now) {
				delete(cached, ref)
			}
		}
		return storeSection(c, txn, keySignedURLs, cached)
	})
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Infof(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
