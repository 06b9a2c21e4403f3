// Package signedurl resolves time-limited image URLs through a three-tier
// cache: the caller's previous cache, the metadata store's signed-URL
// collection, and finally the object store's presign call. Fresh URLs are
// written back to the store cache in one atomic batch.
package signedurl

import (
	"context"
	"log"
	"sync"
	"time"

	"atelier/api/internal/store"
)

// MetadataStore is the slice of the records store the issuer needs: the
// cached signed-URL lookups and the atomic batch commit.
type MetadataStore interface {
	GetSignedURL(ctx context.Context, imageRef string) (store.SignedURL, bool, error)
	Commit(ctx context.Context, batch *store.Batch) error
}

// ObjectStore generates presigned read URLs.
type ObjectStore interface {
	PresignGet(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// Request asks for URLs covering a subset of one record's images.
type Request struct {
	RecordID string
	Images   []string
}

type Issuer struct {
	store   MetadataStore
	objects ObjectStore
	ttl     time.Duration
	now     func() time.Time
}

func New(metadata MetadataStore, objects ObjectStore, ttl time.Duration) *Issuer {
	return &Issuer{store: metadata, objects: objects, ttl: ttl, now: time.Now}
}

// NewAt pins the clock for tests.
func NewAt(metadata MetadataStore, objects ObjectStore, ttl time.Duration, now func() time.Time) *Issuer {
	return &Issuer{store: metadata, objects: objects, ttl: ttl, now: now}
}

// Resolve returns signed URLs for one record's images. See ResolveAll.
func (i *Issuer) Resolve(ctx context.Context, recordID string, images []string, prev map[string]store.SignedURL) (map[string]store.SignedURL, error) {
	return i.ResolveAll(ctx, []Request{{RecordID: recordID, Images: images}}, prev)
}

// ResolveAll resolves signed URLs for any number of records in one pass.
// Per image: a still-valid entry in prev short-circuits everything; a
// still-valid store-cache entry short-circuits the presign; otherwise a
// fresh URL is generated with the configured validity window. Presigns for
// distinct images run concurrently and a failure for one image skips only
// that image. All store writes commit as one batch after every presign
// has settled; if the commit fails the caller receives the error and
// nothing is persisted.
//
// Requests with no images make no store calls at all. Entries in prev for
// images not requested are ignored.
func (i *Issuer) ResolveAll(ctx context.Context, requests []Request, prev map[string]store.SignedURL) (map[string]store.SignedURL, error) {
	now := i.now()
	resolved := make(map[string]store.SignedURL)

	type pendingImage struct {
		name string
		path string
	}
	var pending []pendingImage
	seen := make(map[string]bool)

	for _, request := range requests {
		for _, name := range request.Images {
			if seen[name] {
				continue
			}
			seen[name] = true

			if entry, ok := prev[name]; ok && entry.Valid(now) {
				resolved[name] = entry
				continue
			}

			entry, ok, err := i.store.GetSignedURL(ctx, name)
			if err != nil {
				return nil, err
			}
			if ok && entry.Valid(now) {
				resolved[name] = entry
				continue
			}

			pending = append(pending, pendingImage{name: name, path: request.RecordID + "/" + name})
		}
	}

	if len(pending) == 0 {
		return resolved, nil
	}

	expires := now.Add(i.ttl).UnixMilli()
	fresh := make([]store.SignedURL, len(pending))
	failed := make([]bool, len(pending))

	var wg sync.WaitGroup
	for idx, image := range pending {
		wg.Add(1)
		go func(idx int, image pendingImage) {
			defer wg.Done()
			url, err := i.objects.PresignGet(ctx, image.path, i.ttl)
			if err != nil {
				log.Printf("signedurl: presign %s: %v", image.path, err)
				failed[idx] = true
				return
			}
			fresh[idx] = store.SignedURL{URL: url, Expires: expires}
		}(idx, image)
	}
	wg.Wait()

	batch := store.NewBatch()
	for idx, image := range pending {
		if failed[idx] {
			continue
		}
		resolved[image.name] = fresh[idx]
		batch.SetSignedURL(image.name, fresh[idx])
	}

	if !batch.Empty() {
		if err := i.store.Commit(ctx, batch); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}
