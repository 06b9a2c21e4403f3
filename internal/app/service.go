package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"atelier/api/internal/cryptobox"
	"atelier/api/internal/email"
	"atelier/api/internal/objstore"
	"atelier/api/internal/ordering"
	"atelier/api/internal/search"
	"atelier/api/internal/signedurl"
	"atelier/api/internal/store"
)

type dataStore interface {
	GetRecord(ctx context.Context, id string) (store.Record, error)
	ListRecords(ctx context.Context, kind store.Kind, category store.Category) ([]store.Record, error)
	GetSignedURL(ctx context.Context, imageRef string) (store.SignedURL, bool, error)
	Commit(ctx context.Context, batch *store.Batch) error
	Ping(ctx context.Context) error
}

type objectStore interface {
	Put(ctx context.Context, path string, reader io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

type urlIssuer interface {
	Resolve(ctx context.Context, recordID string, images []string, prev map[string]store.SignedURL) (map[string]store.SignedURL, error)
	ResolveAll(ctx context.Context, requests []signedurl.Request, prev map[string]store.SignedURL) (map[string]store.SignedURL, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexModel(rec search.ModelRecord)
	IndexWork(rec search.WorkRecord)
	DeleteModel(id string)
	DeleteWork(id string)
}

type mailer interface {
	IsConfigured() bool
	SendInquiry(inquiry email.Inquiry) error
}

// The display-field registry. Writes outside this set are rejected, so a
// compromised admin client cannot smuggle arbitrary keys into records.
type fieldShape int

const (
	fieldText fieldShape = iota
	fieldList
)

var modelFields = map[string]fieldShape{
	"name":         fieldText,
	"displayName":  fieldText,
	"height":       fieldText,
	"weight":       fieldText,
	"size":         fieldText,
	"instagram":    fieldText,
	"tiktok":       fieldText,
	"youtube":      fieldText,
	"modelingInfo": fieldList,
	"shows":        fieldList,
}

var workFields = map[string]fieldShape{
	"title": fieldText,
}

type Service struct {
	store   dataStore
	objects objectStore
	urls    urlIssuer
	box     *cryptobox.Box
	search  searchIndex
	mail    mailer
	now     func() time.Time
	newID   func() string
}

// New wires the service. search and mail may be nil when the deployment
// does not configure them.
func New(dataStore *store.PostgresStore, objects *objstore.Client, urls *signedurl.Issuer, box *cryptobox.Box, searchSvc *search.Service, mail *email.Service) *Service {
	s := &Service{
		store:   dataStore,
		objects: objects,
		urls:    urls,
		box:     box,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if mail != nil {
		s.mail = mail
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateModel appends a new model record at the tail of its category list.
func (s *Service) CreateModel(ctx context.Context, name string, category store.Category) (store.Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Record{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if !store.ValidCategory(category) {
		return store.Record{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown category", nil)
	}

	existing, err := s.store.ListRecords(ctx, store.KindModel, category)
	if err != nil {
		return store.Record{}, err
	}
	tail, err := ordering.Tail(existing)
	if err != nil {
		return store.Record{}, err
	}

	now := s.now()
	rec := store.Record{
		ID:        s.newID(),
		Kind:      store.KindModel,
		Category:  category,
		Display:   store.DisplayFields{"name": store.Text(name)},
		Images:    []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	batch := store.NewBatch()
	if tail != nil {
		rec.PrevID = &tail.ID
		batch.UpdateLinks(tail.ID, tail.PrevID, &rec.ID, now)
	}
	batch.SetRecord(rec)

	if err := s.store.Commit(ctx, batch); err != nil {
		return store.Record{}, err
	}
	s.indexRecord(rec)
	return rec, nil
}

// UpdateModelField writes a single display field. The field name must come
// from the registry for the record's kind.
func (s *Service) UpdateModelField(ctx context.Context, id, field string, value store.FieldValue) (store.Record, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return store.Record{}, err
	}
	if err := validateField(rec.Kind, field, value); err != nil {
		return store.Record{}, err
	}

	display := rec.Display.Clone()
	if display == nil {
		display = store.DisplayFields{}
	}
	display[field] = value
	rec.Display = display
	rec.UpdatedAt = s.now()

	batch := store.NewBatch()
	batch.UpdateRecord(rec)
	if err := s.store.Commit(ctx, batch); err != nil {
		return store.Record{}, err
	}
	s.indexRecord(rec)
	return rec, nil
}

func validateField(kind store.Kind, field string, value store.FieldValue) error {
	registry := modelFields
	if kind == store.KindWork {
		registry = workFields
	}
	shape, ok := registry[field]
	if !ok {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown field %q", field), nil)
	}
	if (shape == fieldList) != value.IsList {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("wrong value shape for field %q", field), nil)
	}
	return nil
}

// UpdateImages replaces a record's image filename list.
func (s *Service) UpdateImages(ctx context.Context, id string, images []string) (store.Record, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return store.Record{}, err
	}
	if images == nil {
		images = []string{}
	}
	rec.Images = images
	rec.UpdatedAt = s.now()

	batch := store.NewBatch()
	batch.UpdateRecord(rec)
	if err := s.store.Commit(ctx, batch); err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

// UploadFile is one incoming image file.
type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// UploadResult reports which files made it to the object store. Uploaded
// holds only the successful names; callers drop the rest.
type UploadResult struct {
	Uploaded   []string
	SignedURLs map[string]store.SignedURL
}

// UploadImages stores files under the record's folder. Uploads run
// concurrently and one file's failure never blocks the others; the result
// lists the names that succeeded, with fresh signed URLs for them.
func (s *Service) UploadImages(ctx context.Context, recordID string, files []UploadFile) (UploadResult, error) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return UploadResult{}, err
	}

	succeeded := make([]bool, len(files))
	var wg sync.WaitGroup
	for idx := range files {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			file := files[idx]
			if err := s.objects.Put(ctx, rec.ImagePath(file.Name), file.Reader, file.Size, file.ContentType); err != nil {
				log.Printf("app: upload %s: %v", rec.ImagePath(file.Name), err)
				return
			}
			succeeded[idx] = true
		}(idx)
	}
	wg.Wait()

	uploaded := make([]string, 0, len(files))
	for idx, file := range files {
		if succeeded[idx] {
			uploaded = append(uploaded, file.Name)
		}
	}

	result := UploadResult{Uploaded: uploaded, SignedURLs: map[string]store.SignedURL{}}
	if len(uploaded) == 0 {
		return result, nil
	}

	urls, err := s.urls.Resolve(ctx, recordID, uploaded, nil)
	if err != nil {
		return UploadResult{}, err
	}
	result.SignedURLs = urls
	return result, nil
}

// DeleteImages removes files from the object store best effort and drops
// their cached signed URLs in one batch. A file that fails to delete is
// logged and skipped.
func (s *Service) DeleteImages(ctx context.Context, recordID string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}

	batch := store.NewBatch()
	for _, name := range names {
		if err := s.objects.Remove(ctx, rec.ImagePath(name)); err != nil {
			log.Printf("app: delete image %s: %v", rec.ImagePath(name), err)
		}
		batch.DeleteSignedURL(name)
	}
	return s.store.Commit(ctx, batch)
}

// ReorderModels replaces one category's list with the incoming order.
// Records present in the store but absent from the list are deleted along
// with their files; unchanged records are not rewritten.
func (s *Service) ReorderModels(ctx context.Context, category store.Category, incoming []store.Record) ([]store.Record, error) {
	if !store.ValidCategory(category) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown category", nil)
	}
	for i := range incoming {
		incoming[i].Kind = store.KindModel
		incoming[i].Category = category
	}

	ordered, deleted, err := s.reorderPartition(ctx, store.KindModel, category, incoming)
	if err != nil {
		return nil, err
	}

	// Object-store cleanup happens only after the batch committed, so a
	// failed commit never orphans record rows pointing at deleted files.
	for _, rec := range deleted {
		for _, name := range rec.Images {
			if err := s.objects.Remove(ctx, rec.ImagePath(name)); err != nil {
				log.Printf("app: delete image %s: %v", rec.ImagePath(name), err)
			}
		}
		if s.search != nil {
			s.search.DeleteModel(rec.ID)
		}
	}
	for _, rec := range ordered {
		s.indexRecord(rec)
	}
	return ordered, nil
}

// ReorderWorks replaces the global works list with the incoming order.
func (s *Service) ReorderWorks(ctx context.Context, incoming []store.Record) ([]store.Record, error) {
	for i := range incoming {
		incoming[i].Kind = store.KindWork
		incoming[i].Category = ""
	}

	ordered, deleted, err := s.reorderPartition(ctx, store.KindWork, "", incoming)
	if err != nil {
		return nil, err
	}
	for _, rec := range deleted {
		if s.search != nil {
			s.search.DeleteWork(rec.ID)
		}
	}
	for _, rec := range ordered {
		s.indexRecord(rec)
	}
	return ordered, nil
}

// reorderPartition diffs the incoming list against the stored partition
// and commits deletions, link rewrites, and content updates as one batch.
// Incoming ids unknown to the store are ignored.
func (s *Service) reorderPartition(ctx context.Context, kind store.Kind, category store.Category, incoming []store.Record) (ordered, deleted []store.Record, err error) {
	existing, err := s.store.ListRecords(ctx, kind, category)
	if err != nil {
		return nil, nil, err
	}
	existingByID := make(map[string]store.Record, len(existing))
	for _, rec := range existing {
		existingByID[rec.ID] = rec
	}

	incomingIDs := make(map[string]bool, len(incoming))
	kept := make([]store.Record, 0, len(incoming))
	for _, rec := range incoming {
		if _, ok := existingByID[rec.ID]; !ok {
			continue
		}
		if incomingIDs[rec.ID] {
			continue
		}
		incomingIDs[rec.ID] = true
		kept = append(kept, rec)
	}

	now := s.now()
	batch := store.NewBatch()

	for _, rec := range existing {
		if !incomingIDs[rec.ID] {
			batch.DeleteRecord(rec.ID)
			for _, name := range rec.Images {
				batch.DeleteSignedURL(name)
			}
			deleted = append(deleted, rec)
		}
	}

	ordered = ordering.Relink(kept)
	for i := range ordered {
		rec := &ordered[i]
		prior := existingByID[rec.ID]
		rec.CreatedAt = prior.CreatedAt

		sameContent := rec.ContentEquals(prior)
		sameLinks := ptrEqual(rec.PrevID, prior.PrevID) && ptrEqual(rec.NextID, prior.NextID)
		switch {
		case sameContent && sameLinks:
			rec.UpdatedAt = prior.UpdatedAt
		case sameContent:
			rec.UpdatedAt = now
			batch.UpdateLinks(rec.ID, rec.PrevID, rec.NextID, now)
		default:
			rec.UpdatedAt = now
			batch.UpdateRecord(*rec)
		}
	}

	if batch.Empty() {
		return ordered, nil, nil
	}
	if err := s.store.Commit(ctx, batch); err != nil {
		return nil, nil, err
	}
	return ordered, deleted, nil
}

// DeleteModel removes a record, splices its neighbors together, and drops
// its files and cached URLs. Deleting an id that does not exist succeeds.
func (s *Service) DeleteModel(ctx context.Context, id string) error {
	rec, err := s.store.GetRecord(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	partition, err := s.store.ListRecords(ctx, rec.Kind, rec.Category)
	if err != nil {
		return err
	}

	now := s.now()
	batch := store.NewBatch()
	changes, _ := ordering.SpliceOut(partition, id)
	for _, change := range changes {
		batch.UpdateLinks(change.ID, change.PrevID, change.NextID, now)
	}
	batch.DeleteRecord(id)
	for _, name := range rec.Images {
		batch.DeleteSignedURL(name)
	}

	if err := s.store.Commit(ctx, batch); err != nil {
		return err
	}

	for _, name := range rec.Images {
		if err := s.objects.Remove(ctx, rec.ImagePath(name)); err != nil {
			log.Printf("app: delete image %s: %v", rec.ImagePath(name), err)
		}
	}
	if s.search != nil {
		if rec.Kind == store.KindWork {
			s.search.DeleteWork(id)
		} else {
			s.search.DeleteModel(id)
		}
	}
	return nil
}

// CreateWork appends a work at the tail of the global list. The record id
// is the YouTube video id parsed from rawURL, so re-adding the same video
// is a conflict rather than a duplicate.
func (s *Service) CreateWork(ctx context.Context, title, rawURL string) (store.Record, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Record{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	videoID := youtubeVideoID(rawURL)
	if videoID == "" {
		return store.Record{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url is not a recognizable YouTube link", nil)
	}

	if _, err := s.store.GetRecord(ctx, videoID); err == nil {
		return store.Record{}, domainError(http.StatusConflict, "WORK_EXISTS", "work already exists for this video", nil)
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Record{}, err
	}

	existing, err := s.store.ListRecords(ctx, store.KindWork, "")
	if err != nil {
		return store.Record{}, err
	}
	tail, err := ordering.Tail(existing)
	if err != nil {
		return store.Record{}, err
	}

	now := s.now()
	rec := store.Record{
		ID:        videoID,
		Kind:      store.KindWork,
		Display:   store.DisplayFields{"title": store.Text(title)},
		Images:    []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	batch := store.NewBatch()
	if tail != nil {
		rec.PrevID = &tail.ID
		batch.UpdateLinks(tail.ID, tail.PrevID, &rec.ID, now)
	}
	batch.SetRecord(rec)

	if err := s.store.Commit(ctx, batch); err != nil {
		return store.Record{}, err
	}
	s.indexRecord(rec)
	return rec, nil
}

// Works returns the works in linked order.
func (s *Service) Works(ctx context.Context) ([]store.Record, error) {
	records, err := s.store.ListRecords(ctx, store.KindWork, "")
	if err != nil {
		return nil, err
	}
	return ordering.Sequence(records)
}

// ModelPageResult carries one category page: records in linked order plus
// the sealed signed-URL map.
type ModelPageResult struct {
	Models     []store.Record `json:"models"`
	SignedURLs string         `json:"signedUrls"`
}

// ModelPage loads a category's models in order and resolves signed URLs
// for every image, reusing the caller's sealed previous cache where its
// entries are still valid. An unreadable previous cache is treated as
// empty, never as an error.
func (s *Service) ModelPage(ctx context.Context, category store.Category, prevSealed string) (ModelPageResult, error) {
	if !store.ValidCategory(category) {
		return ModelPageResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown category", nil)
	}

	records, err := s.store.ListRecords(ctx, store.KindModel, category)
	if err != nil {
		return ModelPageResult{}, err
	}
	ordered, err := ordering.Sequence(records)
	if err != nil {
		return ModelPageResult{}, err
	}

	requests := make([]signedurl.Request, 0, len(ordered))
	for _, rec := range ordered {
		requests = append(requests, signedurl.Request{RecordID: rec.ID, Images: rec.Images})
	}

	urls, err := s.urls.ResolveAll(ctx, requests, s.openPrevCache(prevSealed))
	if err != nil {
		return ModelPageResult{}, err
	}

	sealed, err := s.box.Seal(urls)
	if err != nil {
		return ModelPageResult{}, err
	}
	return ModelPageResult{Models: ordered, SignedURLs: sealed}, nil
}

// ModelDetailResult is one record plus its sealed signed URLs.
type ModelDetailResult struct {
	Model      store.Record `json:"model"`
	SignedURLs string       `json:"signedUrls"`
}

// ModelDetail loads one record and signed URLs for the images that
// actually exist in the object store.
func (s *Service) ModelDetail(ctx context.Context, id, prevSealed string) (ModelDetailResult, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return ModelDetailResult{}, err
	}

	// The record's image list can briefly disagree with storage while an
	// admin edit is in flight. Serve the intersection.
	images := rec.Images
	if stored, err := s.objects.List(ctx, rec.ID+"/"); err != nil {
		log.Printf("app: list objects for %s: %v", rec.ID, err)
	} else {
		present := make(map[string]bool, len(stored))
		for _, path := range stored {
			present[strings.TrimPrefix(path, rec.ID+"/")] = true
		}
		filtered := make([]string, 0, len(images))
		for _, name := range images {
			if present[name] {
				filtered = append(filtered, name)
			}
		}
		images = filtered
	}

	urls, err := s.urls.Resolve(ctx, rec.ID, images, s.openPrevCache(prevSealed))
	if err != nil {
		return ModelDetailResult{}, err
	}
	sealed, err := s.box.Seal(urls)
	if err != nil {
		return ModelDetailResult{}, err
	}
	return ModelDetailResult{Model: rec, SignedURLs: sealed}, nil
}

func (s *Service) openPrevCache(sealed string) map[string]store.SignedURL {
	if sealed == "" {
		return nil
	}
	prev := map[string]store.SignedURL{}
	if err := s.box.Open(sealed, &prev); err != nil {
		log.Printf("app: previous url cache unreadable, ignoring it")
		return nil
	}
	return prev
}

// SendInquiry validates and forwards a casting-inquiry submission.
func (s *Service) SendInquiry(ctx context.Context, inquiry email.Inquiry) error {
	if strings.TrimSpace(inquiry.Name) == "" || strings.TrimSpace(inquiry.Email) == "" || strings.TrimSpace(inquiry.Message) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name, email and message are required", nil)
	}
	if s.mail == nil || !s.mail.IsConfigured() {
		return domainError(http.StatusServiceUnavailable, "EMAIL_UNAVAILABLE", "inquiry email is not configured", nil)
	}
	if err := s.mail.SendInquiry(inquiry); err != nil {
		log.Printf("app: send inquiry: %v", err)
		return domainError(http.StatusBadGateway, "EMAIL_FAILED", "could not send the inquiry", nil)
	}
	return nil
}

// Search runs a full-text query over models and works.
func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) indexRecord(rec store.Record) {
	if s.search == nil {
		return
	}
	if rec.Kind == store.KindWork {
		s.search.IndexWork(search.WorkRecord{
			ID:    rec.ID,
			Title: rec.Display["title"].Text,
		})
		return
	}
	s.search.IndexModel(search.ModelRecord{
		ID:          rec.ID,
		Name:        rec.Display["name"].Text,
		DisplayName: rec.Display["displayName"].Text,
		Category:    string(rec.Category),
		Instagram:   rec.Display["instagram"].Text,
	})
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// youtubeVideoID extracts the 11-character video id from the usual YouTube
// URL shapes: watch?v=, youtu.be/, shorts/, embed/. Returns "" when no id
// can be found.
func youtubeVideoID(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return ""
	}

	host := strings.TrimPrefix(parsed.Host, "www.")
	candidate := ""
	switch host {
	case "youtu.be":
		candidate = strings.Trim(parsed.Path, "/")
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if v := parsed.Query().Get("v"); v != "" {
			candidate = v
			break
		}
		parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		if len(parts) == 2 && (parts[0] == "shorts" || parts[0] == "embed" || parts[0] == "live") {
			candidate = parts[1]
		}
	}

	if len(candidate) != 11 {
		return ""
	}
	for _, r := range candidate {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return ""
		}
	}
	return candidate
}
