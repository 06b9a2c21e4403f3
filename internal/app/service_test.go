package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"atelier/api/internal/cryptobox"
	"atelier/api/internal/ordering"
	"atelier/api/internal/signedurl"
	"atelier/api/internal/store"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory dataStore that applies batches the same way
// the Postgres store does.
type memStore struct {
	mu         sync.Mutex
	records    map[string]store.Record
	signedURLs map[string]store.SignedURL
	commits    int
	failCommit bool
}

func newMemStore() *memStore {
	return &memStore{
		records:    map[string]store.Record{},
		signedURLs: map[string]store.SignedURL{},
	}
}

func (m *memStore) GetRecord(_ context.Context, id string) (store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) ListRecords(_ context.Context, kind store.Kind, category store.Category) ([]store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Record
	for _, rec := range m.records {
		if rec.Kind != kind {
			continue
		}
		if category != "" && rec.Category != category {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetSignedURL(_ context.Context, imageRef string) (store.SignedURL, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.signedURLs[imageRef]
	return entry, ok, nil
}

func (m *memStore) Commit(_ context.Context, batch *store.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit {
		return fmt.Errorf("commit failed")
	}
	m.commits++
	for _, rec := range batch.RecordWrites() {
		m.records[rec.ID] = rec
	}
	for _, link := range batch.LinkUpdates() {
		rec, ok := m.records[link.ID]
		if !ok {
			continue
		}
		rec.PrevID = link.PrevID
		rec.NextID = link.NextID
		rec.UpdatedAt = link.UpdatedAt
		m.records[link.ID] = rec
	}
	for _, id := range batch.DeletedRecords() {
		delete(m.records, id)
	}
	for ref, entry := range batch.SignedURLSets() {
		m.signedURLs[ref] = entry
	}
	for _, ref := range batch.DeletedSignedURLs() {
		delete(m.signedURLs, ref)
	}
	return nil
}

func (m *memStore) Ping(context.Context) error { return nil }

// fakeObjects is an in-memory object store that also serves presigns.
type fakeObjects struct {
	mu       sync.Mutex
	stored   map[string][]byte
	failPut  map[string]bool
	presigns int
	removes  []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{stored: map[string][]byte{}, failPut: map[string]bool{}}
}

func (f *fakeObjects) Put(_ context.Context, path string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut[path] {
		return fmt.Errorf("put %s failed", path)
	}
	f.stored[path] = data
	return nil
}

func (f *fakeObjects) Remove(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stored, path)
	f.removes = append(f.removes, path)
	return nil
}

func (f *fakeObjects) List(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for path := range f.stored {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeObjects) PresignGet(_ context.Context, path string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presigns++
	return "https://signed.example/" + path, nil
}

func newTestService(fs *memStore, fo *fakeObjects) *Service {
	idSeq := 0
	return &Service{
		store:   fs,
		objects: fo,
		urls:    signedurl.NewAt(fs, fo, time.Hour, func() time.Time { return testNow }),
		box:     cryptobox.NewAt("test-secret", func() time.Time { return testNow }),
		now:     func() time.Time { return testNow },
		newID: func() string {
			idSeq++
			return fmt.Sprintf("id-%d", idSeq)
		},
	}
}

// seedModel inserts a linked model record directly into the store.
func seedModel(fs *memStore, id string, category store.Category, prev, next *string, images ...string) store.Record {
	if images == nil {
		images = []string{}
	}
	rec := store.Record{
		ID:        id,
		Kind:      store.KindModel,
		Category:  category,
		Display:   store.DisplayFields{"name": store.Text("Model " + id)},
		Images:    images,
		PrevID:    prev,
		NextID:    next,
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	}
	fs.records[id] = rec
	return rec
}

func strPtr(s string) *string { return &s }

func TestCreateModelAppendsAtTail(t *testing.T) {
	fs := newMemStore()
	svc := newTestService(fs, newFakeObjects())

	first, err := svc.CreateModel(context.Background(), "Ana", store.CategoryWomen)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if first.PrevID != nil || first.NextID != nil {
		t.Fatalf("first model should be alone in the list")
	}

	second, err := svc.CreateModel(context.Background(), "Bea", store.CategoryWomen)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.PrevID == nil || *second.PrevID != first.ID {
		t.Fatalf("second model must link back to first, got %v", second.PrevID)
	}

	stored := fs.records[first.ID]
	if stored.NextID == nil || *stored.NextID != second.ID {
		t.Fatalf("first model must link forward to second, got %v", stored.NextID)
	}
}

func TestCreateModelRejectsBadInput(t *testing.T) {
	svc := newTestService(newMemStore(), newFakeObjects())

	if _, err := svc.CreateModel(context.Background(), "  ", store.CategoryWomen); err == nil {
		t.Fatal("expected error for blank name")
	}
	if _, err := svc.CreateModel(context.Background(), "Ana", "pets"); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestUpdateModelFieldClosedSet(t *testing.T) {
	fs := newMemStore()
	seedModel(fs, "a", store.CategoryWomen, nil, nil)
	svc := newTestService(fs, newFakeObjects())

	rec, err := svc.UpdateModelField(context.Background(), "a", "height", store.Text("178"))
	if err != nil {
		t.Fatalf("update height: %v", err)
	}
	if rec.Display["height"].Text != "178" {
		t.Fatalf("height not written: %+v", rec.Display)
	}

	if _, err := svc.UpdateModelField(context.Background(), "a", "isAdmin", store.Text("true")); err == nil {
		t.Fatal("expected rejection of unknown field")
	}
	if _, err := svc.UpdateModelField(context.Background(), "a", "shows", store.Text("not a list")); err == nil {
		t.Fatal("expected rejection of wrong value shape")
	}
	if _, err := svc.UpdateModelField(context.Background(), "missing", "height", store.Text("1")); err == nil {
		t.Fatal("expected not found")
	}
}

func TestReorderModelsDeletesAbsentAndRelinks(t *testing.T) {
	fs := newMemStore()
	a := seedModel(fs, "a", store.CategoryWomen, nil, strPtr("b"))
	b := seedModel(fs, "b", store.CategoryWomen, strPtr("a"), strPtr("c"), "b-1.jpg")
	c := seedModel(fs, "c", store.CategoryWomen, strPtr("b"), nil)
	fs.signedURLs["b-1.jpg"] = store.SignedURL{URL: "https://cdn/b1", Expires: testNow.Add(time.Hour).UnixMilli()}
	fo := newFakeObjects()
	fo.stored[b.ImagePath("b-1.jpg")] = []byte("img")
	svc := newTestService(fs, fo)

	ordered, err := svc.ReorderModels(context.Background(), store.CategoryWomen, []store.Record{c, a})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}

	if len(ordered) != 2 || ordered[0].ID != "c" || ordered[1].ID != "a" {
		t.Fatalf("unexpected order: %+v", ordered)
	}
	if ordered[0].PrevID != nil || *ordered[0].NextID != "a" {
		t.Fatalf("head links wrong: %+v", ordered[0])
	}
	if *ordered[1].PrevID != "c" || ordered[1].NextID != nil {
		t.Fatalf("tail links wrong: %+v", ordered[1])
	}

	if _, ok := fs.records["b"]; ok {
		t.Fatal("record b should be deleted")
	}
	if _, ok := fs.signedURLs["b-1.jpg"]; ok {
		t.Fatal("signed url for b's image should be deleted")
	}
	if _, ok := fo.stored["b/b-1.jpg"]; ok {
		t.Fatal("b's image file should be removed after commit")
	}
}

func TestReorderModelsSkipsUnchanged(t *testing.T) {
	fs := newMemStore()
	a := seedModel(fs, "a", store.CategoryWomen, nil, strPtr("b"))
	b := seedModel(fs, "b", store.CategoryWomen, strPtr("a"), nil)
	svc := newTestService(fs, newFakeObjects())

	ordered, err := svc.ReorderModels(context.Background(), store.CategoryWomen, []store.Record{a, b})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if fs.commits != 0 {
		t.Fatalf("identical list must not commit anything, got %d commits", fs.commits)
	}
	if ordered[0].UpdatedAt != a.UpdatedAt {
		t.Fatal("unchanged record must keep its updatedAt")
	}
}

func TestReorderModelsIgnoresUnknownIDs(t *testing.T) {
	fs := newMemStore()
	a := seedModel(fs, "a", store.CategoryWomen, nil, nil)
	svc := newTestService(fs, newFakeObjects())

	ghost := store.Record{ID: "ghost", Kind: store.KindModel, Category: store.CategoryWomen}
	ordered, err := svc.ReorderModels(context.Background(), store.CategoryWomen, []store.Record{ghost, a})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if len(ordered) != 1 || ordered[0].ID != "a" {
		t.Fatalf("unknown id should be dropped, got %+v", ordered)
	}
}

func TestDeleteModelSplicesNeighbors(t *testing.T) {
	fs := newMemStore()
	seedModel(fs, "a", store.CategoryWomen, nil, strPtr("b"))
	seedModel(fs, "b", store.CategoryWomen, strPtr("a"), strPtr("c"), "b-1.jpg")
	seedModel(fs, "c", store.CategoryWomen, strPtr("b"), nil)
	fs.signedURLs["b-1.jpg"] = store.SignedURL{URL: "https://cdn/b1", Expires: testNow.Add(time.Hour).UnixMilli()}
	fo := newFakeObjects()
	fo.stored["b/b-1.jpg"] = []byte("img")
	svc := newTestService(fs, fo)

	if err := svc.DeleteModel(context.Background(), "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, ok := fs.records["b"]; ok {
		t.Fatal("record b should be gone")
	}
	if next := fs.records["a"].NextID; next == nil || *next != "c" {
		t.Fatalf("a should point at c, got %v", next)
	}
	if prev := fs.records["c"].PrevID; prev == nil || *prev != "a" {
		t.Fatalf("c should point back at a, got %v", prev)
	}
	if _, ok := fo.stored["b/b-1.jpg"]; ok {
		t.Fatal("b's file should be removed")
	}
	if _, ok := fs.signedURLs["b-1.jpg"]; ok {
		t.Fatal("b's signed url should be dropped")
	}

	// Deleting again is a no-op, not an error.
	if err := svc.DeleteModel(context.Background(), "b"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestCreateWorkKeyedByVideoID(t *testing.T) {
	fs := newMemStore()
	svc := newTestService(fs, newFakeObjects())

	rec, err := svc.CreateWork(context.Background(), "Spring Film", "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("create work: %v", err)
	}
	if rec.ID != "dQw4w9WgXcQ" {
		t.Fatalf("work id should be the video id, got %q", rec.ID)
	}

	if _, err := svc.CreateWork(context.Background(), "Duplicate", "https://youtu.be/dQw4w9WgXcQ"); err == nil {
		t.Fatal("expected conflict for duplicate video")
	}
	if _, err := svc.CreateWork(context.Background(), "Bad", "https://example.com/watch?v=nope"); err == nil {
		t.Fatal("expected rejection of non-YouTube url")
	}
}

func TestWorksReturnsLinkedOrder(t *testing.T) {
	fs := newMemStore()
	svc := newTestService(fs, newFakeObjects())

	for i, title := range []string{"First", "Second", "Third"} {
		url := fmt.Sprintf("https://youtu.be/vid%08d", i)
		if _, err := svc.CreateWork(context.Background(), title, url); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}

	works, err := svc.Works(context.Background())
	if err != nil {
		t.Fatalf("works: %v", err)
	}
	if len(works) != 3 {
		t.Fatalf("expected 3 works, got %d", len(works))
	}
	if works[0].PrevID != nil || works[2].NextID != nil {
		t.Fatalf("works list endpoints are wrong: %+v", works)
	}
}

func TestModelPageResolvesAndSealsURLs(t *testing.T) {
	fs := newMemStore()
	seedModel(fs, "a", store.CategoryWomen, nil, strPtr("b"), "a-1.jpg")
	seedModel(fs, "b", store.CategoryWomen, strPtr("a"), nil, "b-1.jpg")
	fo := newFakeObjects()
	svc := newTestService(fs, fo)

	page, err := svc.ModelPage(context.Background(), store.CategoryWomen, "")
	if err != nil {
		t.Fatalf("model page: %v", err)
	}
	if len(page.Models) != 2 || page.Models[0].ID != "a" {
		t.Fatalf("unexpected model order: %+v", page.Models)
	}
	if fo.presigns != 2 {
		t.Fatalf("expected 2 presigns, got %d", fo.presigns)
	}

	urls := map[string]store.SignedURL{}
	if err := svc.box.Open(page.SignedURLs, &urls); err != nil {
		t.Fatalf("open sealed urls: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("expected 2 signed urls, got %d", len(urls))
	}

	// A second call with the sealed result as the previous cache must not
	// presign anything.
	if _, err := svc.ModelPage(context.Background(), store.CategoryWomen, page.SignedURLs); err != nil {
		t.Fatalf("second page: %v", err)
	}
	if fo.presigns != 2 {
		t.Fatalf("previous cache should short-circuit presigns, got %d total", fo.presigns)
	}
}

func TestModelPageIgnoresCorruptPrevCache(t *testing.T) {
	fs := newMemStore()
	seedModel(fs, "a", store.CategoryWomen, nil, nil, "a-1.jpg")
	svc := newTestService(fs, newFakeObjects())

	page, err := svc.ModelPage(context.Background(), store.CategoryWomen, "definitely-not-ciphertext")
	if err != nil {
		t.Fatalf("model page with corrupt prev cache: %v", err)
	}
	urls := map[string]store.SignedURL{}
	if err := svc.box.Open(page.SignedURLs, &urls); err != nil {
		t.Fatalf("open sealed urls: %v", err)
	}
	if len(urls) != 1 {
		t.Fatalf("expected 1 signed url, got %d", len(urls))
	}
}

func TestModelPageReportsOrderingFault(t *testing.T) {
	fs := newMemStore()
	// Two heads: both records claim PrevID == nil.
	seedModel(fs, "a", store.CategoryWomen, nil, nil)
	seedModel(fs, "b", store.CategoryWomen, nil, nil)
	svc := newTestService(fs, newFakeObjects())

	_, err := svc.ModelPage(context.Background(), store.CategoryWomen, "")
	if err == nil {
		t.Fatal("expected integrity fault")
	}
	status, code, _, _ := mapError(err)
	if status != 500 || code != "INTEGRITY_FAULT" {
		t.Fatalf("expected INTEGRITY_FAULT mapping, got %d %s", status, code)
	}
	if !errors.Is(err, ordering.ErrIntegrityFault) {
		t.Fatalf("expected ordering fault, got %v", err)
	}
}

func TestUploadImagesIsolatesFailures(t *testing.T) {
	fs := newMemStore()
	seedModel(fs, "a", store.CategoryWomen, nil, nil)
	fo := newFakeObjects()
	fo.failPut["a/bad.jpg"] = true
	svc := newTestService(fs, fo)

	result, err := svc.UploadImages(context.Background(), "a", []UploadFile{
		{Name: "good.jpg", ContentType: "image/jpeg", Size: 3, Reader: bytes.NewReader([]byte("img"))},
		{Name: "bad.jpg", ContentType: "image/jpeg", Size: 3, Reader: bytes.NewReader([]byte("img"))},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(result.Uploaded) != 1 || result.Uploaded[0] != "good.jpg" {
		t.Fatalf("expected only good.jpg uploaded, got %v", result.Uploaded)
	}
	if _, ok := result.SignedURLs["good.jpg"]; !ok {
		t.Fatal("expected a signed url for the uploaded file")
	}
	if _, ok := result.SignedURLs["bad.jpg"]; ok {
		t.Fatal("failed upload must not get a signed url")
	}
}

func TestDeleteImagesDropsCachedURLs(t *testing.T) {
	fs := newMemStore()
	seedModel(fs, "a", store.CategoryWomen, nil, nil, "a-1.jpg")
	fs.signedURLs["a-1.jpg"] = store.SignedURL{URL: "https://cdn/a1", Expires: testNow.Add(time.Hour).UnixMilli()}
	fo := newFakeObjects()
	fo.stored["a/a-1.jpg"] = []byte("img")
	svc := newTestService(fs, fo)

	if err := svc.DeleteImages(context.Background(), "a", []string{"a-1.jpg"}); err != nil {
		t.Fatalf("delete images: %v", err)
	}
	if _, ok := fo.stored["a/a-1.jpg"]; ok {
		t.Fatal("file should be removed")
	}
	if _, ok := fs.signedURLs["a-1.jpg"]; ok {
		t.Fatal("cached signed url should be dropped")
	}
}

func TestYoutubeVideoID(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ&t=10s", "dQw4w9WgXcQ"},
		{"https://example.com/watch?v=dQw4w9WgXcQ", ""},
		{"https://www.youtube.com/watch?v=short", ""},
		{"not a url", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := youtubeVideoID(tc.raw); got != tc.want {
			t.Errorf("youtubeVideoID(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
