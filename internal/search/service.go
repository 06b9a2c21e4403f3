package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexModel indexes a model profile (fire-and-forget to Meilisearch).
func (s *Service) IndexModel(rec ModelRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexModel(rec); err != nil {
			log.Printf("search: index model %s: %v", rec.ID, err)
		}
	}()
}

// IndexWork indexes a work entry (fire-and-forget to Meilisearch).
func (s *Service) IndexWork(rec WorkRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexWork(rec); err != nil {
			log.Printf("search: index work %s: %v", rec.ID, err)
		}
	}()
}

// DeleteModel removes a model from the search index (fire-and-forget).
func (s *Service) DeleteModel(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteModel(id); err != nil {
			log.Printf("search: delete model %s: %v", id, err)
		}
	}()
}

// DeleteWork removes a work from the search index (fire-and-forget).
func (s *Service) DeleteWork(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteWork(id); err != nil {
			log.Printf("search: delete work %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable records from PostgreSQL into
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	models, works, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(models) > 0 {
		if err := s.meili.IndexModels(models); err != nil {
			log.Printf("search: reindex models: %v", err)
		}
	}
	if len(works) > 0 {
		if err := s.meili.IndexWorks(works); err != nil {
			log.Printf("search: reindex works: %v", err)
		}
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
