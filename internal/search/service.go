package search

import (
	"context"
	"log"
)

// Service fronts annotation search: Meilisearch when it is reachable,
// Postgres full-text search otherwise. Indexing failures never block the
// caller; they are logged and the fallback keeps working.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService builds a search service. meili may be nil when Meilisearch
// is not configured; pgfts is always required.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search uses Meilisearch when healthy, else falls back to Postgres FTS.
func (s *Service) Search(q Query) (Response, error) {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: results, Total: total, Query: q.Text}, nil
		}
		log.Printf("search: meilisearch query failed, falling back to postgres: %v", err)
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		return Response{}, err
	}
	return Response{Results: results, Total: total, Query: q.Text}, nil
}

// IndexAnnotation pushes an annotation into Meilisearch in the background.
func (s *Service) IndexAnnotation(rec AnnotationRecord) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.IndexAnnotation(rec); err != nil {
			log.Printf("search: index annotation %s: %v", rec.ID, err)
		}
	}()
}

// DeleteAnnotation removes an annotation from Meilisearch in the background.
func (s *Service) DeleteAnnotation(id string) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.DeleteAnnotation(id); err != nil {
			log.Printf("search: delete annotation %s: %v", id, err)
		}
	}()
}

// ReindexAll reloads every searchable annotation from Postgres into
// Meilisearch. Used at startup and after bulk mutations.
func (s *Service) ReindexAll(ctx context.Context) error {
	if s.meili == nil {
		return nil
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		return err
	}
	return s.meili.IndexAnnotations(records)
}
