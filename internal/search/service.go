package search

import (
	"context"

	log "github.com/sirupsen/logrus"
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
		log.Warnf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Errorf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTimeline pushes a public timeline into the index (fire-and-forget).
// Private timelines are removed instead so visibility flips stay consistent.
func (s *Service) IndexTimeline(record TimelineRecord, isPublic bool) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if !isPublic {
			if err := s.meili.DeleteTimeline(record.ID); err != nil {
				log.Warnf("search: delete timeline %s: %v", record.ID, err)
			}
			return
		}
		if err := s.meili.IndexTimeline(record); err != nil {
			log.Warnf("search: index timeline %s: %v", record.ID, err)
		}
	}()
}

// DeleteTimeline removes a timeline from the search index (fire-and-forget).
func (s *Service) DeleteTimeline(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTimeline(id); err != nil {
			log.Warnf("search: delete timeline %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes every public timeline from PostgreSQL into
// Meilisearch. Called at startup when Meilisearch is configured.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Errorf("search: reindex load failed: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.meili.IndexTimelines(records); err != nil {
		log.Errorf("search: reindex timelines: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
