package storage

import (
	"time"

	"github.com/cropscan/ergot-detector/models"
	"github.com/patrickmn/go-cache"
)

// ResultStore keeps recent classification results long enough for the
// post-redirect result page to render them.
type ResultStore struct {
	c *cache.Cache
}

func NewResultStore(ttl time.Duration) *ResultStore {
	return &ResultStore{c: cache.New(ttl, 2*ttl)}
}

func (s *ResultStore) Put(result *models.ClassificationResult) {
	s.c.SetDefault(result.ID, *result)
}

func (s *ResultStore) Get(id string) (*models.ClassificationResult, bool) {
	if id == "" {
		return nil, false
	}
	v, ok := s.c.Get(id)
	if !ok {
		return nil, false
	}
	result := v.(models.ClassificationResult)
	return &result, true
}

func (s *ResultStore) Len() int {
	return s.c.ItemCount()
}
