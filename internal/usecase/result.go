package usecase

import (
	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// ResultService reads job records for polling and streaming.
type ResultService struct {
	Store domain.JobStore
}

// NewResultService constructs a ResultService.
func NewResultService(store domain.JobStore) ResultService {
	return ResultService{Store: store}
}

// Fetch returns the current record for id, or domain.ErrNotFound when the
// id was never issued or the record has been evicted.
func (s ResultService) Fetch(ctx domain.Context, id string) (domain.Job, error) {
	return s.Store.Get(ctx, id)
}

// Watch subscribes to the record's change feed. The first event carries the
// current snapshot; the caller must Cancel the subscription.
func (s ResultService) Watch(ctx domain.Context, id string) (domain.Subscription, error) {
	return s.Store.Subscribe(ctx, id)
}
