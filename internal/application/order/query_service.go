package order

import (
	"context"

	"github.com/google/uuid"

	"github.com/orderflow/backend/internal/domain/order"
)

// QueryService serves the public order detail
type QueryService struct {
	repo order.Repository
}

// NewQueryService creates a new QueryService
func NewQueryService(repo order.Repository) *QueryService {
	return &QueryService{repo: repo}
}

// GetByID returns the order detail, or shared.ErrNotFound
func (s *QueryService) GetByID(ctx context.Context, id uuid.UUID) (*OrderDetailResponse, error) {
	o, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toOrderDetailResponse(o), nil
}
