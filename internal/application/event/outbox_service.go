package event

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/logger"
)

const (
	defaultDeadLetterPageSize = 20
	maxDeadLetterPageSize     = 100
)

// OutboxService handles outbox dead-letter management
type OutboxService struct {
	repo          shared.OutboxRepository
	clock         shared.Clock
	extraAttempts int
	logger        *zap.Logger
}

// NewOutboxService creates a new outbox service. A requeued dead letter is
// granted extraAttempts more publish attempts (shared.DefaultMaxAttempts when zero).
func NewOutboxService(
	repo shared.OutboxRepository,
	clock shared.Clock,
	extraAttempts int,
	log *zap.Logger,
) *OutboxService {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if extraAttempts <= 0 {
		extraAttempts = shared.DefaultMaxAttempts
	}
	return &OutboxService{
		repo:          repo,
		clock:         clock,
		extraAttempts: extraAttempts,
		logger:        logger.OrNop(log).Named("outbox_admin"),
	}
}

// OutboxMessageDTO is the operator view of an outbox row
type OutboxMessageDTO struct {
	ID            uuid.UUID  `json:"id"`
	Type          string     `json:"type"`
	CorrelationID uuid.UUID  `json:"correlationId"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"maxAttempts"`
	LastError     string     `json:"lastError,omitempty"`
	NextAttemptAt time.Time  `json:"nextAttemptAt"`
	PublishedAt   *time.Time `json:"publishedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// OutboxFilter pages the dead-letter list
type OutboxFilter struct {
	Page     int `form:"page,omitempty" binding:"omitempty,min=1"`
	PageSize int `form:"pageSize,omitempty" binding:"omitempty,min=1,max=100"`
}

// OutboxListResult is a page of dead letters
type OutboxListResult struct {
	Messages   []OutboxMessageDTO `json:"messages"`
	Total      int64              `json:"total"`
	Page       int                `json:"page"`
	PageSize   int                `json:"pageSize"`
	TotalPages int                `json:"totalPages"`
}

// OutboxStatsDTO counts outbox rows by status
type OutboxStatsDTO struct {
	Pending   int64 `json:"pending"`
	Published int64 `json:"published"`
	Dead      int64 `json:"dead"`
	Total     int64 `json:"total"`
}

// GetDeadLetters retrieves dead letters with pagination
func (s *OutboxService) GetDeadLetters(ctx context.Context, filter OutboxFilter) (*OutboxListResult, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = defaultDeadLetterPageSize
	}
	if pageSize > maxDeadLetterPageSize {
		pageSize = maxDeadLetterPageSize
	}

	msgs, total, err := s.repo.FindDead(ctx, page, pageSize)
	if err != nil {
		s.logger.Error("Failed to find dead letters", zap.Error(err))
		return nil, err
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	dtos := make([]OutboxMessageDTO, len(msgs))
	for i, msg := range msgs {
		dtos[i] = toOutboxMessageDTO(msg)
	}

	return &OutboxListResult{
		Messages:   dtos,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// GetMessage retrieves a single outbox row, or shared.ErrNotFound
func (s *OutboxService) GetMessage(ctx context.Context, id uuid.UUID) (*OutboxMessageDTO, error) {
	msg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := toOutboxMessageDTO(msg)
	return &dto, nil
}

// Requeue moves a dead letter back to pending. Its attempt count is kept
// and its ceiling raised, so the relay picks it up on the next pass.
func (s *OutboxService) Requeue(ctx context.Context, id uuid.UUID) (*OutboxMessageDTO, error) {
	msg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := msg.Requeue(s.extraAttempts, s.clock.Now()); err != nil {
		return nil, shared.WrapDomainError("INVALID_STATE", "Outbox message is not dead-lettered", err)
	}

	if err := s.repo.Update(ctx, msg); err != nil {
		s.logger.Error("Failed to requeue outbox message", zap.Error(err), logger.MessageID(id))
		return nil, err
	}

	s.logger.Info("Dead letter requeued",
		logger.MessageID(id),
		logger.MessageType(msg.Type),
		zap.Int("max_attempts", msg.MaxAttempts),
	)

	dto := toOutboxMessageDTO(msg)
	return &dto, nil
}

// RequeueAll requeues every dead letter and returns how many were moved
func (s *OutboxService) RequeueAll(ctx context.Context) (int64, error) {
	var count int64
	now := s.clock.Now()

	// requeued rows leave the dead set, so always read the first page
	for {
		msgs, _, err := s.repo.FindDead(ctx, 1, maxDeadLetterPageSize)
		if err != nil {
			s.logger.Error("Failed to find dead letters", zap.Error(err))
			return count, err
		}
		if len(msgs) == 0 {
			break
		}

		moved := 0
		for _, msg := range msgs {
			if err := msg.Requeue(s.extraAttempts, now); err != nil {
				continue
			}
			if err := s.repo.Update(ctx, msg); err != nil {
				s.logger.Error("Failed to requeue outbox message", zap.Error(err), logger.MessageID(msg.ID))
				continue
			}
			moved++
		}
		count += int64(moved)

		if moved == 0 || len(msgs) < maxDeadLetterPageSize {
			break
		}
	}

	s.logger.Info("Requeued dead letters", zap.Int64("count", count))
	return count, nil
}

// GetStats returns outbox counts by status
func (s *OutboxService) GetStats(ctx context.Context) (*OutboxStatsDTO, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("Failed to get outbox stats", zap.Error(err))
		return nil, err
	}

	var total int64
	for _, count := range counts {
		total += count
	}

	return &OutboxStatsDTO{
		Pending:   counts[shared.OutboxStatusPending],
		Published: counts[shared.OutboxStatusPublished],
		Dead:      counts[shared.OutboxStatusDead],
		Total:     total,
	}, nil
}

func toOutboxMessageDTO(msg *shared.OutboxMessage) OutboxMessageDTO {
	return OutboxMessageDTO{
		ID:            msg.ID,
		Type:          msg.Type,
		CorrelationID: msg.CorrelationID,
		Status:        string(msg.Status),
		Attempts:      msg.Attempts,
		MaxAttempts:   msg.MaxAttempts,
		LastError:     msg.LastError,
		NextAttemptAt: msg.NextAttemptAt,
		PublishedAt:   msg.PublishedAt,
		CreatedAt:     msg.CreatedAt,
		UpdatedAt:     msg.UpdatedAt,
	}
}
