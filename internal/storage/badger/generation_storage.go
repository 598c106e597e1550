package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// GenerationStorage implements the GenerationStorage interface for Badger
type GenerationStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewGenerationStorage creates a new GenerationStorage instance
func NewGenerationStorage(db *BadgerDB, logger arbor.ILogger) interfaces.GenerationStorage {
	return &GenerationStorage{
		db:     db,
		logger: logger,
	}
}

func (s *GenerationStorage) StoreGeneration(ctx context.Context, gen *models.Generation) error {
	if gen.ID == "" {
		return fmt.Errorf("generation ID is required")
	}
	if err := s.db.Store().Upsert(gen.ID, gen); err != nil {
		return fmt.Errorf("failed to store generation: %w", err)
	}
	return nil
}

func (s *GenerationStorage) GetGeneration(ctx context.Context, id string) (*models.Generation, error) {
	var gen models.Generation
	if err := s.db.Store().Get(id, &gen); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.Errorf(models.ErrNotFound, "generation not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}
	return &gen, nil
}

func (s *GenerationStorage) ListBySession(ctx context.Context, sessionID string) ([]*models.Generation, error) {
	var gens []models.Generation
	if err := s.db.Store().Find(&gens, badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	return toPointers(gens), nil
}

func (s *GenerationStorage) ListBySessionStage(ctx context.Context, sessionID string, stage int) ([]*models.Generation, error) {
	var gens []models.Generation
	query := badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID").And("Stage").Eq(stage).SortBy("CreatedAt")
	if err := s.db.Store().Find(&gens, query); err != nil {
		return nil, fmt.Errorf("failed to list generations for stage: %w", err)
	}
	return toPointers(gens), nil
}

func (s *GenerationStorage) ListByStatus(ctx context.Context, status models.GenerationStatus) ([]*models.Generation, error) {
	var gens []models.Generation
	if err := s.db.Store().Find(&gens, badgerhold.Where("Status").Eq(status).Index("Status")); err != nil {
		return nil, fmt.Errorf("failed to list generations by status: %w", err)
	}
	return toPointers(gens), nil
}

func (s *GenerationStorage) DeleteBySession(ctx context.Context, sessionID string) (int, error) {
	gens, err := s.ListBySession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, g := range gens {
		if err := s.db.Store().Delete(g.ID, &models.Generation{}); err != nil && err != badgerhold.ErrNotFound {
			return deleted, fmt.Errorf("failed to delete generation %s: %w", g.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

func (s *GenerationStorage) StoreBatch(ctx context.Context, batch *models.Batch) error {
	if batch.ID == "" {
		return fmt.Errorf("batch ID is required")
	}
	if err := s.db.Store().Upsert(batch.ID, batch); err != nil {
		return fmt.Errorf("failed to store batch: %w", err)
	}
	return nil
}

func (s *GenerationStorage) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	var batch models.Batch
	if err := s.db.Store().Get(id, &batch); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.Errorf(models.ErrNotFound, "batch not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &batch, nil
}

func toPointers(gens []models.Generation) []*models.Generation {
	result := make([]*models.Generation, len(gens))
	for i := range gens {
		result[i] = &gens[i]
	}
	return result
}
