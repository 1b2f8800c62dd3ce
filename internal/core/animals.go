package core

import (
	"context"

	"wildtrack/pkg/domain"
)

// CreateAnimal stores a new animal. A habitat_id, when given, should point at
// a live habitat; dangling references are reported as rule warnings.
func (s *Service) CreateAnimal(ctx context.Context, attrs domain.Attributes) (domain.Entity, domain.Result, error) {
	return s.Create(ctx, domain.KindAnimal, attrs)
}

// GetAnimal returns a live animal.
func (s *Service) GetAnimal(ctx context.Context, id int64) (domain.Entity, error) {
	return s.Get(ctx, domain.KindAnimal, id)
}

// AnimalDetails returns the animal attributes together with its id.
func (s *Service) AnimalDetails(ctx context.Context, id int64) (map[string]any, error) {
	a, err := s.GetAnimal(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Details(), nil
}

// AnimalsBySpecies lists animals of one species.
func (s *Service) AnimalsBySpecies(ctx context.Context, species string) ([]domain.Entity, error) {
	return s.List(ctx, domain.KindAnimal, domain.Where("species", species))
}

// AnimalsInHabitat lists the animals assigned to a habitat.
func (s *Service) AnimalsInHabitat(ctx context.Context, habitatID int64) ([]domain.Entity, error) {
	return s.List(ctx, domain.KindAnimal, domain.Where("habitat_id", habitatID))
}

// UpdateAnimal patches a live animal.
func (s *Service) UpdateAnimal(ctx context.Context, id int64, patch domain.Attributes) (domain.Entity, domain.Result, error) {
	return s.Update(ctx, domain.KindAnimal, id, patch)
}

// RemoveAnimal soft-deletes an animal.
func (s *Service) RemoveAnimal(ctx context.Context, id int64) (domain.Result, error) {
	return s.Remove(ctx, domain.KindAnimal, id)
}
