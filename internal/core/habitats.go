package core

import (
	"context"

	"wildtrack/pkg/domain"
)

// CreateHabitat stores a new habitat.
func (s *Service) CreateHabitat(ctx context.Context, attrs domain.Attributes) (domain.Entity, domain.Result, error) {
	return s.Create(ctx, domain.KindHabitat, attrs)
}

// GetHabitat returns a live habitat.
func (s *Service) GetHabitat(ctx context.Context, id int64) (domain.Entity, error) {
	return s.Get(ctx, domain.KindHabitat, id)
}

// HabitatDetails returns the habitat attributes together with its id.
func (s *Service) HabitatDetails(ctx context.Context, id int64) (map[string]any, error) {
	h, err := s.GetHabitat(ctx, id)
	if err != nil {
		return nil, err
	}
	return h.Details(), nil
}

// UpdateHabitat patches a live habitat.
func (s *Service) UpdateHabitat(ctx context.Context, id int64, patch domain.Attributes) (domain.Entity, domain.Result, error) {
	return s.Update(ctx, domain.KindHabitat, id, patch)
}

// RemoveHabitat soft-deletes a habitat. Animals still pointing at it are
// reported by the reference integrity rule.
func (s *Service) RemoveHabitat(ctx context.Context, id int64) (domain.Result, error) {
	return s.Remove(ctx, domain.KindHabitat, id)
}

// HabitatsByArea lists habitats in a geographic area.
func (s *Service) HabitatsByArea(ctx context.Context, area string) ([]domain.Entity, error) {
	return s.List(ctx, domain.KindHabitat, domain.Where("geographic_area", area))
}

// HabitatsBySize lists habitats of exactly size.
func (s *Service) HabitatsBySize(ctx context.Context, size int64) ([]domain.Entity, error) {
	return s.List(ctx, domain.KindHabitat, domain.Where("size", size))
}

// HabitatsBySizeRange lists habitats whose size lies in [lo, hi].
func (s *Service) HabitatsBySizeRange(ctx context.Context, lo, hi int64) ([]domain.Entity, error) {
	return s.List(ctx, domain.KindHabitat, domain.Filter{}.Between("size", float64(lo), float64(hi)))
}

// HabitatsByType lists habitats of an environment type.
func (s *Service) HabitatsByType(ctx context.Context, environmentType string) ([]domain.Entity, error) {
	return s.List(ctx, domain.KindHabitat, domain.Where("environment_type", environmentType))
}

// AssignAnimalsToHabitat points every listed animal at the habitat. Either
// all animals are reassigned or none are.
func (s *Service) AssignAnimalsToHabitat(ctx context.Context, habitatID int64, animalIDs ...int64) ([]domain.Entity, domain.Result, error) {
	var assigned []domain.Entity
	res, err := s.mutate(ctx, "assign_animals_to_habitat", domain.KindHabitat, func(tx *Transaction) error {
		if len(animalIDs) == 0 {
			return domain.ValidationError{Kind: domain.KindHabitat, Field: "animals", Reason: "at least one animal is required"}
		}
		if _, err := tx.Get(domain.KindHabitat, habitatID); err != nil {
			return err
		}
		for _, id := range animalIDs {
			if _, err := tx.Get(domain.KindAnimal, id); err != nil {
				return err
			}
		}
		for _, id := range animalIDs {
			animal, err := tx.Update(domain.KindAnimal, id, domain.Attributes{"habitat_id": habitatID})
			if err != nil {
				return err
			}
			assigned = append(assigned, animal)
		}
		return nil
	})
	if err != nil {
		return nil, res, err
	}
	return assigned, res, nil
}
