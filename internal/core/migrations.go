package core

import (
	"context"
	"strconv"

	"wildtrack/pkg/domain"
)

// CreateMigrationPath stores a route between two habitats.
func (s *Service) CreateMigrationPath(ctx context.Context, attrs domain.Attributes) (domain.Entity, domain.Result, error) {
	return s.Create(ctx, domain.KindMigrationPath, attrs)
}

// GetMigrationPath returns a live migration path.
func (s *Service) GetMigrationPath(ctx context.Context, id int64) (domain.Entity, error) {
	return s.Get(ctx, domain.KindMigrationPath, id)
}

// MigrationPaths lists every live migration path.
func (s *Service) MigrationPaths(ctx context.Context) ([]domain.Entity, error) {
	return s.List(ctx, domain.KindMigrationPath, domain.Filter{})
}

// UpdateMigrationPath patches a live migration path.
func (s *Service) UpdateMigrationPath(ctx context.Context, id int64, patch domain.Attributes) (domain.Entity, domain.Result, error) {
	return s.Update(ctx, domain.KindMigrationPath, id, patch)
}

// RemoveMigrationPath soft-deletes a migration path.
func (s *Service) RemoveMigrationPath(ctx context.Context, id int64) (domain.Result, error) {
	return s.Remove(ctx, domain.KindMigrationPath, id)
}

// ScheduleMigration creates a scheduled migration along a live path. attrs
// must carry start_date; species defaults to the path's species and
// current_location to the geographic area of the path's start habitat.
func (s *Service) ScheduleMigration(ctx context.Context, pathID int64, attrs domain.Attributes) (domain.Entity, domain.Result, error) {
	var scheduled domain.Entity
	res, err := s.mutate(ctx, "schedule_migration", domain.KindMigration, func(tx *Transaction) error {
		path, err := tx.Get(domain.KindMigrationPath, pathID)
		if err != nil {
			return err
		}
		input := attrs.Clone()
		if input == nil {
			input = domain.Attributes{}
		}
		if status, ok := input["status"]; ok && status != domain.MigrationScheduled {
			return domain.ValidationError{Kind: domain.KindMigration, Field: "status", Reason: "a new migration must be scheduled"}
		}
		input["status"] = domain.MigrationScheduled
		input["path_id"] = pathID
		if _, ok := input["species"]; !ok {
			input["species"] = path.Attributes["species"]
		}
		if _, ok := input["current_location"]; !ok {
			input["current_location"] = startLocation(tx, path)
		}
		scheduled, err = tx.Create(domain.KindMigration, input)
		return err
	})
	return scheduled, res, err
}

// startLocation names where a migration on path begins: the start habitat's
// geographic area when it is live, otherwise the habitat id.
func startLocation(tx *Transaction, path domain.Entity) string {
	id, _ := path.Attributes.Int("start_location")
	if habitat, err := tx.Get(domain.KindHabitat, id); err == nil {
		if area, ok := habitat.Attributes.String("geographic_area"); ok {
			return area
		}
	}
	return strconv.FormatInt(id, 10)
}

// GetMigration returns a live migration.
func (s *Service) GetMigration(ctx context.Context, id int64) (domain.Entity, error) {
	return s.Get(ctx, domain.KindMigration, id)
}

// MigrationDetails returns the migration attributes together with its id.
func (s *Service) MigrationDetails(ctx context.Context, id int64) (map[string]any, error) {
	m, err := s.GetMigration(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Details(), nil
}

// Migrations lists every live migration.
func (s *Service) Migrations(ctx context.Context) ([]domain.Entity, error) {
	return s.List(ctx, domain.KindMigration, domain.Filter{})
}

// MigrationsByCurrentLocation lists migrations currently at location.
func (s *Service) MigrationsByCurrentLocation(ctx context.Context, location string) ([]domain.Entity, error) {
	return s.List(ctx, domain.KindMigration, domain.Where("current_location", location))
}

// MigrationsByPath lists migrations scheduled on a path.
func (s *Service) MigrationsByPath(ctx context.Context, pathID int64) ([]domain.Entity, error) {
	return s.List(ctx, domain.KindMigration, domain.Where("path_id", pathID))
}

// MigrationsByStartDate lists migrations starting on date, given as
// YYYY-MM-DD or an RFC 3339 timestamp.
func (s *Service) MigrationsByStartDate(ctx context.Context, date string) ([]domain.Entity, error) {
	return s.List(ctx, domain.KindMigration, domain.Where("start_date", date))
}

// MigrationsByStatus lists migrations in one status. Unknown statuses are
// rejected rather than matching nothing.
func (s *Service) MigrationsByStatus(ctx context.Context, status string) ([]domain.Entity, error) {
	reg, err := s.Registry(domain.KindMigration)
	if err != nil {
		return nil, err
	}
	if _, err := reg.Schema().ValidatePatch(domain.Attributes{"status": status}); err != nil {
		return nil, err
	}
	return s.List(ctx, domain.KindMigration, domain.Where("status", status))
}

// UpdateMigration patches a live migration.
func (s *Service) UpdateMigration(ctx context.Context, id int64, patch domain.Attributes) (domain.Entity, domain.Result, error) {
	return s.Update(ctx, domain.KindMigration, id, patch)
}

// CancelMigration moves a migration to cancelled. Completed and already
// cancelled migrations cannot be cancelled.
func (s *Service) CancelMigration(ctx context.Context, id int64) (domain.Entity, domain.Result, error) {
	var cancelled domain.Entity
	res, err := s.mutate(ctx, "cancel_migration", domain.KindMigration, func(tx *Transaction) error {
		current, err := tx.Get(domain.KindMigration, id)
		if err != nil {
			return err
		}
		switch status, _ := current.Attributes.String("status"); status {
		case domain.MigrationCompleted, domain.MigrationCancelled:
			return domain.ValidationError{Kind: domain.KindMigration, Field: "status", Reason: "cannot cancel a " + status + " migration"}
		}
		cancelled, err = tx.Update(domain.KindMigration, id, domain.Attributes{"status": domain.MigrationCancelled})
		return err
	})
	return cancelled, res, err
}
