package core

import (
	"context"
	"fmt"

	"wildtrack/pkg/domain"
)

// NewDefaultRulesEngine returns the engine every service starts with.
func NewDefaultRulesEngine() *domain.RulesEngine {
	return domain.NewRulesEngine(ReferenceIntegrityRule(), HabitatOccupancyRule())
}

// reference describes an attribute holding the id of another record.
type reference struct {
	from   domain.Kind
	field  string
	target domain.Kind
}

var references = []reference{
	{from: domain.KindAnimal, field: "habitat_id", target: domain.KindHabitat},
	{from: domain.KindMigrationPath, field: "start_location", target: domain.KindHabitat},
	{from: domain.KindMigrationPath, field: "destination", target: domain.KindHabitat},
	{from: domain.KindMigration, field: "path_id", target: domain.KindMigrationPath},
}

// ReferenceIntegrityRule warns when a changed record points at a missing
// record, or when a removed record is still referenced.
func ReferenceIntegrityRule() domain.Rule {
	return referenceIntegrityRule{}
}

type referenceIntegrityRule struct{}

func (referenceIntegrityRule) Name() string { return "reference_integrity" }

func (referenceIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.After != nil {
			for _, ref := range references {
				if ref.from != change.Kind {
					continue
				}
				id, ok := change.After.Attributes.Int(ref.field)
				if !ok {
					continue
				}
				if _, found := view.Find(ref.target, id); !found {
					res.Violations = append(res.Violations, referenceViolation(change.Kind, change.After.ID,
						fmt.Sprintf("%s %d %s references missing %s %d", change.Kind, change.After.ID, ref.field, ref.target, id)))
				}
			}
		}
		if change.Action != domain.ActionDelete {
			continue
		}
		removed := change.EntityID()
		for _, ref := range references {
			if ref.target != change.Kind {
				continue
			}
			for _, e := range view.List(ref.from) {
				if id, ok := e.Attributes.Int(ref.field); ok && id == removed {
					res.Violations = append(res.Violations, referenceViolation(ref.from, e.ID,
						fmt.Sprintf("%s %d %s still references removed %s %d", ref.from, e.ID, ref.field, change.Kind, removed)))
				}
			}
		}
	}
	return res, nil
}

func referenceViolation(kind domain.Kind, id int64, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "reference_integrity",
		Severity: domain.SeverityWarn,
		Message:  msg,
		Kind:     kind,
		EntityID: id,
	}
}

// HabitatOccupancyRule warns when a habitat touched by a change holds more
// animals than its size.
func HabitatOccupancyRule() domain.Rule {
	return habitatOccupancyRule{}
}

type habitatOccupancyRule struct{}

func (habitatOccupancyRule) Name() string { return "habitat_occupancy" }

func (habitatOccupancyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := make(map[int64]struct{})
	for _, change := range changes {
		switch change.Kind {
		case domain.KindHabitat:
			touched[change.EntityID()] = struct{}{}
		case domain.KindAnimal:
			for _, e := range []*domain.Entity{change.Before, change.After} {
				if e == nil {
					continue
				}
				if id, ok := e.Attributes.Int("habitat_id"); ok {
					touched[id] = struct{}{}
				}
			}
		}
	}
	res := domain.Result{}
	if len(touched) == 0 {
		return res, nil
	}

	occupancy := make(map[int64]int64)
	for _, animal := range view.List(domain.KindAnimal) {
		if id, ok := animal.Attributes.Int("habitat_id"); ok {
			occupancy[id]++
		}
	}
	for _, habitat := range view.List(domain.KindHabitat) {
		if _, ok := touched[habitat.ID]; !ok {
			continue
		}
		size, _ := habitat.Attributes.Int("size")
		if count := occupancy[habitat.ID]; count > size {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "habitat_occupancy",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("habitat %d over capacity: %d/%d animals", habitat.ID, count, size),
				Kind:     domain.KindHabitat,
				EntityID: habitat.ID,
			})
		}
	}
	return res, nil
}
