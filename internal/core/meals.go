package core

import (
	"context"
	"math"
	"sort"

	"wildtrack/pkg/domain"
)

// Battle outcomes accepted by UpdateMealStats.
const (
	BattleWin  = "win"
	BattleLoss = "loss"
)

// Leaderboard orderings.
const (
	SortByWins   = "wins"
	SortByWinPct = "win_pct"
)

// LeaderboardEntry is one ranked meal.
type LeaderboardEntry struct {
	ID         int64   `json:"id"`
	Meal       string  `json:"meal"`
	Cuisine    string  `json:"cuisine"`
	Price      float64 `json:"price"`
	Difficulty string  `json:"difficulty"`
	Battles    int64   `json:"battles"`
	Wins       int64   `json:"wins"`
	WinPct     float64 `json:"win_pct"`
}

// CreateMeal adds a meal to the catalog. Meal names are unique among live meals.
func (s *Service) CreateMeal(ctx context.Context, attrs domain.Attributes) (domain.Entity, domain.Result, error) {
	return s.Create(ctx, domain.KindMeal, attrs)
}

// DeleteMeal soft-deletes a meal. Deleting it again reports that it has
// already been deleted.
func (s *Service) DeleteMeal(ctx context.Context, id int64) (domain.Result, error) {
	return s.Remove(ctx, domain.KindMeal, id)
}

// GetMealByID returns a live meal.
func (s *Service) GetMealByID(ctx context.Context, id int64) (domain.Entity, error) {
	return s.Get(ctx, domain.KindMeal, id)
}

// GetMealByName returns the live meal called name.
func (s *Service) GetMealByName(ctx context.Context, name string) (domain.Entity, error) {
	var out domain.Entity
	err := s.read(ctx, "get_meal_by_name", func() error {
		reg, err := s.Registry(domain.KindMeal)
		if err != nil {
			return err
		}
		found, err := reg.ListBy(domain.Where("meal", name))
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return domain.NotFoundError{Kind: domain.KindMeal, Name: name}
		}
		out = found[0]
		return nil
	})
	return out, err
}

// UpdateMeal patches a live meal.
func (s *Service) UpdateMeal(ctx context.Context, id int64, patch domain.Attributes) (domain.Entity, domain.Result, error) {
	return s.Update(ctx, domain.KindMeal, id, patch)
}

// UpdateMealStats records one battle outcome for a meal: every battle counts,
// wins only on "win".
func (s *Service) UpdateMealStats(ctx context.Context, id int64, outcome string) (domain.Entity, domain.Result, error) {
	var updated domain.Entity
	res, err := s.mutate(ctx, "update_meal_stats", domain.KindMeal, func(tx *Transaction) error {
		var err error
		updated, err = recordOutcome(tx, id, outcome)
		return err
	})
	return updated, res, err
}

// RecordBattle credits a win to winner and a loss to loser in one step.
func (s *Service) RecordBattle(ctx context.Context, winnerID, loserID int64) (domain.Result, error) {
	return s.mutate(ctx, "record_battle", domain.KindMeal, func(tx *Transaction) error {
		if winnerID == loserID {
			return domain.ValidationError{Kind: domain.KindMeal, Field: "battle", Reason: "a meal cannot battle itself"}
		}
		if _, err := tx.Get(domain.KindMeal, loserID); err != nil {
			return err
		}
		if _, err := recordOutcome(tx, winnerID, BattleWin); err != nil {
			return err
		}
		_, err := recordOutcome(tx, loserID, BattleLoss)
		return err
	})
}

func recordOutcome(tx *Transaction, id int64, outcome string) (domain.Entity, error) {
	if outcome != BattleWin && outcome != BattleLoss {
		return domain.Entity{}, domain.ValidationError{Kind: domain.KindMeal, Field: "result", Reason: `must be "win" or "loss"`}
	}
	meal, err := tx.Get(domain.KindMeal, id)
	if err != nil {
		return domain.Entity{}, err
	}
	battles, _ := meal.Attributes.Int("battles")
	patch := domain.Attributes{"battles": battles + 1}
	if outcome == BattleWin {
		wins, _ := meal.Attributes.Int("wins")
		patch["wins"] = wins + 1
	}
	return tx.Update(domain.KindMeal, id, patch)
}

// Leaderboard ranks the meals that have fought at least one battle by wins
// or by win percentage, highest first. Ties keep id order.
func (s *Service) Leaderboard(ctx context.Context, sortBy string) ([]LeaderboardEntry, error) {
	if sortBy == "" {
		sortBy = SortByWins
	}
	if sortBy != SortByWins && sortBy != SortByWinPct {
		return nil, domain.ValidationError{Kind: domain.KindMeal, Field: "sort", Reason: `must be "wins" or "win_pct"`}
	}
	var out []LeaderboardEntry
	err := s.read(ctx, "leaderboard", func() error {
		reg, err := s.Registry(domain.KindMeal)
		if err != nil {
			return err
		}
		meals, err := reg.ListBy(domain.Filter{}.AtLeast("battles", 1))
		if err != nil {
			return err
		}
		out = make([]LeaderboardEntry, 0, len(meals))
		for _, m := range meals {
			out = append(out, leaderboardEntry(m))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if sortBy == SortByWinPct {
			if a.WinPct != b.WinPct {
				return a.WinPct > b.WinPct
			}
		} else if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		return a.ID < b.ID
	})
	return out, nil
}

func leaderboardEntry(m domain.Entity) LeaderboardEntry {
	e := LeaderboardEntry{ID: m.ID}
	e.Meal, _ = m.Attributes.String("meal")
	e.Cuisine, _ = m.Attributes.String("cuisine")
	e.Price, _ = m.Attributes.Float("price")
	e.Difficulty, _ = m.Attributes.String("difficulty")
	e.Battles, _ = m.Attributes.Int("battles")
	e.Wins, _ = m.Attributes.Int("wins")
	if e.Battles > 0 {
		e.WinPct = math.Round(float64(e.Wins)/float64(e.Battles)*1000) / 10
	}
	return e
}
