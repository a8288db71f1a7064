package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/aircraft"
)

type aircraftRepository struct {
	db *DB
}

var _ aircraft.Repository = (*aircraftRepository)(nil) // interface compliance check

func NewAircraftRepository(db *DB) aircraft.Repository {
	return &aircraftRepository{db: db}
}

func (repo *aircraftRepository) CheckRegistrationUniqueness(_ context.Context, registration string, excludedIDs ...string) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, ac := range repo.db.aircraft {
		if ac.Registration == registration && !contains(excludedIDs, ac.ID) {
			return aircraft.ErrRegistrationExists
		}
	}
	return nil
}

func (repo *aircraftRepository) CreateAircraft(_ context.Context, ac aircraft.Aircraft) (aircraft.Aircraft, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	ac.ID = newID()
	repo.db.aircraft[ac.ID] = &ac
	return ac, nil
}

func (repo *aircraftRepository) QueryAircraft(_ context.Context, filter *aircraft.QueryFilter, ordering []core.DBOrdering) ([]aircraft.Aircraft, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	fleet := make([]aircraft.Aircraft, 0, len(repo.db.aircraft))
	for _, ac := range repo.db.aircraft {
		if filter != nil {
			if filter.Search != "" && !(containsFold(ac.Registration, filter.Search) || containsFold(ac.Model, filter.Search)) {
				continue
			}
			if len(filter.Statuses) > 0 && !contains(filter.Statuses, ac.Status) {
				continue
			}
			if filter.Category != "" && ac.Category != filter.Category {
				continue
			}
		}
		fleet = append(fleet, *ac)
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "registration", Ascending: true}}
	}
	sort.SliceStable(fleet, func(i, j int) bool {
		a, b := fleet[i], fleet[j]
		return orderedLess(ordering, func(field string) int {
			switch field {
			case "registration":
				return strings.Compare(a.Registration, b.Registration)
			case "model":
				return strings.Compare(a.Model, b.Model)
			case "category":
				return strings.Compare(a.Category, b.Category)
			case "status":
				return strings.Compare(a.Status, b.Status)
			case "hobbs_minutes":
				return compareInts(int64(a.HobbsMinutes), int64(b.HobbsMinutes))
			case "hourly_rate_cents":
				return compareInts(a.HourlyRateCents, b.HourlyRateCents)
			case "created_at":
				return compareTimes(a.CreatedAt, b.CreatedAt)
			}
			return 0
		})
	})
	return fleet, nil
}

func (repo *aircraftRepository) GetAircraft(_ context.Context, id string) (aircraft.Aircraft, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if ac, ok := repo.db.aircraft[id]; ok {
		return *ac, nil
	}
	return aircraft.Aircraft{}, aircraft.ErrNotFound
}

func (repo *aircraftRepository) UpdateAircraft(_ context.Context, ac aircraft.Aircraft) (aircraft.Aircraft, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.aircraft[ac.ID]; !ok {
		return aircraft.Aircraft{}, aircraft.ErrNotFound
	}
	repo.db.aircraft[ac.ID] = &ac
	return ac, nil
}

func (repo *aircraftRepository) CountFlightLogs(_ context.Context, id string) (int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var n int
	for _, fl := range repo.db.flightLogs {
		if fl.AircraftID == id {
			n++
		}
	}
	return n, nil
}

func (repo *aircraftRepository) DeleteAircraft(_ context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.aircraft[id]; !ok {
		return aircraft.ErrNotFound
	}
	delete(repo.db.aircraft, id)
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
