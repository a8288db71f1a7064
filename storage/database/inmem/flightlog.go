package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/aircraft"
	"github.com/trezcool/aeroschool/core/flightlog"
)

type flightLogRepository struct {
	db *DB
}

var _ flightlog.Repository = (*flightLogRepository)(nil) // interface compliance check

func NewFlightLogRepository(db *DB) flightlog.Repository {
	return &flightLogRepository{db: db}
}

func (repo *flightLogRepository) CreateFlightLog(_ context.Context, fl flightlog.FlightLog) (flightlog.FlightLog, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	ac, ok := repo.db.aircraft[fl.AircraftID]
	if !ok {
		return flightlog.FlightLog{}, aircraft.ErrNotFound
	}
	if ac.HobbsMinutes > fl.HobbsStart {
		return flightlog.FlightLog{}, flightlog.ErrHobbsConflict
	}
	ac.HobbsMinutes = fl.HobbsEnd
	ac.UpdatedAt = time.Now().UTC()

	fl.ID = newID()
	fl.DurationMinutes = fl.HobbsEnd - fl.HobbsStart
	repo.db.flightLogs[fl.ID] = &fl
	return fl, nil
}

func (repo *flightLogRepository) QueryFlightLogs(_ context.Context, filter *flightlog.QueryFilter, ordering []core.DBOrdering) ([]flightlog.FlightLog, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	logs := make([]flightlog.FlightLog, 0, len(repo.db.flightLogs))
	for _, fl := range repo.db.flightLogs {
		if filter == nil || matchFlightLog(*fl, filter) {
			logs = append(logs, *fl)
		}
	}

	sort.SliceStable(logs, func(i, j int) bool {
		a, b := logs[i], logs[j]
		return orderedLess(ordering, func(field string) int {
			switch field {
			case "flight_date":
				return compareTimes(a.FlightDate, b.FlightDate)
			case "created_at":
				return compareTimes(a.CreatedAt, b.CreatedAt)
			case "hobbs_start":
				return compareInts(int64(a.HobbsStart), int64(b.HobbsStart))
			case "kind":
				return strings.Compare(a.Kind, b.Kind)
			case "landings":
				return compareInts(int64(a.Landings), int64(b.Landings))
			}
			return 0
		})
	})
	return logs, nil
}

func matchFlightLog(fl flightlog.FlightLog, filter *flightlog.QueryFilter) bool {
	switch {
	case filter.PilotID != "" && fl.PilotID != filter.PilotID,
		filter.AircraftID != "" && fl.AircraftID != filter.AircraftID,
		filter.Kind != "" && fl.Kind != filter.Kind,
		!filter.DateFrom.IsZero() && fl.FlightDate.Before(filter.DateFrom),
		!filter.DateTo.IsZero() && fl.FlightDate.After(filter.DateTo),
		filter.ParticipantID != "" && !fl.Involves(filter.ParticipantID):
		return false
	}
	return true
}

func (repo *flightLogRepository) GetFlightLog(_ context.Context, id string) (flightlog.FlightLog, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if fl, ok := repo.db.flightLogs[id]; ok {
		return *fl, nil
	}
	return flightlog.FlightLog{}, flightlog.ErrNotFound
}

func (repo *flightLogRepository) DeleteFlightLog(_ context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.flightLogs[id]; !ok {
		return flightlog.ErrNotFound
	}
	delete(repo.db.flightLogs, id)
	return nil
}

func (repo *flightLogRepository) PilotTotals(_ context.Context, pilotID string) (flightlog.Totals, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	totals := flightlog.NewTotals(pilotID)
	for _, fl := range repo.db.flightLogs {
		if fl.PilotID == pilotID {
			totals.Add(fl.Kind, 1, fl.Landings, fl.DurationMinutes)
		}
	}
	return totals, nil
}
