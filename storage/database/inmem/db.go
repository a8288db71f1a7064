// Package inmemdb implements the repositories in memory, for tests & local runs without Postgres.
package inmemdb

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/aircraft"
	"github.com/trezcool/aeroschool/core/billing"
	"github.com/trezcool/aeroschool/core/flightlog"
	"github.com/trezcool/aeroschool/core/user"
	"github.com/trezcool/aeroschool/core/verification"
)

// DB holds every table behind a single lock, so that cross-table writes are atomic.
type DB struct {
	mu sync.RWMutex

	users      map[string]*user.User
	aircraft   map[string]*aircraft.Aircraft
	flightLogs map[string]*flightlog.FlightLog
	sessions   map[string]*verification.Session
	events     map[string]*verification.WebhookEvent
	clients    map[string]*billing.InvoiceClient
	invoices   map[string]*billing.Invoice
	orders     map[string]*billing.PackageOrder
}

func Open() *DB {
	db := new(DB)
	db.Reset()
	return db
}

// Reset empties every table.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.users = make(map[string]*user.User)
	db.aircraft = make(map[string]*aircraft.Aircraft)
	db.flightLogs = make(map[string]*flightlog.FlightLog)
	db.sessions = make(map[string]*verification.Session)
	db.events = make(map[string]*verification.WebhookEvent)
	db.clients = make(map[string]*billing.InvoiceClient)
	db.invoices = make(map[string]*billing.Invoice)
	db.orders = make(map[string]*billing.PackageOrder)
}

func newID() string {
	return uuid.New().String()
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// compareTimes returns -1, 0 or 1, like strings.Compare.
func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBools(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// orderedLess builds a less function applying ordering with the per-field compare function cmp.
func orderedLess(ordering []core.DBOrdering, cmp func(field string) int) bool {
	for _, ord := range ordering {
		c := cmp(ord.Field)
		if c == 0 {
			continue
		}
		if ord.Ascending {
			return c < 0
		}
		return c > 0
	}
	return false
}
