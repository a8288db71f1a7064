package echoapi

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/aeroschool/core"
)

const (
	orderingParam = "ordering"

	dateLayout      = "2006-01-02"
	dateInvalidText = "must be a date (YYYY-MM-DD) or an RFC 3339 time"
)

// Ordering binds `?ordering=field,-other`; a leading "-" sorts descending.
// Unknown fields are dropped later by core.AllowedOrderings.
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	seen := make(map[string]bool)
	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		field = strings.TrimPrefix(field, "-")
		if field == "" || seen[field] {
			continue
		}
		seen[field] = true
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// DateRange binds a pair of date query params, e.g. the `from` & `to` of the logbook.
// echo's binder does not decode time.Time, so the filters tag their dates `query:"-"`.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (dr *DateRange) Bind(ctx echo.Context, fromParam, toParam string) error {
	var flds []core.FieldError
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{fromParam, &dr.From}, {toParam, &dr.To}} {
		val := strings.TrimSpace(ctx.QueryParam(p.name))
		if val == "" {
			continue
		}
		t, err := parseDate(val)
		if err != nil {
			flds = append(flds, core.FieldError{Field: p.name, Error: dateInvalidText})
			continue
		}
		*p.dst = t
	}
	if flds != nil {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

func parseDate(val string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, val); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, val)
}
