package etl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DimensionResolver maps natural keys to surrogate dimension keys,
// creating rows lazily on first reference. Resolution is first-write-wins:
// a concurrent sibling process inserting the same natural key is recovered
// by a fallback read, never an error.
type DimensionResolver struct {
	rangeStart time.Time
	rangeEnd   time.Time

	disasterKeys map[int]int
	locationKeys map[string]int
	dateKeys     map[int]bool
}

// NewDimensionResolver creates a resolver whose calendar spans
// [rangeStart, rangeEnd]. Caches are per resolver, scoped to one run.
func NewDimensionResolver(rangeStart, rangeEnd time.Time) *DimensionResolver {
	return &DimensionResolver{
		rangeStart:   rangeStart.UTC().Truncate(24 * time.Hour),
		rangeEnd:     rangeEnd.UTC().Truncate(24 * time.Hour),
		disasterKeys: make(map[int]int),
		locationKeys: make(map[string]int),
		dateKeys:     make(map[int]bool),
	}
}

// ResolveDisaster returns the surrogate key for a disaster number,
// inserting the dimension row if it does not exist yet.
func (r *DimensionResolver) ResolveDisaster(ctx context.Context, tx dbtx, d *Declaration) (int, error) {
	if key, ok := r.disasterKeys[d.DisasterNumber]; ok {
		return key, nil
	}
	var key int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO dim_disaster (disaster_number, declaration_type, incident_type, declaration_title)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (disaster_number) DO NOTHING
		RETURNING disaster_key`,
		d.DisasterNumber, nullIfEmpty(d.DeclarationType), nullIfEmpty(d.IncidentType), nullIfEmpty(d.DeclarationTitle),
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		// Row already existed, read the winner's key.
		err = tx.QueryRowContext(ctx,
			`SELECT disaster_key FROM dim_disaster WHERE disaster_number = $1`,
			d.DisasterNumber,
		).Scan(&key)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve disaster %d: %w", d.DisasterNumber, err)
	}
	r.disasterKeys[d.DisasterNumber] = key
	return key, nil
}

// ResolveDisasterNumber resolves a disaster number with no declaration
// attributes, for project batches that reference disasters the
// declarations feed has not delivered yet.
func (r *DimensionResolver) ResolveDisasterNumber(ctx context.Context, tx dbtx, disasterNumber int) (int, error) {
	return r.ResolveDisaster(ctx, tx, &Declaration{DisasterNumber: disasterNumber})
}

// ResolveLocation returns the surrogate key for a (state, country) pair.
func (r *DimensionResolver) ResolveLocation(ctx context.Context, tx dbtx, state string) (int, error) {
	const country = "USA"
	cacheKey := state + "|" + country
	if key, ok := r.locationKeys[cacheKey]; ok {
		return key, nil
	}
	var key int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO dim_location (state, country_name)
		VALUES ($1, $2)
		ON CONFLICT (state, country_name) DO NOTHING
		RETURNING location_key`,
		state, country,
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx,
			`SELECT location_key FROM dim_location WHERE state = $1 AND country_name = $2`,
			state, country,
		).Scan(&key)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve location %s: %w", state, err)
	}
	r.locationKeys[cacheKey] = key
	return key, nil
}

// ResolveDate returns the date_key for a calendar date. The calendar is
// fully materialized at init; a date outside the configured range is a
// batch-fatal DimensionOutOfRangeError.
func (r *DimensionResolver) ResolveDate(ctx context.Context, tx dbtx, date time.Time) (int, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	if day.Before(r.rangeStart) || day.After(r.rangeEnd) {
		return 0, &DimensionOutOfRangeError{Date: day, RangeStart: r.rangeStart, RangeEnd: r.rangeEnd}
	}
	key := dateKey(day)
	if r.dateKeys[key] {
		return key, nil
	}
	var found int
	err := tx.QueryRowContext(ctx, `SELECT date_key FROM dim_date WHERE date_key = $1`, key).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &DimensionOutOfRangeError{Date: day, RangeStart: r.rangeStart, RangeEnd: r.rangeEnd}
	}
	if err != nil {
		return 0, fmt.Errorf("resolve date %s: %w", day.Format("2006-01-02"), err)
	}
	r.dateKeys[key] = true
	return key, nil
}

// dateKey encodes a date as YYYYMMDD.
func dateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// calendarRow holds one generated dim_date row.
type calendarRow struct {
	DateKey    int
	FullDate   time.Time
	Year       int
	Month      int
	Day        int
	Quarter    int
	DayOfWeek  int
	DayName    string
	IsWeekend  bool
	WeekOfYear int
}

// buildCalendarRow derives the calendar attributes for one date.
// day_of_week is ISO numbering, Monday=1 through Sunday=7.
func buildCalendarRow(t time.Time) calendarRow {
	day := t.UTC().Truncate(24 * time.Hour)
	dow := int(day.Weekday())
	if dow == 0 {
		dow = 7
	}
	_, isoWeek := day.ISOWeek()
	return calendarRow{
		DateKey:    dateKey(day),
		FullDate:   day,
		Year:       day.Year(),
		Month:      int(day.Month()),
		Day:        day.Day(),
		Quarter:    (int(day.Month())-1)/3 + 1,
		DayOfWeek:  dow,
		DayName:    day.Weekday().String(),
		IsWeekend:  dow >= 6,
		WeekOfYear: isoWeek,
	}
}

// seedCalendarBatchSize bounds the rows per INSERT; the range spans
// decades, so seeding row by row would cost thousands of round trips.
const seedCalendarBatchSize = 500

// SeedCalendar materializes dim_date over the resolver's range with
// multi-row inserts. Existing rows are left untouched so re-seeding is
// cheap and safe.
func (r *DimensionResolver) SeedCalendar(ctx context.Context, db dbtx) (int, error) {
	inserted := 0
	var (
		tuples []string
		args   []any
	)

	flush := func() error {
		if len(tuples) == 0 {
			return nil
		}
		query := `
			INSERT INTO dim_date (
				date_key, full_date, year, month, day, quarter,
				day_of_week, day_name, is_weekend, week_of_year
			) VALUES ` + strings.Join(tuples, ", ") + `
			ON CONFLICT (date_key) DO NOTHING`
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("seed calendar batch: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
		tuples = tuples[:0]
		args = args[:0]
		return nil
	}

	for day := r.rangeStart; !day.After(r.rangeEnd); day = day.AddDate(0, 0, 1) {
		row := buildCalendarRow(day)
		base := len(args)
		tuples = append(tuples, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10))
		args = append(args,
			row.DateKey, row.FullDate, row.Year, row.Month, row.Day,
			row.Quarter, row.DayOfWeek, row.DayName, row.IsWeekend, row.WeekOfYear)

		if len(tuples) >= seedCalendarBatchSize {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// stateReference carries the census region and division for one state
// or territory.
type stateReference struct {
	Abbrev   string
	Region   string
	Division string
}

// stateReferences is the fixed pre-seed set for dim_location: the 50
// states, DC, and the territories that appear in the source feeds.
var stateReferences = []stateReference{
	{"CT", "Northeast", "New England"},
	{"ME", "Northeast", "New England"},
	{"MA", "Northeast", "New England"},
	{"NH", "Northeast", "New England"},
	{"RI", "Northeast", "New England"},
	{"VT", "Northeast", "New England"},
	{"NJ", "Northeast", "Middle Atlantic"},
	{"NY", "Northeast", "Middle Atlantic"},
	{"PA", "Northeast", "Middle Atlantic"},
	{"IL", "Midwest", "East North Central"},
	{"IN", "Midwest", "East North Central"},
	{"MI", "Midwest", "East North Central"},
	{"OH", "Midwest", "East North Central"},
	{"WI", "Midwest", "East North Central"},
	{"IA", "Midwest", "West North Central"},
	{"KS", "Midwest", "West North Central"},
	{"MN", "Midwest", "West North Central"},
	{"MO", "Midwest", "West North Central"},
	{"NE", "Midwest", "West North Central"},
	{"ND", "Midwest", "West North Central"},
	{"SD", "Midwest", "West North Central"},
	{"DE", "South", "South Atlantic"},
	{"DC", "South", "South Atlantic"},
	{"FL", "South", "South Atlantic"},
	{"GA", "South", "South Atlantic"},
	{"MD", "South", "South Atlantic"},
	{"NC", "South", "South Atlantic"},
	{"SC", "South", "South Atlantic"},
	{"VA", "South", "South Atlantic"},
	{"WV", "South", "South Atlantic"},
	{"AL", "South", "East South Central"},
	{"KY", "South", "East South Central"},
	{"MS", "South", "East South Central"},
	{"TN", "South", "East South Central"},
	{"AR", "South", "West South Central"},
	{"LA", "South", "West South Central"},
	{"OK", "South", "West South Central"},
	{"TX", "South", "West South Central"},
	{"AZ", "West", "Mountain"},
	{"CO", "West", "Mountain"},
	{"ID", "West", "Mountain"},
	{"MT", "West", "Mountain"},
	{"NV", "West", "Mountain"},
	{"NM", "West", "Mountain"},
	{"UT", "West", "Mountain"},
	{"WY", "West", "Mountain"},
	{"AK", "West", "Pacific"},
	{"CA", "West", "Pacific"},
	{"HI", "West", "Pacific"},
	{"OR", "West", "Pacific"},
	{"WA", "West", "Pacific"},
	{"AS", "Territory", "Territory"},
	{"FM", "Territory", "Territory"},
	{"GU", "Territory", "Territory"},
	{"MH", "Territory", "Territory"},
	{"MP", "Territory", "Territory"},
	{"PR", "Territory", "Territory"},
	{"PW", "Territory", "Territory"},
	{"VI", "Territory", "Territory"},
}

// SeedLocations loads the state reference set into dim_location.
// Rows already present keep their keys.
func (r *DimensionResolver) SeedLocations(ctx context.Context, db dbtx) (int, error) {
	inserted := 0
	for _, ref := range stateReferences {
		res, err := db.ExecContext(ctx, `
			INSERT INTO dim_location (state, country_name, region, division)
			VALUES ($1, 'USA', $2, $3)
			ON CONFLICT (state, country_name) DO NOTHING`,
			ref.Abbrev, ref.Region, ref.Division,
		)
		if err != nil {
			return inserted, fmt.Errorf("seed location %s: %w", ref.Abbrev, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}
