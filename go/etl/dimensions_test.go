package etl

import (
	"context"
	"strings"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDateKey(t *testing.T) {
	tests := []struct {
		date time.Time
		want int
	}{
		{date(2000, time.January, 1), 20000101},
		{date(2021, time.April, 23), 20210423},
		{date(2024, time.December, 31), 20241231},
	}
	for _, tt := range tests {
		if got := dateKey(tt.date); got != tt.want {
			t.Errorf("dateKey(%s) = %d, want %d", tt.date.Format("2006-01-02"), got, tt.want)
		}
	}
}

func TestBuildCalendarRow(t *testing.T) {
	tests := []struct {
		name       string
		date       time.Time
		quarter    int
		dayOfWeek  int
		dayName    string
		isWeekend  bool
		weekOfYear int
	}{
		{"weekday in q2", date(2021, time.April, 23), 2, 5, "Friday", false, 16},
		{"saturday", date(2021, time.April, 24), 2, 6, "Saturday", true, 16},
		{"sunday maps to seven", date(2021, time.April, 25), 2, 7, "Sunday", true, 16},
		{"new year in iso week of prior year", date(2021, time.January, 1), 1, 5, "Friday", false, 53},
		{"q4 boundary", date(2021, time.October, 1), 4, 5, "Friday", false, 39},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := buildCalendarRow(tt.date)
			if row.Quarter != tt.quarter {
				t.Errorf("quarter = %d, want %d", row.Quarter, tt.quarter)
			}
			if row.DayOfWeek != tt.dayOfWeek {
				t.Errorf("day_of_week = %d, want %d", row.DayOfWeek, tt.dayOfWeek)
			}
			if row.DayName != tt.dayName {
				t.Errorf("day_name = %s, want %s", row.DayName, tt.dayName)
			}
			if row.IsWeekend != tt.isWeekend {
				t.Errorf("is_weekend = %v, want %v", row.IsWeekend, tt.isWeekend)
			}
			if row.WeekOfYear != tt.weekOfYear {
				t.Errorf("week_of_year = %d, want %d", row.WeekOfYear, tt.weekOfYear)
			}
		})
	}
}

func TestBuildCalendarRowFields(t *testing.T) {
	row := buildCalendarRow(date(2021, time.April, 23))
	if row.DateKey != 20210423 {
		t.Errorf("date_key = %d, want 20210423", row.DateKey)
	}
	if row.Year != 2021 || row.Month != 4 || row.Day != 23 {
		t.Errorf("y/m/d = %d/%d/%d, want 2021/4/23", row.Year, row.Month, row.Day)
	}
}

func TestResolveDateRangeCheck(t *testing.T) {
	r := NewDimensionResolver(date(2000, time.January, 1), date(2027, time.December, 31))

	tests := []struct {
		name string
		date time.Time
	}{
		{"before range", date(1999, time.December, 31)},
		{"after range", date(2028, time.January, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.ResolveDate(context.Background(), nil, tt.date)
			if _, ok := err.(*DimensionOutOfRangeError); !ok {
				t.Fatalf("expected DimensionOutOfRangeError, got %v", err)
			}
		})
	}
}

func TestStateReferences(t *testing.T) {
	seen := make(map[string]bool)
	for _, ref := range stateReferences {
		if seen[ref.Abbrev] {
			t.Errorf("duplicate state %s", ref.Abbrev)
		}
		seen[ref.Abbrev] = true
		if ref.Region == "" || ref.Division == "" {
			t.Errorf("state %s missing region or division", ref.Abbrev)
		}
	}

	// 50 states, DC, and 8 territories.
	if len(stateReferences) != 59 {
		t.Errorf("reference set has %d entries, want 59", len(stateReferences))
	}

	checks := map[string]stateReference{
		"KY": {"KY", "South", "East South Central"},
		"CA": {"CA", "West", "Pacific"},
		"PR": {"PR", "Territory", "Territory"},
	}
	for _, ref := range stateReferences {
		if want, ok := checks[ref.Abbrev]; ok && ref != want {
			t.Errorf("state %s = %+v, want %+v", ref.Abbrev, ref, want)
		}
	}
}

func TestSeedCalendarBatchesInserts(t *testing.T) {
	// A multi-decade range seeded row by row is thousands of round
	// trips; the whole range here must land in a single statement.
	fake := &fakeDB{}
	db := fake.open()
	defer db.Close()

	resolver := NewDimensionResolver(date(2024, time.March, 1), date(2024, time.March, 10))
	if _, err := resolver.SeedCalendar(context.Background(), db); err != nil {
		t.Fatalf("SeedCalendar failed: %v", err)
	}

	inserts := fake.callsMatching("INSERT INTO dim_date")
	if len(inserts) != 1 {
		t.Fatalf("dim_date statements = %d, want one batched insert", len(inserts))
	}
	if got := strings.Count(inserts[0].query, "($"); got != 10 {
		t.Errorf("value tuples = %d, want 10", got)
	}
	if got := len(inserts[0].args); got != 100 {
		t.Errorf("bound args = %d, want 100", got)
	}
	if !strings.Contains(inserts[0].query, "ON CONFLICT (date_key) DO NOTHING") {
		t.Errorf("re-seeding must leave existing rows untouched, got %q", inserts[0].query)
	}
}
