package etl

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// SizeThresholds bounds the project size buckets. Amounts at or below
// SmallMax are small, at or above LargeMin are large, everything between
// is medium.
type SizeThresholds struct {
	SmallMax float64
	LargeMin float64
}

// DefaultSizeThresholds returns the standard bucket bounds.
func DefaultSizeThresholds() SizeThresholds {
	return SizeThresholds{SmallMax: 10_000, LargeMin: 1_000_000}
}

// Bucket classifies a project amount into Small, Medium or Large.
func (t SizeThresholds) Bucket(amount float64) string {
	switch {
	case amount <= t.SmallMax:
		return "Small"
	case amount >= t.LargeMin:
		return "Large"
	default:
		return "Medium"
	}
}

// largeProjectCutoff marks the is_large_project flag on sample rows.
const largeProjectCutoff = 100_000

// GroupKey identifies one fact_disaster_metrics grouping.
type GroupKey struct {
	DisasterNumber int
	State          string
}

// MetricRow is one fully recomputed fact_disaster_metrics row.
type MetricRow struct {
	Group            GroupKey
	DeclarationDate  *time.Time
	TotalProjects    int
	TotalFunding     float64
	AvgProjectAmount float64
	MaxProjectAmount float64
	SmallProjects    int
	MediumProjects   int
	LargeProjects    int
}

// aggregateProjects recomputes the metric row for one grouping from all
// of its staging rows. The output is derived state only, never
// accumulated, so replaying a batch produces identical rows.
func aggregateProjects(key GroupKey, projects []*PublicAssistanceProject, thresholds SizeThresholds) MetricRow {
	row := MetricRow{Group: key}
	for _, p := range projects {
		row.TotalProjects++
		row.TotalFunding += p.ProjectAmount
		if p.ProjectAmount > row.MaxProjectAmount {
			row.MaxProjectAmount = p.ProjectAmount
		}
		if p.DeclarationDate != nil {
			if row.DeclarationDate == nil || p.DeclarationDate.Before(*row.DeclarationDate) {
				d := *p.DeclarationDate
				row.DeclarationDate = &d
			}
		}
		switch thresholds.Bucket(p.ProjectAmount) {
		case "Small":
			row.SmallProjects++
		case "Medium":
			row.MediumProjects++
		default:
			row.LargeProjects++
		}
	}
	if row.TotalProjects > 0 {
		row.AvgProjectAmount = row.TotalFunding / float64(row.TotalProjects)
	}
	return row
}

// FactBuilder incrementally recomputes the fact tables for the grouping
// keys a batch touched. Unaffected groupings are never written.
type FactBuilder struct {
	thresholds SizeThresholds
	resolver   *DimensionResolver

	affected map[GroupKey]bool
}

// NewFactBuilder creates a fact builder backed by the run's resolver.
func NewFactBuilder(resolver *DimensionResolver, thresholds SizeThresholds) *FactBuilder {
	return &FactBuilder{
		thresholds: thresholds,
		resolver:   resolver,
		affected:   make(map[GroupKey]bool),
	}
}

// Touch records that a changed project affects its grouping key.
func (b *FactBuilder) Touch(p *PublicAssistanceProject) {
	b.affected[GroupKey{DisasterNumber: p.DisasterNumber, State: p.StateAbbreviation}] = true
}

// AffectedKeys returns the touched grouping keys in deterministic order.
func (b *FactBuilder) AffectedKeys() []GroupKey {
	keys := make([]GroupKey, 0, len(b.affected))
	for k := range b.affected {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].DisasterNumber != keys[j].DisasterNumber {
			return keys[i].DisasterNumber < keys[j].DisasterNumber
		}
		return keys[i].State < keys[j].State
	})
	return keys
}

// RebuildMetrics re-reads every staging row for each affected grouping
// key, aggregates in memory and upserts the full metric row.
func (b *FactBuilder) RebuildMetrics(ctx context.Context, tx dbtx) (int, error) {
	rebuilt := 0
	for _, key := range b.AffectedKeys() {
		projects, err := loadGroupProjects(ctx, tx, key)
		if err != nil {
			return rebuilt, err
		}
		row := aggregateProjects(key, projects, b.thresholds)
		if err := b.upsertMetricRow(ctx, tx, row); err != nil {
			return rebuilt, err
		}
		rebuilt++
	}
	return rebuilt, nil
}

func loadGroupProjects(ctx context.Context, tx dbtx, key GroupKey) ([]*PublicAssistanceProject, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT pw_number, declaration_date, project_amount
		FROM public_assistance_projects
		WHERE disaster_number = $1 AND state_abbreviation = $2
		ORDER BY pw_number`,
		key.DisasterNumber, key.State,
	)
	if err != nil {
		return nil, fmt.Errorf("load group %d/%s: %w", key.DisasterNumber, key.State, err)
	}
	defer rows.Close()

	var projects []*PublicAssistanceProject
	for rows.Next() {
		p := &PublicAssistanceProject{DisasterNumber: key.DisasterNumber, StateAbbreviation: key.State}
		var declDate sql.NullTime
		var amount sql.NullFloat64
		if err := rows.Scan(&p.PWNumber, &declDate, &amount); err != nil {
			return nil, fmt.Errorf("scan group %d/%s: %w", key.DisasterNumber, key.State, err)
		}
		if declDate.Valid {
			d := declDate.Time
			p.DeclarationDate = &d
		}
		p.ProjectAmount = amount.Float64
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group %d/%s: %w", key.DisasterNumber, key.State, err)
	}
	return projects, nil
}

func (b *FactBuilder) upsertMetricRow(ctx context.Context, tx dbtx, row MetricRow) error {
	disasterKey, err := b.resolver.ResolveDisasterNumber(ctx, tx, row.Group.DisasterNumber)
	if err != nil {
		return err
	}
	locationKey, err := b.resolver.ResolveLocation(ctx, tx, row.Group.State)
	if err != nil {
		return err
	}
	var dateKey any
	if row.DeclarationDate != nil {
		k, err := b.resolver.ResolveDate(ctx, tx, *row.DeclarationDate)
		if err != nil {
			return err
		}
		dateKey = k
	}

	// The date key is derived (earliest declaration date of the group),
	// so a recomputation can move it. Drop any row this grouping left
	// under a previous date key before replacing it.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM fact_disaster_metrics
		WHERE disaster_key = $1 AND location_key = $2
		AND date_key IS DISTINCT FROM $3`,
		disasterKey, locationKey, dateKey,
	)
	if err != nil {
		return fmt.Errorf("clear stale metrics %d/%s: %w", row.Group.DisasterNumber, row.Group.State, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fact_disaster_metrics (
			disaster_key, location_key, date_key,
			total_projects, total_funding, avg_project_amount, max_project_amount,
			small_projects, medium_projects, large_projects, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (disaster_key, location_key, date_key) DO UPDATE SET
			total_projects = EXCLUDED.total_projects,
			total_funding = EXCLUDED.total_funding,
			avg_project_amount = EXCLUDED.avg_project_amount,
			max_project_amount = EXCLUDED.max_project_amount,
			small_projects = EXCLUDED.small_projects,
			medium_projects = EXCLUDED.medium_projects,
			large_projects = EXCLUDED.large_projects,
			last_updated = NOW()`,
		disasterKey, locationKey, dateKey,
		row.TotalProjects, row.TotalFunding, row.AvgProjectAmount, row.MaxProjectAmount,
		row.SmallProjects, row.MediumProjects, row.LargeProjects,
	)
	if err != nil {
		return fmt.Errorf("upsert metrics %d/%s: %w", row.Group.DisasterNumber, row.Group.State, err)
	}
	return nil
}

// sampleProjectID builds the fact_project_samples primary key.
func sampleProjectID(p *PublicAssistanceProject) string {
	return fmt.Sprintf("%d-%s", p.DisasterNumber, p.PWNumber)
}

// UpsertSample writes one fact_project_samples row for a changed project.
func (b *FactBuilder) UpsertSample(ctx context.Context, tx dbtx, p *PublicAssistanceProject) error {
	disasterKey, err := b.resolver.ResolveDisasterNumber(ctx, tx, p.DisasterNumber)
	if err != nil {
		return err
	}
	locationKey, err := b.resolver.ResolveLocation(ctx, tx, p.StateAbbreviation)
	if err != nil {
		return err
	}
	var dateKey any
	if p.DeclarationDate != nil {
		k, err := b.resolver.ResolveDate(ctx, tx, *p.DeclarationDate)
		if err != nil {
			return err
		}
		dateKey = k
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fact_project_samples (
			project_id, disaster_key, location_key, date_key,
			project_amount, damage_category, project_size,
			is_large_project, amount_category, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (project_id) DO UPDATE SET
			disaster_key = EXCLUDED.disaster_key,
			location_key = EXCLUDED.location_key,
			date_key = EXCLUDED.date_key,
			project_amount = EXCLUDED.project_amount,
			damage_category = EXCLUDED.damage_category,
			project_size = EXCLUDED.project_size,
			is_large_project = EXCLUDED.is_large_project,
			amount_category = EXCLUDED.amount_category,
			last_updated = NOW()`,
		sampleProjectID(p), disasterKey, locationKey, dateKey,
		p.ProjectAmount, nullIfEmpty(p.DamageCategoryDescrip), nullIfEmpty(p.ProjectSize),
		p.ProjectAmount > largeProjectCutoff, b.thresholds.Bucket(p.ProjectAmount),
	)
	if err != nil {
		return fmt.Errorf("upsert sample %s: %w", sampleProjectID(p), err)
	}
	return nil
}
