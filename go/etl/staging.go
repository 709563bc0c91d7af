package etl

import (
	"context"
	"fmt"
)

// StagingLoader upserts NEW/CHANGED records into the staging tables,
// keyed on their natural keys. Re-running the same batch leaves the
// final state unchanged.
type StagingLoader struct{}

// NewStagingLoader creates a staging loader
func NewStagingLoader() *StagingLoader {
	return &StagingLoader{}
}

// UpsertDeclaration writes one declaration row, overwriting the mutable
// attribute set and refreshing hash and timestamps on conflict.
func (l *StagingLoader) UpsertDeclaration(ctx context.Context, tx dbtx, d *Declaration) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO declarations (
			disaster_number, declaration_type, declaration_date,
			state, state_name, county_name, incident_type, declaration_title,
			fy_declared, project_amount,
			ih_program_declared, ia_program_declared, pa_program_declared, hm_program_declared,
			hash_value, last_refresh, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		ON CONFLICT (disaster_number) DO UPDATE SET
			declaration_type = EXCLUDED.declaration_type,
			declaration_date = EXCLUDED.declaration_date,
			state = EXCLUDED.state,
			state_name = EXCLUDED.state_name,
			county_name = EXCLUDED.county_name,
			incident_type = EXCLUDED.incident_type,
			declaration_title = EXCLUDED.declaration_title,
			fy_declared = EXCLUDED.fy_declared,
			project_amount = EXCLUDED.project_amount,
			ih_program_declared = EXCLUDED.ih_program_declared,
			ia_program_declared = EXCLUDED.ia_program_declared,
			pa_program_declared = EXCLUDED.pa_program_declared,
			hm_program_declared = EXCLUDED.hm_program_declared,
			hash_value = EXCLUDED.hash_value,
			last_refresh = NOW(),
			updated_at = NOW()`,
		d.DisasterNumber, nullIfEmpty(d.DeclarationType), d.DeclarationDate,
		nullIfEmpty(d.State), nullIfEmpty(d.StateName), nullIfEmpty(d.CountyName),
		nullIfEmpty(d.IncidentType), nullIfEmpty(d.DeclarationTitle),
		d.FYDeclared, d.ProjectAmount,
		d.IHProgramDeclared, d.IAProgramDeclared, d.PAProgramDeclared, d.HMProgramDeclared,
		d.HashValue,
	)
	if err != nil {
		return fmt.Errorf("upsert declaration %d: %w", d.DisasterNumber, err)
	}
	return nil
}

// UpsertProject writes one public-assistance project row keyed on
// (disaster_number, pw_number).
func (l *StagingLoader) UpsertProject(ctx context.Context, tx dbtx, p *PublicAssistanceProject) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO public_assistance_projects (
			disaster_number, pw_number, declaration_date, incident_type,
			application_title, applicant_id, damage_category_code, damage_category_descrip,
			project_status, project_process_step, project_size,
			county, county_code, state_abbreviation, state_number_code,
			project_amount, federal_share_obligated, total_obligated, mitigation_amount,
			last_obligation_date, first_obligation_date,
			gm_project_id, gm_applicant_id,
			hash_value, last_refresh, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, NOW(), NOW()
		)
		ON CONFLICT (disaster_number, pw_number) DO UPDATE SET
			declaration_date = EXCLUDED.declaration_date,
			incident_type = EXCLUDED.incident_type,
			application_title = EXCLUDED.application_title,
			applicant_id = EXCLUDED.applicant_id,
			damage_category_code = EXCLUDED.damage_category_code,
			damage_category_descrip = EXCLUDED.damage_category_descrip,
			project_status = EXCLUDED.project_status,
			project_process_step = EXCLUDED.project_process_step,
			project_size = EXCLUDED.project_size,
			county = EXCLUDED.county,
			county_code = EXCLUDED.county_code,
			state_abbreviation = EXCLUDED.state_abbreviation,
			state_number_code = EXCLUDED.state_number_code,
			project_amount = EXCLUDED.project_amount,
			federal_share_obligated = EXCLUDED.federal_share_obligated,
			total_obligated = EXCLUDED.total_obligated,
			mitigation_amount = EXCLUDED.mitigation_amount,
			last_obligation_date = EXCLUDED.last_obligation_date,
			first_obligation_date = EXCLUDED.first_obligation_date,
			gm_project_id = EXCLUDED.gm_project_id,
			gm_applicant_id = EXCLUDED.gm_applicant_id,
			hash_value = EXCLUDED.hash_value,
			last_refresh = NOW(),
			updated_at = NOW()`,
		p.DisasterNumber, p.PWNumber, p.DeclarationDate, nullIfEmpty(p.IncidentType),
		nullIfEmpty(p.ApplicationTitle), nullIfEmpty(p.ApplicantID),
		nullIfEmpty(p.DamageCategoryCode), nullIfEmpty(p.DamageCategoryDescrip),
		nullIfEmpty(p.ProjectStatus), nullIfEmpty(p.ProjectProcessStep), nullIfEmpty(p.ProjectSize),
		nullIfEmpty(p.County), nullIfEmpty(p.CountyCode),
		nullIfEmpty(p.StateAbbreviation), nullIfEmpty(p.StateNumberCode),
		p.ProjectAmount, p.FederalShareObligated, p.TotalObligated, p.MitigationAmount,
		p.LastObligationDate, p.FirstObligationDate,
		nullIfEmpty(p.GMProjectID), nullIfEmpty(p.GMApplicantID),
		p.HashValue,
	)
	if err != nil {
		return fmt.Errorf("upsert project %d/%s: %w", p.DisasterNumber, p.PWNumber, err)
	}
	return nil
}

// nullIfEmpty maps empty strings to SQL NULL so cleaned-out source
// sentinels do not land as empty text.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
