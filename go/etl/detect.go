package etl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ChangeDetector classifies incoming records against the hashes already
// stored in staging. Each classification is a single keyed lookup.
type ChangeDetector struct{}

// NewChangeDetector creates a change detector
func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{}
}

// classify is the pure classification rule: no prior row means NEW, a
// differing digest means CHANGED, an identical digest means UNCHANGED.
func classify(priorHash string, found bool, currentHash string) ChangeKind {
	if !found {
		return ChangeNew
	}
	if priorHash != currentHash {
		return ChangeChanged
	}
	return ChangeUnchanged
}

// ClassifyDeclaration compares a declaration's digest with the stored row.
func (d *ChangeDetector) ClassifyDeclaration(ctx context.Context, tx dbtx, dec *Declaration) (ChangeKind, error) {
	var prior string
	err := tx.QueryRowContext(ctx,
		`SELECT hash_value FROM declarations WHERE disaster_number = $1`,
		dec.DisasterNumber,
	).Scan(&prior)
	if errors.Is(err, sql.ErrNoRows) {
		return ChangeNew, nil
	}
	if err != nil {
		return ChangeUnchanged, fmt.Errorf("lookup declaration %d: %w", dec.DisasterNumber, err)
	}
	return classify(prior, true, dec.HashValue), nil
}

// ClassifyProject compares a project's digest with the stored row.
func (d *ChangeDetector) ClassifyProject(ctx context.Context, tx dbtx, p *PublicAssistanceProject) (ChangeKind, error) {
	var prior string
	err := tx.QueryRowContext(ctx,
		`SELECT hash_value FROM public_assistance_projects WHERE disaster_number = $1 AND pw_number = $2`,
		p.DisasterNumber, p.PWNumber,
	).Scan(&prior)
	if errors.Is(err, sql.ErrNoRows) {
		return ChangeNew, nil
	}
	if err != nil {
		return ChangeUnchanged, fmt.Errorf("lookup project %d/%s: %w", p.DisasterNumber, p.PWNumber, err)
	}
	return classify(prior, true, p.HashValue), nil
}
