package etl

import (
	"context"
	"database/sql"
	"time"
)

// Process names tracked in etl_control. Each owns a disjoint staging
// table; both write into the shared dimension tables.
const (
	ProcessDeclarations = "declarations"
	ProcessProjects     = "public_assistance_projects"
)

// RawRecord is a single undecoded source record as returned by the feed.
type RawRecord map[string]any

// dbtx is the subset of database/sql operations the engine components
// need, satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Declaration is a staged disaster declaration, one row per disaster number.
type Declaration struct {
	DisasterNumber    int
	DeclarationType   string
	DeclarationDate   *time.Time
	State             string
	StateName         string
	CountyName        string
	IncidentType      string
	DeclarationTitle  string
	FYDeclared        int
	ProjectAmount     float64
	IHProgramDeclared bool
	IAProgramDeclared bool
	PAProgramDeclared bool
	HMProgramDeclared bool
	HashValue         string
}

// PublicAssistanceProject is a staged funded project, keyed by
// (disaster number, project-worksheet number).
type PublicAssistanceProject struct {
	DisasterNumber        int
	PWNumber              string
	DeclarationDate       *time.Time
	IncidentType          string
	ApplicationTitle      string
	ApplicantID           string
	DamageCategoryCode    string
	DamageCategoryDescrip string
	ProjectStatus         string
	ProjectProcessStep    string
	ProjectSize           string
	County                string
	CountyCode            string
	StateAbbreviation     string
	StateNumberCode       string
	ProjectAmount         float64
	FederalShareObligated float64
	TotalObligated        float64
	MitigationAmount      float64
	LastObligationDate    *time.Time
	FirstObligationDate   *time.Time
	GMProjectID           string
	GMApplicantID         string
	HashValue             string
}

// ChangeKind classifies an incoming record against the stored hash.
type ChangeKind int

const (
	ChangeNew ChangeKind = iota
	ChangeChanged
	ChangeUnchanged
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNew:
		return "NEW"
	case ChangeChanged:
		return "CHANGED"
	case ChangeUnchanged:
		return "UNCHANGED"
	default:
		return "UNKNOWN"
	}
}

// RunSummary is the user-visible outcome of a single ETL run.
type RunSummary struct {
	RunID      string
	Process    string
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	New        int
	Changed    int
	Unchanged  int
	Skipped    int
	LastOffset int
	Status     string
	Err        error
}

// Processed is the number of records written to staging in this run.
func (s *RunSummary) Processed() int {
	return s.New + s.Changed
}
