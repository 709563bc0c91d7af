package etl

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// fieldMaxLengths mirrors the column widths of the staging tables so
// over-long source strings are truncated rather than rejected.
var fieldMaxLengths = map[string]int{
	"incident_type":           100,
	"pw_number":               50,
	"application_title":       500,
	"applicant_id":            50,
	"damage_category_code":    10,
	"damage_category_descrip": 255,
	"project_status":          50,
	"project_process_step":    100,
	"project_size":            50,
	"county":                  100,
	"county_code":             10,
	"state_abbreviation":      10,
	"state_number_code":       10,
	"gm_project_id":           50,
	"gm_applicant_id":         50,
	"declaration_title":       255,
	"state_name":              100,
	"county_name":             100,
}

var dateLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDeclaration canonicalizes a raw declarations-feed record. A
// missing or invalid disaster number is a MalformedRecordError; all
// other fields degrade to zero values.
func ParseDeclaration(raw RawRecord) (*Declaration, error) {
	number, ok := intField(raw, "disasterNumber")
	if !ok || number <= 0 {
		return nil, &MalformedRecordError{Dataset: ProcessDeclarations, Reason: "missing disasterNumber"}
	}

	d := &Declaration{
		DisasterNumber:    number,
		DeclarationType:   stringField(raw, "declarationType", ""),
		DeclarationDate:   dateField(raw, "declarationDate"),
		State:             stringField(raw, "state", "state_abbreviation"),
		StateName:         stringField(raw, "stateName", "state_name"),
		CountyName:        stringField(raw, "countyName", "county_name"),
		IncidentType:      stringField(raw, "incidentType", "incident_type"),
		DeclarationTitle:  stringField(raw, "declarationTitle", "declaration_title"),
		ProjectAmount:     floatField(raw, "projectAmount"),
		IHProgramDeclared: boolField(raw, "ihProgramDeclared"),
		IAProgramDeclared: boolField(raw, "iaProgramDeclared"),
		PAProgramDeclared: boolField(raw, "paProgramDeclared"),
		HMProgramDeclared: boolField(raw, "hmProgramDeclared"),
	}
	if fy, ok := intField(raw, "fyDeclared"); ok {
		d.FYDeclared = fy
	}
	d.HashValue = contentHash(d.canonical())
	return d, nil
}

// ParseProject canonicalizes a raw public-assistance record. The
// composite natural key (disasterNumber, pwNumber) is required; a
// project without amounts still stages with zeroed monetary fields.
func ParseProject(raw RawRecord) (*PublicAssistanceProject, error) {
	number, ok := intField(raw, "disasterNumber")
	if !ok || number <= 0 {
		return nil, &MalformedRecordError{Dataset: ProcessProjects, Reason: "missing disasterNumber"}
	}
	pw := stringField(raw, "pwNumber", "pw_number")
	if pw == "" {
		return nil, &MalformedRecordError{Dataset: ProcessProjects, Reason: "missing pwNumber"}
	}

	p := &PublicAssistanceProject{
		DisasterNumber:        number,
		PWNumber:              pw,
		DeclarationDate:       dateField(raw, "declarationDate"),
		IncidentType:          stringField(raw, "incidentType", "incident_type"),
		ApplicationTitle:      stringField(raw, "applicationTitle", "application_title"),
		ApplicantID:           stringField(raw, "applicantId", "applicant_id"),
		DamageCategoryCode:    stringField(raw, "damageCategoryCode", "damage_category_code"),
		DamageCategoryDescrip: stringField(raw, "damageCategoryDescrip", "damage_category_descrip"),
		ProjectStatus:         stringField(raw, "projectStatus", "project_status"),
		ProjectProcessStep:    stringField(raw, "projectProcessStep", "project_process_step"),
		ProjectSize:           stringField(raw, "projectSize", "project_size"),
		County:                stringField(raw, "county", "county"),
		CountyCode:            stringField(raw, "countyCode", "county_code"),
		StateAbbreviation:     stringField(raw, "stateAbbreviation", "state_abbreviation"),
		StateNumberCode:       stringField(raw, "stateNumberCode", "state_number_code"),
		ProjectAmount:         floatField(raw, "projectAmount"),
		FederalShareObligated: floatField(raw, "federalShareObligated"),
		TotalObligated:        floatField(raw, "totalObligated"),
		MitigationAmount:      floatField(raw, "mitigationAmount"),
		LastObligationDate:    dateField(raw, "lastObligationDate"),
		FirstObligationDate:   dateField(raw, "firstObligationDate"),
		GMProjectID:           stringField(raw, "gmProjectId", "gm_project_id"),
		GMApplicantID:         stringField(raw, "gmApplicantId", "gm_applicant_id"),
	}
	p.HashValue = contentHash(p.canonical())
	return p, nil
}

// canonical builds the stable field map hashed for change detection.
// Volatile source fields (lastRefresh, id, the feed's own hash) are
// deliberately excluded.
func (d *Declaration) canonical() map[string]string {
	return map[string]string{
		"disaster_number":     strconv.Itoa(d.DisasterNumber),
		"declaration_type":    d.DeclarationType,
		"declaration_date":    canonicalDate(d.DeclarationDate),
		"state":               d.State,
		"state_name":          d.StateName,
		"county_name":         d.CountyName,
		"incident_type":       d.IncidentType,
		"declaration_title":   d.DeclarationTitle,
		"fy_declared":         strconv.Itoa(d.FYDeclared),
		"project_amount":      canonicalAmount(d.ProjectAmount),
		"ih_program_declared": strconv.FormatBool(d.IHProgramDeclared),
		"ia_program_declared": strconv.FormatBool(d.IAProgramDeclared),
		"pa_program_declared": strconv.FormatBool(d.PAProgramDeclared),
		"hm_program_declared": strconv.FormatBool(d.HMProgramDeclared),
	}
}

func (p *PublicAssistanceProject) canonical() map[string]string {
	return map[string]string{
		"disaster_number":         strconv.Itoa(p.DisasterNumber),
		"pw_number":               p.PWNumber,
		"declaration_date":        canonicalDate(p.DeclarationDate),
		"incident_type":           p.IncidentType,
		"application_title":       p.ApplicationTitle,
		"applicant_id":            p.ApplicantID,
		"damage_category_code":    p.DamageCategoryCode,
		"damage_category_descrip": p.DamageCategoryDescrip,
		"project_status":          p.ProjectStatus,
		"project_process_step":    p.ProjectProcessStep,
		"project_size":            p.ProjectSize,
		"county":                  p.County,
		"county_code":             p.CountyCode,
		"state_abbreviation":      p.StateAbbreviation,
		"state_number_code":       p.StateNumberCode,
		"project_amount":          canonicalAmount(p.ProjectAmount),
		"federal_share_obligated": canonicalAmount(p.FederalShareObligated),
		"total_obligated":         canonicalAmount(p.TotalObligated),
		"mitigation_amount":       canonicalAmount(p.MitigationAmount),
		"last_obligation_date":    canonicalDate(p.LastObligationDate),
		"first_obligation_date":   canonicalDate(p.FirstObligationDate),
		"gm_project_id":           p.GMProjectID,
		"gm_applicant_id":         p.GMApplicantID,
	}
}

func canonicalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func canonicalAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// stringField reads a string value with optional truncation to the
// staging column width. snakeKey selects the width entry; pass "" for
// fields without a configured maximum.
func stringField(raw RawRecord, key, snakeKey string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}

	var s string
	switch val := v.(type) {
	case string:
		s = strings.TrimSpace(val)
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(val)
	default:
		s = strings.TrimSpace(fmt.Sprintf("%v", val))
	}

	// Source sentinels for missing data
	switch s {
	case "NaT", "nan", "None", "null":
		return ""
	}

	if max, ok := fieldMaxLengths[snakeKey]; ok && len(s) > max {
		// Cut on a rune boundary so a multi-byte character is never
		// split; Postgres rejects invalid UTF-8 outright.
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

func intField(raw RawRecord, key string) (int, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return int(val), true
	case int:
		return val, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// floatField coerces a numeric value, treating missing or unparseable
// amounts as zero so a project without amounts still stages.
func floatField(raw RawRecord, key string) float64 {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0
	}
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// boolField coerces program flags, which the feed serves either as JSON
// booleans or as "Y"/"N" markers.
func boolField(raw RawRecord, key string) bool {
	v, ok := raw[key]
	if !ok || v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.TrimSpace(strings.ToUpper(val)) {
		case "Y", "YES", "TRUE", "1":
			return true
		}
		return false
	case float64:
		return val != 0
	default:
		return false
	}
}

func dateField(raw RawRecord, key string) *time.Time {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "NaT" || s == "None" || s == "null" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
