package scanners

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// QualityWeights weight the four quality dimensions.
type QualityWeights struct {
	Completeness float64
	Consistency  float64
	Outliers     float64
	Uniqueness   float64
}

// QualityScanner grades structured data (JSON records, CSV) or free text
// on completeness, consistency, outliers and uniqueness.
type QualityScanner struct {
	weights   QualityWeights
	Threshold float64
}

// NewQualityScanner creates a scanner that flags input grading below B.
func NewQualityScanner() *QualityScanner {
	return &QualityScanner{
		weights:   QualityWeights{Completeness: 0.3, Consistency: 0.25, Outliers: 0.2, Uniqueness: 0.25},
		Threshold: 0.8,
	}
}

// Name returns the scanner name.
func (s *QualityScanner) Name() string {
	return "data_quality"
}

// QualityReport holds the per-dimension scores.
type QualityReport struct {
	Format       string   `json:"format"`
	Rows         int      `json:"rows"`
	Columns      int      `json:"columns"`
	Completeness float64  `json:"completeness"`
	Consistency  float64  `json:"consistency"`
	OutlierRate  float64  `json:"outlier_rate"`
	Uniqueness   float64  `json:"uniqueness"`
	Overall      float64  `json:"overall"`
	Grade        string   `json:"grade"`
	Issues       []string `json:"issues"`
}

// table is the parsed form of the input. Missing cells are "".
type table struct {
	format  string
	columns []string
	rows    [][]string
}

// Evaluate computes the quality report.
func (s *QualityScanner) Evaluate(input string) QualityReport {
	t := parseTable(input)

	r := QualityReport{Format: t.format, Rows: len(t.rows), Columns: len(t.columns)}
	if t.format == "text" {
		r.Completeness = textCompleteness(input)
		r.Consistency = printableRatio(input)
	} else {
		r.Completeness = t.completeness()
		r.Consistency = t.consistency()
	}
	r.OutlierRate = t.outlierRate()
	r.Uniqueness = t.uniqueness()

	w := s.weights
	r.Overall = clampScore(w.Completeness*r.Completeness +
		w.Consistency*r.Consistency +
		w.Outliers*(1-r.OutlierRate) +
		w.Uniqueness*r.Uniqueness)
	r.Grade = qualityGrade(r.Overall)

	r.Issues = []string{}
	if r.Completeness < 0.9 {
		r.Issues = append(r.Issues, "missing data")
	}
	if r.Consistency < 0.8 {
		r.Issues = append(r.Issues, "inconsistency")
	}
	if r.OutlierRate > 0.1 {
		r.Issues = append(r.Issues, "outliers")
	}
	if r.Uniqueness < 0.95 {
		r.Issues = append(r.Issues, "duplicates")
	}
	return r
}

// Assess flags input whose overall quality is below the Threshold; the
// score is the quality shortfall.
func (s *QualityScanner) Assess(input string) Assessment {
	r := s.Evaluate(input)

	var findings []Finding
	for _, issue := range r.Issues {
		findings = append(findings, Finding{
			Type:       strings.ReplaceAll(issue, " ", "_"),
			Category:   "data_quality",
			Severity:   "low",
			Confidence: 1 - r.Overall,
			Message:    qualityMessage(issue, r),
		})
	}

	positive := r.Overall < s.Threshold
	label := "Grade " + r.Grade
	return Assessment{
		Label:    label,
		Positive: positive,
		Score:    1 - r.Overall,
		Findings: findings,
		Detail: map[string]any{
			"quality": r,
		},
	}
}

func qualityMessage(issue string, r QualityReport) string {
	switch issue {
	case "missing data":
		return fmt.Sprintf("Missing data (%.0f%% complete)", r.Completeness*100)
	case "inconsistency":
		return fmt.Sprintf("Inconsistent values (%.0f%% consistent)", r.Consistency*100)
	case "outliers":
		return fmt.Sprintf("Outliers in %.0f%% of numeric values", r.OutlierRate*100)
	case "duplicates":
		return fmt.Sprintf("Duplicate records (%.0f%% unique)", r.Uniqueness*100)
	default:
		return issue
	}
}

func qualityGrade(score float64) string {
	switch {
	case score >= 0.95:
		return "A"
	case score >= 0.8:
		return "B"
	case score >= 0.7:
		return "C"
	case score >= 0.5:
		return "D"
	default:
		return "F"
	}
}

func parseTable(input string) table {
	trimmed := strings.TrimSpace(input)

	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		if t, ok := parseJSONTable(trimmed); ok {
			return t
		}
	}
	if t, ok := parseCSVTable(trimmed); ok {
		return t
	}

	t := table{format: "text", columns: []string{"line"}}
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			t.rows = append(t.rows, []string{line})
		}
	}
	return t
}

func parseJSONTable(input string) (table, bool) {
	var records []map[string]any
	if err := json.Unmarshal([]byte(input), &records); err != nil {
		var single map[string]any
		if err := json.Unmarshal([]byte(input), &single); err != nil {
			return table{}, false
		}
		records = []map[string]any{single}
	}
	if len(records) == 0 {
		return table{}, false
	}

	keys := map[string]struct{}{}
	for _, rec := range records {
		for k := range rec {
			keys[k] = struct{}{}
		}
	}
	t := table{format: "json"}
	for k := range keys {
		t.columns = append(t.columns, k)
	}
	sort.Strings(t.columns)

	for _, rec := range records {
		row := make([]string, len(t.columns))
		for i, col := range t.columns {
			row[i] = jsonCell(rec[col])
		}
		t.rows = append(t.rows, row)
	}
	return t, true
}

func jsonCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

func parseCSVTable(input string) (table, bool) {
	lines := strings.Count(input, "\n") + 1
	if lines < 2 || !strings.Contains(strings.SplitN(input, "\n", 2)[0], ",") {
		return table{}, false
	}

	r := csv.NewReader(strings.NewReader(input))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil || len(records) < 3 || len(records[0]) < 2 {
		return table{}, false
	}

	// prose with a comma in its first line is not a table
	aligned := 0
	for _, rec := range records[1:] {
		if len(rec) == len(records[0]) {
			aligned++
		}
	}
	if float64(aligned) < 0.8*float64(len(records)-1) {
		return table{}, false
	}

	t := table{format: "csv", columns: records[0]}
	for _, rec := range records[1:] {
		row := make([]string, len(t.columns))
		for i := range t.columns {
			if i < len(rec) {
				row[i] = strings.TrimSpace(rec[i])
			}
		}
		t.rows = append(t.rows, row)
	}
	return t, true
}

func (t table) completeness() float64 {
	total, missing := 0, 0
	for _, row := range t.rows {
		for _, cell := range row {
			total++
			if isMissing(cell) {
				missing++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return 1 - float64(missing)/float64(total)
}

func isMissing(cell string) bool {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "", "null", "none", "nan", "n/a":
		return true
	}
	return false
}

// consistency averages per-column type uniformity: a column mixing
// numbers, booleans and strings scores 0.7.
func (t table) consistency() float64 {
	if len(t.columns) == 0 {
		return 1
	}
	sum := 0.0
	for i := range t.columns {
		kinds := map[string]struct{}{}
		for _, row := range t.rows {
			if isMissing(row[i]) {
				continue
			}
			kinds[cellKind(row[i])] = struct{}{}
		}
		if len(kinds) <= 1 {
			sum += 1
		} else {
			sum += 0.7
		}
	}
	return sum / float64(len(t.columns))
}

func cellKind(cell string) string {
	if _, err := strconv.ParseFloat(cell, 64); err == nil {
		return "number"
	}
	if _, err := strconv.ParseBool(cell); err == nil {
		return "bool"
	}
	return "string"
}

// outlierRate is the mean fraction of values outside 1.5 IQR over numeric
// columns with at least four values. Text rows use line length.
func (t table) outlierRate() float64 {
	var rates []float64
	for i := range t.columns {
		var values []float64
		for _, row := range t.rows {
			if t.format == "text" {
				values = append(values, float64(len([]rune(row[i]))))
				continue
			}
			if v, err := strconv.ParseFloat(row[i], 64); err == nil {
				values = append(values, v)
			}
		}
		if len(values) < 4 {
			continue
		}
		sort.Float64s(values)
		q1, q3 := quantile(values, 0.25), quantile(values, 0.75)
		iqr := q3 - q1
		lo, hi := q1-1.5*iqr, q3+1.5*iqr
		n := 0
		for _, v := range values {
			if v < lo || v > hi {
				n++
			}
		}
		rates = append(rates, float64(n)/float64(len(values)))
	}
	if len(rates) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range rates {
		sum += r
	}
	return sum / float64(len(rates))
}

// quantile uses linear interpolation over sorted values.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func (t table) uniqueness() float64 {
	if len(t.rows) == 0 {
		return 1
	}
	seen := make(map[string]struct{}, len(t.rows))
	for _, row := range t.rows {
		seen[strings.Join(row, "\x1f")] = struct{}{}
	}
	return float64(len(seen)) / float64(len(t.rows))
}

// textCompleteness treats text that is mostly whitespace as incomplete.
func textCompleteness(s string) float64 {
	total, content := 0, 0
	for _, r := range s {
		total++
		if !unicode.IsSpace(r) {
			content++
		}
	}
	if total == 0 {
		return 0
	}
	return min(1, 4*float64(content)/float64(total))
}

// printableRatio is the share of runes that are printable or whitespace;
// U+FFFD from failed decoding counts against it.
func printableRatio(s string) float64 {
	total, good := 0, 0
	for _, r := range s {
		total++
		if r != unicode.ReplacementChar && (unicode.IsPrint(r) || unicode.IsSpace(r)) {
			good++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(good) / float64(total)
}
