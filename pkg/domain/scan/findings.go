package scan

// Finding is a single scanner result delivered by the CI pipeline.
// Findings are identified by the (RuleID, Location) composite so that
// repeated or overlapping webhook deliveries upsert instead of
// duplicating rows in the blob.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Severity    string `json:"severity,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}

// Key returns the merge key for a finding.
func (f Finding) Key() string {
	return f.RuleID + "\x00" + f.Location
}

// Details is the merged findings-and-logs blob persisted on a scan
// record. A multi-stage pipeline delivers it incrementally; Merge folds
// each partial delivery into the existing blob.
type Details struct {
	Findings []Finding `json:"findings"`
	Logs     []string  `json:"logs"`
}

// Merge folds a partial delivery into the blob. Findings are upserted
// by (rule id, location); a later delivery for the same key replaces
// the earlier entry. Log lines already present verbatim are skipped so
// webhook redelivery does not grow the blob.
func (d *Details) Merge(delivery Details) {
	if len(delivery.Findings) > 0 {
		index := make(map[string]int, len(d.Findings))
		for i, f := range d.Findings {
			index[f.Key()] = i
		}
		for _, f := range delivery.Findings {
			if i, ok := index[f.Key()]; ok {
				d.Findings[i] = f
				continue
			}
			index[f.Key()] = len(d.Findings)
			d.Findings = append(d.Findings, f)
		}
	}

	if len(delivery.Logs) > 0 {
		seen := make(map[string]bool, len(d.Logs))
		for _, line := range d.Logs {
			seen[line] = true
		}
		for _, line := range delivery.Logs {
			if seen[line] {
				continue
			}
			seen[line] = true
			d.Logs = append(d.Logs, line)
		}
	}
}

// IsEmpty reports whether the blob carries no findings and no logs.
func (d Details) IsEmpty() bool {
	return len(d.Findings) == 0 && len(d.Logs) == 0
}

// FindingsDiff is the set difference between two findings blobs,
// keyed by (rule id, location).
type FindingsDiff struct {
	New   []Finding `json:"new"`
	Fixed []Finding `json:"fixed"`
}

// DiffFindings compares the current blob against the previous one.
// New collects findings present now but not before, Fixed the ones
// that disappeared. Both sides keep delivery order.
func DiffFindings(current, previous Details) FindingsDiff {
	prev := make(map[string]bool, len(previous.Findings))
	for _, f := range previous.Findings {
		prev[f.Key()] = true
	}
	cur := make(map[string]bool, len(current.Findings))
	for _, f := range current.Findings {
		cur[f.Key()] = true
	}

	diff := FindingsDiff{New: []Finding{}, Fixed: []Finding{}}
	for _, f := range current.Findings {
		if !prev[f.Key()] {
			diff.New = append(diff.New, f)
		}
	}
	for _, f := range previous.Findings {
		if !cur[f.Key()] {
			diff.Fixed = append(diff.Fixed, f)
		}
	}
	return diff
}
