package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetails_Merge(t *testing.T) {
	t.Run("upserts findings by rule and location", func(t *testing.T) {
		d := Details{
			Findings: []Finding{
				{RuleID: "CVE-2024-0001", Severity: "HIGH", Location: "pkg/libssl"},
				{RuleID: "G101", Severity: "MEDIUM", Location: "config.go:14"},
			},
		}

		d.Merge(Details{
			Findings: []Finding{
				// Same key: replaces the earlier entry.
				{RuleID: "CVE-2024-0001", Severity: "CRITICAL", Location: "pkg/libssl"},
				// Same rule, different location: new entry.
				{RuleID: "G101", Severity: "MEDIUM", Location: "main.go:7"},
			},
		})

		assert.Len(t, d.Findings, 3)
		assert.Equal(t, "CRITICAL", d.Findings[0].Severity)
		assert.Equal(t, "main.go:7", d.Findings[2].Location)
	})

	t.Run("deduplicates log lines verbatim", func(t *testing.T) {
		d := Details{Logs: []string{"stage build started", "stage build done"}}

		d.Merge(Details{Logs: []string{"stage build done", "stage scan started"}})

		assert.Equal(t, []string{
			"stage build started",
			"stage build done",
			"stage scan started",
		}, d.Logs)
	})

	t.Run("redelivery of an identical payload is a no-op", func(t *testing.T) {
		delivery := Details{
			Findings: []Finding{{RuleID: "CVE-2024-0002", Severity: "LOW", Location: "go.sum"}},
			Logs:     []string{"scan complete"},
		}

		var d Details
		d.Merge(delivery)
		d.Merge(delivery)

		assert.Len(t, d.Findings, 1)
		assert.Len(t, d.Logs, 1)
	})

	t.Run("empty delivery leaves blob untouched", func(t *testing.T) {
		d := Details{
			Findings: []Finding{{RuleID: "G204", Location: "exec.go:9"}},
			Logs:     []string{"line"},
		}

		d.Merge(Details{})

		assert.Len(t, d.Findings, 1)
		assert.Len(t, d.Logs, 1)
	})
}

func TestFinding_Key(t *testing.T) {
	a := Finding{RuleID: "G101", Location: "a.go"}
	b := Finding{RuleID: "G101", Location: "b.go"}
	c := Finding{RuleID: "G101", Location: "a.go", Severity: "HIGH"}

	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, a.Key(), c.Key())
}

func TestDetails_IsEmpty(t *testing.T) {
	assert.True(t, Details{}.IsEmpty())
	assert.False(t, Details{Logs: []string{"x"}}.IsEmpty())
	assert.False(t, Details{Findings: []Finding{{RuleID: "r"}}}.IsEmpty())
}

func TestDiffFindings(t *testing.T) {
	g101 := Finding{RuleID: "G101", Location: "a.go"}
	g204 := Finding{RuleID: "G204", Location: "exec.go:9"}
	g304 := Finding{RuleID: "G304", Location: "read.go:3"}

	t.Run("splits into new and fixed by key", func(t *testing.T) {
		diff := DiffFindings(
			Details{Findings: []Finding{g204, g304}},
			Details{Findings: []Finding{g101, g204}},
		)

		assert.Equal(t, []Finding{g304}, diff.New)
		assert.Equal(t, []Finding{g101}, diff.Fixed)
	})

	t.Run("same location under a new rule counts as new", func(t *testing.T) {
		moved := Finding{RuleID: "G102", Location: "a.go"}
		diff := DiffFindings(
			Details{Findings: []Finding{moved}},
			Details{Findings: []Finding{g101}},
		)

		assert.Equal(t, []Finding{moved}, diff.New)
		assert.Equal(t, []Finding{g101}, diff.Fixed)
	})

	t.Run("identical blobs diff to empty lists", func(t *testing.T) {
		diff := DiffFindings(
			Details{Findings: []Finding{g101}},
			Details{Findings: []Finding{g101}},
		)

		assert.Empty(t, diff.New)
		assert.Empty(t, diff.Fixed)
		assert.NotNil(t, diff.New)
		assert.NotNil(t, diff.Fixed)
	})
}
