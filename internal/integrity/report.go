package integrity

import (
	"fmt"
	"strings"

	"github.com/hyperengineering/watchsync/internal/model"
)

// Severity grades a structural finding.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Issue is one structural finding from a scan pass.
type Issue struct {
	Pass        string     `json:"pass"`
	Severity    Severity   `json:"severity"`
	EntityKind  model.Kind `json:"entity_kind,omitempty"`
	EntityID    string     `json:"entity_id,omitempty"`
	Description string     `json:"description"`
	AutoFixable bool       `json:"auto_fixable"`
	Fixed       bool       `json:"fixed"`
}

// Report aggregates the findings of one scan/repair run.
type Report struct {
	Issues []Issue `json:"issues"`
}

func (r *Report) add(i Issue) {
	r.Issues = append(r.Issues, i)
}

// Fixed counts issues that were repaired in place.
func (r *Report) Fixed() int {
	n := 0
	for _, i := range r.Issues {
		if i.Fixed {
			n++
		}
	}
	return n
}

// Unfixable counts issues that require user attention.
func (r *Report) Unfixable() int {
	n := 0
	for _, i := range r.Issues {
		if !i.AutoFixable {
			n++
		}
	}
	return n
}

// Clean reports whether the scan found nothing at all.
func (r *Report) Clean() bool {
	return len(r.Issues) == 0
}

// Summary renders a terminal-friendly aggregate: per-pass counts plus the
// fixed/attention totals.
func (r *Report) Summary() string {
	if r.Clean() {
		return "integrity scan: no issues found"
	}

	perPass := map[string]int{}
	order := []string{}
	for _, i := range r.Issues {
		if perPass[i.Pass] == 0 {
			order = append(order, i.Pass)
		}
		perPass[i.Pass]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "integrity scan: %d issue(s), %d repaired, %d need attention\n",
		len(r.Issues), r.Fixed(), r.Unfixable())
	for _, pass := range order {
		fmt.Fprintf(&b, "  %-12s %d\n", pass, perPass[pass])
	}
	return strings.TrimRight(b.String(), "\n")
}
