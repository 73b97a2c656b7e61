// Package analyzer runs deterministic static analysis over pull request
// diffs: style, security and performance rules per file, plus dependency
// and code-pattern analysis across the change set.
package analyzer

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
)

// Finding categories.
const (
	CategoryStyle       = "style"
	CategorySecurity    = "security"
	CategoryPerformance = "performance"
	CategoryDependency  = "dependency"
	CategoryPattern     = "pattern"
)

// Finding is one review observation anchored to a file and line.
type Finding struct {
	RuleID     string
	Category   string
	Severity   string
	File       string
	Line       int
	Message    string
	Suggestion string
}

// Result is the outcome of analyzing one pull request.
type Result struct {
	Findings      []Finding
	FilesAnalyzed int

	// Patterns and Dependencies feed the knowledge base.
	Patterns     []Pattern
	Dependencies []DepEdge
}

// maxParallelFiles bounds the per-file analysis fan-out.
const maxParallelFiles = 4

// Analyzer applies the configured rule set to parsed diffs.
type Analyzer struct {
	rules *config.Rules
}

// New returns an analyzer using the given rules. Nil rules means defaults.
func New(rules *config.Rules) *Analyzer {
	if rules == nil {
		rules = config.DefaultRules()
	}
	return &Analyzer{rules: rules}
}

// fileCheck is one per-file rule pass.
type fileCheck func(*FileChange, *config.Rules) []Finding

// Analyze parses the diff and runs every enabled category over it.
func (a *Analyzer) Analyze(ctx context.Context, diffText string) (*Result, error) {
	changes, err := ParseDiff(diffText)
	if err != nil {
		return nil, err
	}
	return a.AnalyzeChanges(ctx, changes)
}

// AnalyzeChanges runs the rule set over already-parsed file changes.
func (a *Analyzer) AnalyzeChanges(ctx context.Context, changes []FileChange) (*Result, error) {
	var checks []fileCheck
	if a.rules.Style.Enabled {
		checks = append(checks, checkStyle)
	}
	if a.rules.Security.Enabled {
		checks = append(checks, checkSecurity)
	}
	if a.rules.Performance.Enabled {
		checks = append(checks, checkPerformance)
	}

	// Excluded paths are invisible to every pass
	included := make([]FileChange, 0, len(changes))
	for _, fc := range changes {
		if a.rules.PathExcluded(fc.Path) {
			continue
		}
		included = append(included, fc)
	}

	result := &Result{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFiles)

	for i := range included {
		fc := &included[i]
		if fc.Deleted || len(fc.Added) == 0 {
			continue
		}
		result.FilesAnalyzed++

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			var found []Finding
			for _, check := range checks {
				found = append(found, check(fc, a.rules)...)
			}

			mu.Lock()
			result.Findings = append(result.Findings, found...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Cross-file passes run after the per-file fan-out
	if a.rules.Dependency.Enabled {
		edges, depFindings := analyzeDependencies(included, a.rules)
		result.Dependencies = edges
		result.Findings = append(result.Findings, depFindings...)
	}
	if a.rules.Pattern.Enabled {
		result.Patterns = RecognizePatterns(included)
	}

	sort.Slice(result.Findings, func(i, j int) bool {
		if result.Findings[i].File != result.Findings[j].File {
			return result.Findings[i].File < result.Findings[j].File
		}
		return result.Findings[i].Line < result.Findings[j].Line
	})
	return result, nil
}

// emit appends a finding unless the rule is disabled, resolving the
// effective severity from any configured override.
func emit(findings []Finding, rules *config.Rules, f Finding) []Finding {
	if rules.RuleDisabled(f.RuleID) {
		return findings
	}
	f.Severity = rules.ResolveSeverity(f.RuleID, f.Severity)
	return append(findings, f)
}
