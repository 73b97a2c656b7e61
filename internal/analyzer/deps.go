package analyzer

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
)

// DepEdge is one file → imported module edge for the knowledge base.
type DepEdge struct {
	SourceFile string
	Target     string
	Kind       string // import, importfrom, require
}

var (
	goImportSingle  = regexp.MustCompile(`^\s*import\s+(?:\w+\s+)?"([^"]+)"`)
	goImportGrouped = regexp.MustCompile(`^\s*(?:\w+\s+)?"([^"]+)"\s*$`)
	pyImport        = regexp.MustCompile(`^\s*import\s+([\w.]+)`)
	pyImportFrom    = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\b`)
	jsImport        = regexp.MustCompile(`^\s*import\s+.*\bfrom\s+["']([^"']+)["']`)
	jsImportBare    = regexp.MustCompile(`^\s*import\s+["']([^"']+)["']`)
	jsRequire       = regexp.MustCompile(`\brequire\(\s*["']([^"']+)["']\s*\)`)
	javaImport      = regexp.MustCompile(`^\s*import\s+(?:static\s+)?([\w.]+)\s*;`)
)

// extractImports pulls imported module names out of the added lines of a
// file, dispatched on extension. Go grouped imports only resolve when the
// import block itself is part of the diff.
func extractImports(fc *FileChange) []DepEdge {
	ext := strings.ToLower(path.Ext(fc.Path))
	var edges []DepEdge
	add := func(target, kind string) {
		if target == "" {
			return
		}
		edges = append(edges, DepEdge{SourceFile: fc.Path, Target: target, Kind: kind})
	}

	inGoImportBlock := false
	for _, line := range fc.Added {
		text := line.Text
		switch ext {
		case ".go":
			if strings.HasPrefix(strings.TrimSpace(text), "import (") {
				inGoImportBlock = true
				continue
			}
			if inGoImportBlock {
				if strings.TrimSpace(text) == ")" {
					inGoImportBlock = false
					continue
				}
				if m := goImportGrouped.FindStringSubmatch(text); m != nil {
					add(m[1], "import")
				}
				continue
			}
			if m := goImportSingle.FindStringSubmatch(text); m != nil {
				add(m[1], "import")
			}
		case ".py":
			if m := pyImportFrom.FindStringSubmatch(text); m != nil {
				add(m[1], "importfrom")
			} else if m := pyImport.FindStringSubmatch(text); m != nil {
				add(m[1], "import")
			}
		case ".js", ".jsx", ".ts", ".tsx", ".mjs":
			if m := jsImport.FindStringSubmatch(text); m != nil {
				add(m[1], "import")
			} else if m := jsImportBare.FindStringSubmatch(text); m != nil {
				add(m[1], "import")
			}
			if m := jsRequire.FindStringSubmatch(text); m != nil {
				add(m[1], "require")
			}
		case ".java":
			if m := javaImport.FindStringSubmatch(text); m != nil {
				add(m[1], "import")
			}
		}
	}
	return edges
}

// Digraph is a small directed graph over string nodes.
type Digraph struct {
	adj map[string][]string
}

// NewDigraph returns an empty graph.
func NewDigraph() *Digraph {
	return &Digraph{adj: make(map[string][]string)}
}

// AddEdge inserts a directed edge, ignoring exact duplicates.
func (g *Digraph) AddEdge(from, to string) {
	for _, n := range g.adj[from] {
		if n == to {
			return
		}
	}
	g.adj[from] = append(g.adj[from], to)
	if _, ok := g.adj[to]; !ok {
		g.adj[to] = nil
	}
}

// Nodes returns all nodes in sorted order.
func (g *Digraph) Nodes() []string {
	nodes := make([]string, 0, len(g.adj))
	for n := range g.adj {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

// Cycles returns one representative path per detected import cycle.
func (g *Digraph) Cycles() [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var cycles [][]string
	var stack []string

	var visit func(string)
	visit = func(n string) {
		color[n] = gray
		stack = append(stack, n)
		for _, next := range g.adj[n] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				// Back edge; slice out the cycle from the stack
				for i, s := range stack {
					if s == next {
						cycle := append([]string(nil), stack[i:]...)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	for _, n := range g.Nodes() {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}

// moduleForFile maps a file path to the module name another file would
// import it as, so intra-repo edges can close into cycles.
func moduleForFile(filePath string) string {
	base := strings.TrimSuffix(path.Base(filePath), path.Ext(filePath))
	dir := path.Dir(filePath)
	if dir == "." {
		return base
	}
	return strings.ReplaceAll(dir, "/", ".") + "." + base
}

// analyzeDependencies extracts import edges from every changed file,
// builds the digraph and reports import cycles among the changed files.
func analyzeDependencies(changes []FileChange, rules *config.Rules) ([]DepEdge, []Finding) {
	var edges []DepEdge

	// module name → source file, for resolving intra-repo imports
	localModules := make(map[string]string)
	for i := range changes {
		fc := &changes[i]
		if fc.Deleted {
			continue
		}
		localModules[moduleForFile(fc.Path)] = fc.Path
		base := strings.TrimSuffix(path.Base(fc.Path), path.Ext(fc.Path))
		localModules[base] = fc.Path
	}

	graph := NewDigraph()
	for i := range changes {
		fc := &changes[i]
		if fc.Deleted || len(fc.Added) == 0 {
			continue
		}
		for _, edge := range extractImports(fc) {
			edges = append(edges, edge)
			target := edge.Target
			// Relative JS imports resolve against the source dir
			if strings.HasPrefix(target, ".") {
				target = path.Join(path.Dir(edge.SourceFile), target)
				target = strings.TrimPrefix(target, "./")
			}
			if local, ok := localModules[target]; ok {
				graph.AddEdge(edge.SourceFile, local)
			} else {
				graph.AddEdge(edge.SourceFile, edge.Target)
			}
		}
	}

	var findings []Finding
	for _, cycle := range graph.Cycles() {
		file := cycle[0]
		findings = emit(findings, rules, Finding{
			RuleID:     "dependency/import-cycle",
			Category:   CategoryDependency,
			Severity:   config.SeverityWarning,
			File:       file,
			Message:    fmt.Sprintf("import cycle: %s", strings.Join(append(cycle, cycle[0]), " -> ")),
			Suggestion: "break the cycle by extracting the shared piece into its own module",
		})
	}
	return edges, findings
}
