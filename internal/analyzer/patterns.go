package analyzer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Pattern is one recurring code shape found across the change set.
type Pattern struct {
	Type      string
	Frequency int
	Examples  []string // up to 3 representative blocks
}

// Clustering parameters. eps is cosine distance, so 0.3 groups blocks
// sharing roughly 70% of their token weight.
const (
	clusterEps        = 0.3
	clusterMinSamples = 2
	maxExamples       = 3
)

var tokenSplit = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// tokenVector is a normalized token-frequency embedding of a code block.
type tokenVector map[string]float64

// embed turns a code block into a unit-length token-frequency vector.
func embed(code string) tokenVector {
	vec := tokenVector{}
	for _, tok := range tokenSplit.Split(strings.ToLower(code), -1) {
		if len(tok) < 2 {
			continue
		}
		vec[tok]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for k, v := range vec {
		vec[k] = v / norm
	}
	return vec
}

// cosineDistance is 1 - cosine similarity of two unit vectors.
func cosineDistance(a, b tokenVector) float64 {
	// Iterate the smaller map
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for k, v := range a {
		dot += v * b[k]
	}
	return 1 - dot
}

// dbscan clusters vectors by density. Returns a cluster id per vector;
// -1 marks noise. Deterministic: points are visited in input order.
func dbscan(vectors []tokenVector, eps float64, minSamples int) []int {
	const (
		unvisited = -2
		noise     = -1
	)
	labels := make([]int, len(vectors))
	for i := range labels {
		labels[i] = unvisited
	}

	neighbors := func(i int) []int {
		var out []int
		for j := range vectors {
			if cosineDistance(vectors[i], vectors[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	cluster := 0
	for i := range vectors {
		if labels[i] != unvisited {
			continue
		}
		n := neighbors(i)
		if len(n) < minSamples {
			labels[i] = noise
			continue
		}

		labels[i] = cluster
		queue := append([]int(nil), n...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == noise {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			jn := neighbors(j)
			if len(jn) >= minSamples {
				queue = append(queue, jn...)
			}
		}
		cluster++
	}
	return labels
}

// identifyPatternType names a cluster by its dominant keywords.
func identifyPatternType(group []string) string {
	combined := strings.ToLower(strings.Join(group, " "))
	switch {
	case strings.Contains(combined, "class"):
		return "class_definition"
	case strings.Contains(combined, "def ") || strings.Contains(combined, "func ") || strings.Contains(combined, "function"):
		return "function_definition"
	case strings.Contains(combined, "import"):
		return "import_pattern"
	case strings.Contains(combined, "try") && (strings.Contains(combined, "except") || strings.Contains(combined, "catch")):
		return "error_handling"
	case strings.Contains(combined, "for ") || strings.Contains(combined, "while "):
		return "loop_pattern"
	default:
		return "general_code_pattern"
	}
}

// RecognizePatterns clusters the added code of each changed file and
// reports recurring shapes for the knowledge base.
func RecognizePatterns(changes []FileChange) []Pattern {
	var blocks []string
	for i := range changes {
		fc := &changes[i]
		if fc.Deleted || len(fc.Added) == 0 {
			continue
		}
		var sb strings.Builder
		for _, line := range fc.Added {
			sb.WriteString(line.Text)
			sb.WriteByte('\n')
		}
		blocks = append(blocks, sb.String())
	}
	if len(blocks) < clusterMinSamples {
		return nil
	}

	vectors := make([]tokenVector, len(blocks))
	for i, b := range blocks {
		vectors[i] = embed(b)
	}

	labels := dbscan(vectors, clusterEps, clusterMinSamples)

	groups := map[int][]string{}
	for i, label := range labels {
		if label < 0 {
			continue
		}
		groups[label] = append(groups[label], blocks[i])
	}

	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	patterns := make([]Pattern, 0, len(groups))
	for _, id := range ids {
		group := groups[id]
		examples := group
		if len(examples) > maxExamples {
			examples = examples[:maxExamples]
		}
		patterns = append(patterns, Pattern{
			Type:      identifyPatternType(group),
			Frequency: len(group),
			Examples:  examples,
		})
	}
	return patterns
}
