package services

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/apperrors"
	"github.com/ekaya-inc/context-engine/pkg/models"
	"github.com/ekaya-inc/context-engine/pkg/sql"
)

// maxFrontier bounds the number of partial paths held per BFS layer.
const maxFrontier = 10000

// JoinPathPlannerConfig bounds the search.
type JoinPathPlannerConfig struct {
	MaxDepth          int  // maximum joins per path
	MaxCandidatePaths int  // maximum shortest paths collected per target
	PreferDirectJoins bool // rank by length before confidence
	DetectCycles      bool // reject paths that revisit a table
}

// DefaultJoinPathPlannerConfig returns depth 6, 50 candidates, direct joins
// preferred and cycle detection on.
func DefaultJoinPathPlannerConfig() JoinPathPlannerConfig {
	return JoinPathPlannerConfig{
		MaxDepth:          6,
		MaxCandidatePaths: 50,
		PreferDirectJoins: true,
		DetectCycles:      true,
	}
}

// JoinPlan is the planner output.
type JoinPlan struct {
	Paths []models.JoinPath
	// Unreachable lists required tables that could not be connected.
	Unreachable []string
}

// RelationshipGraph is a directed adjacency list. Every relationship row
// contributes a forward and a reverse edge.
type RelationshipGraph struct {
	adjacency map[string][]models.RelationshipEdge
	byLower   map[string]string
	byBare    map[string][]string
}

// NewRelationshipGraph builds a graph from relationship rows. Confidence is
// clamped to [0,1]; missing or NaN confidence counts as 1. When several rows
// connect the same ordered pair, the most confident edge is kept.
func NewRelationshipGraph(rows []models.RelationshipRow) *RelationshipGraph {
	best := make(map[[2]string]models.RelationshipEdge)
	consider := func(e models.RelationshipEdge) {
		if e.From == "" || e.To == "" || e.From == e.To {
			return
		}
		key := [2]string{e.From, e.To}
		if cur, ok := best[key]; !ok || betterEdge(e, cur) {
			best[key] = e
		}
	}

	for _, r := range rows {
		conf := edgeConfidence(r.Confidence)
		consider(models.RelationshipEdge{
			From: r.FromTable, To: r.ToTable,
			SourceColumn: r.SourceColumn, TargetColumn: r.TargetColumn,
			Cardinality: r.Cardinality, Confidence: conf,
		})
		consider(models.RelationshipEdge{
			From: r.ToTable, To: r.FromTable,
			SourceColumn: r.TargetColumn, TargetColumn: r.SourceColumn,
			Cardinality: invertCardinality(r.Cardinality), Confidence: conf,
		})
	}

	g := &RelationshipGraph{
		adjacency: make(map[string][]models.RelationshipEdge),
		byLower:   make(map[string]string),
		byBare:    make(map[string][]string),
	}
	for _, e := range best {
		g.adjacency[e.From] = append(g.adjacency[e.From], e)
		if _, ok := g.adjacency[e.To]; !ok {
			g.adjacency[e.To] = nil
		}
	}
	for node, edges := range g.adjacency {
		sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
		g.byLower[strings.ToLower(node)] = node
		bare := strings.ToLower(sql.BareTableName(node))
		g.byBare[bare] = append(g.byBare[bare], node)
	}
	return g
}

// Resolve maps a table name to a graph node: exact match first, then
// case-insensitive, then an unambiguous match on the name without schema.
func (g *RelationshipGraph) Resolve(table string) (string, bool) {
	if _, ok := g.adjacency[table]; ok {
		return table, true
	}
	if node, ok := g.byLower[strings.ToLower(table)]; ok {
		return node, true
	}
	if nodes := g.byBare[strings.ToLower(sql.BareTableName(table))]; len(nodes) == 1 {
		return nodes[0], true
	}
	return "", false
}

// Edge returns the edge from one node to another.
func (g *RelationshipGraph) Edge(from, to string) (models.RelationshipEdge, bool) {
	for _, e := range g.adjacency[from] {
		if e.To == to {
			return e, true
		}
	}
	return models.RelationshipEdge{}, false
}

// JoinPathPlanner connects required tables with shortest join paths.
type JoinPathPlanner struct {
	cfg    JoinPathPlannerConfig
	logger *zap.Logger
}

// NewJoinPathPlanner creates a planner. Non-positive bounds take the defaults.
func NewJoinPathPlanner(cfg JoinPathPlannerConfig, logger *zap.Logger) *JoinPathPlanner {
	def := DefaultJoinPathPlannerConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxCandidatePaths <= 0 {
		cfg.MaxCandidatePaths = def.MaxCandidatePaths
	}
	return &JoinPathPlanner{cfg: cfg, logger: logger.Named("join-path-planner")}
}

// Plan connects requiredTables greedily. The first required table present in
// the graph seeds the connected set; each remaining table is reached by the
// shortest paths from any connected table, and the top-ranked path is
// committed before moving on. This approximates a Steiner tree and is not
// guaranteed minimal when several targets compete for shared hubs.
//
// Unreachable tables are reported, not returned as errors. The only error is
// context cancellation.
func (p *JoinPathPlanner) Plan(ctx context.Context, requiredTables []string, rows []models.RelationshipRow) (*JoinPlan, error) {
	plan := &JoinPlan{Paths: []models.JoinPath{}}
	g := NewRelationshipGraph(rows)

	var targets []string
	seen := make(map[string]bool)
	for _, t := range requiredTables {
		node, ok := g.Resolve(t)
		if !ok {
			plan.Unreachable = append(plan.Unreachable, t)
			p.logger.Warn("Required table not in relationship graph",
				zap.String("table", t),
				zap.Error(apperrors.New(apperrors.KindUnreachableJoin, StepPlanJoins, "table not in relationship graph")))
			continue
		}
		if !seen[node] {
			seen[node] = true
			targets = append(targets, node)
		}
	}
	if len(targets) < 2 {
		return plan, nil
	}

	connected := map[string]bool{targets[0]: true}
	var candidates []models.JoinPath

	for _, target := range targets[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if connected[target] {
			continue
		}

		sequences, err := p.shortestPaths(ctx, g, sortedKeys(connected), target)
		if err != nil {
			return nil, err
		}
		if len(sequences) == 0 {
			plan.Unreachable = append(plan.Unreachable, target)
			p.logger.Warn("No join path to required table",
				zap.String("table", target),
				zap.Int("max_depth", p.cfg.MaxDepth),
				zap.Error(apperrors.New(apperrors.KindUnreachableJoin, StepPlanJoins, "no path within max depth")))
			continue
		}

		paths := make([]models.JoinPath, 0, len(sequences))
		for _, seq := range sequences {
			paths = append(paths, buildJoinPath(g, seq))
		}
		p.rank(paths)
		paths[0].IsPreferred = true
		for _, t := range paths[0].Tables {
			connected[t] = true
		}
		candidates = append(candidates, paths...)
	}

	plan.Paths = dedupeAndSortPaths(candidates)
	return plan, nil
}

// shortestPaths runs a layered BFS from every source at once and returns all
// paths of minimal length to target, up to MaxCandidatePaths. A node first
// reached at depth d is never extended from a later, deeper layer.
func (p *JoinPathPlanner) shortestPaths(ctx context.Context, g *RelationshipGraph, sources []string, target string) ([][]string, error) {
	depthOf := make(map[string]int, len(sources))
	frontier := make([][]string, 0, len(sources))
	for _, s := range sources {
		if _, ok := g.adjacency[s]; !ok {
			continue
		}
		depthOf[s] = 0
		frontier = append(frontier, []string{s})
	}

	var found [][]string
	for depth := 1; depth <= p.cfg.MaxDepth && len(frontier) > 0 && len(found) == 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var next [][]string
	layer:
		for _, path := range frontier {
			last := path[len(path)-1]
			for _, e := range g.adjacency[last] {
				if p.cfg.DetectCycles && containsTable(path, e.To) {
					continue
				}
				if d, ok := depthOf[e.To]; ok && d < depth {
					continue
				}
				depthOf[e.To] = depth

				extended := make([]string, len(path)+1)
				copy(extended, path)
				extended[len(path)] = e.To

				if e.To == target {
					found = append(found, extended)
					if len(found) >= p.cfg.MaxCandidatePaths {
						break layer
					}
					continue
				}
				if len(next) < maxFrontier {
					next = append(next, extended)
				}
			}
		}
		frontier = next
	}
	return found, nil
}

// rank orders candidate paths best first.
func (p *JoinPathPlanner) rank(paths []models.JoinPath) {
	sort.SliceStable(paths, func(i, j int) bool {
		a, b := paths[i], paths[j]
		if p.cfg.PreferDirectJoins {
			if len(a.Joins) != len(b.Joins) {
				return len(a.Joins) < len(b.Joins)
			}
			if a.Confidence != b.Confidence {
				return a.Confidence > b.Confidence
			}
		} else {
			if a.Confidence != b.Confidence {
				return a.Confidence > b.Confidence
			}
			if len(a.Joins) != len(b.Joins) {
				return len(a.Joins) < len(b.Joins)
			}
		}
		return tableKey(a.Tables) < tableKey(b.Tables)
	})
}

// buildJoinPath turns a table sequence into a JoinPath. Confidence is the
// weakest join's confidence.
func buildJoinPath(g *RelationshipGraph, tables []string) models.JoinPath {
	path := models.JoinPath{
		Path:       make([]string, len(tables)),
		Tables:     tables,
		Joins:      make([]models.JoinCondition, 0, len(tables)-1),
		Confidence: 1,
	}
	for i, t := range tables {
		path.Path[i] = inflection.Singular(sql.BareTableName(t))
	}
	for i := 0; i+1 < len(tables); i++ {
		e, _ := g.Edge(tables[i], tables[i+1])
		path.Joins = append(path.Joins, models.JoinCondition{
			LeftTable:   e.From,
			RightTable:  e.To,
			Condition:   sql.BuildJoinCondition(e.From, e.SourceColumn, e.To, e.TargetColumn),
			Cardinality: e.Cardinality,
			Confidence:  e.Confidence,
		})
		path.Confidence = math.Min(path.Confidence, e.Confidence)
	}
	return path
}

// dedupeAndSortPaths keeps one path per table sequence (preferred if either
// copy was) and sorts preferred first, then fewer joins, then higher confidence.
func dedupeAndSortPaths(paths []models.JoinPath) []models.JoinPath {
	index := make(map[string]int)
	out := make([]models.JoinPath, 0, len(paths))
	for _, p := range paths {
		key := tableKey(p.Tables)
		if i, ok := index[key]; ok {
			out[i].IsPreferred = out[i].IsPreferred || p.IsPreferred
			continue
		}
		index[key] = len(out)
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsPreferred != b.IsPreferred {
			return a.IsPreferred
		}
		if len(a.Joins) != len(b.Joins) {
			return len(a.Joins) < len(b.Joins)
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return tableKey(a.Tables) < tableKey(b.Tables)
	})
	return out
}

func betterEdge(a, b models.RelationshipEdge) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.SourceColumn != b.SourceColumn {
		return a.SourceColumn < b.SourceColumn
	}
	return a.TargetColumn < b.TargetColumn
}

func edgeConfidence(c *float64) float64 {
	if c == nil || math.IsNaN(*c) {
		return 1
	}
	return clamp01(*c)
}

// invertCardinality flips "N:1" to "1:N". Unrecognized values are returned as is.
func invertCardinality(c string) string {
	left, right, ok := strings.Cut(c, ":")
	if !ok {
		return c
	}
	return right + ":" + left
}

func containsTable(path []string, table string) bool {
	for _, t := range path {
		if t == table {
			return true
		}
	}
	return false
}

func tableKey(tables []string) string {
	return strings.Join(tables, "\x00")
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
