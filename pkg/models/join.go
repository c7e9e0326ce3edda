package models

// RelationshipRow is a raw relationship as stored by a relationship source.
// A nil Confidence means the relationship was never scored.
type RelationshipRow struct {
	FromTable    string   `json:"from_table"`
	ToTable      string   `json:"to_table"`
	SourceColumn string   `json:"source_column"`
	TargetColumn string   `json:"target_column"`
	Cardinality  string   `json:"cardinality"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// RelationshipEdge is a directed edge in the join graph.
// Confidence is within [0,1].
type RelationshipEdge struct {
	From         string  `json:"from"`
	To           string  `json:"to"`
	SourceColumn string  `json:"source_column"`
	TargetColumn string  `json:"target_column"`
	Cardinality  string  `json:"cardinality"`
	Confidence   float64 `json:"confidence"`
}

// JoinCondition joins two adjacent tables of a path.
type JoinCondition struct {
	LeftTable   string  `json:"left_table"`
	RightTable  string  `json:"right_table"`
	Condition   string  `json:"condition"`
	Cardinality string  `json:"cardinality"`
	Confidence  float64 `json:"confidence"`
}

// JoinPath is an ordered chain of tables and the joins that connect them.
// len(Tables) == len(Joins)+1; Confidence is the weakest join's confidence.
type JoinPath struct {
	Path        []string        `json:"path"`
	Tables      []string        `json:"tables"`
	Joins       []JoinCondition `json:"joins"`
	Confidence  float64         `json:"confidence"`
	IsPreferred bool            `json:"is_preferred"`
}
