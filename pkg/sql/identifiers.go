package sql

import (
	"strings"
)

// BareTableName strips any schema prefix: "rpt.Patient" becomes "Patient".
func BareTableName(table string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}

// SplitColumns splits a comma-separated column list, trimming blanks.
// Composite keys are stored as "a, b".
func SplitColumns(columns string) []string {
	parts := strings.Split(columns, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// QualifyColumn prefixes column with table unless it is already qualified.
func QualifyColumn(table, column string) string {
	if strings.Contains(column, ".") {
		return column
	}
	return table + "." + column
}

// BuildJoinCondition pairs left and right columns positionally and joins the
// equalities with AND. Unqualified names are qualified with their table.
// Extra columns on the longer side are ignored.
func BuildJoinCondition(leftTable, leftColumns, rightTable, rightColumns string) string {
	left := SplitColumns(leftColumns)
	right := SplitColumns(rightColumns)

	n := min(len(left), len(right))
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, QualifyColumn(leftTable, left[i])+" = "+QualifyColumn(rightTable, right[i]))
	}
	return strings.Join(parts, " AND ")
}
