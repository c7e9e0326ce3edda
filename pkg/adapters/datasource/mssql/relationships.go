// Package mssql reads join relationships from a customer's SQL Server
// foreign-key catalog.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/models"
)

// foreignKeyColumn is one column pair of a (possibly composite) foreign key.
type foreignKeyColumn struct {
	ConstraintName string
	SourceSchema   string
	SourceTable    string
	SourceColumn   string
	TargetSchema   string
	TargetTable    string
	TargetColumn   string
}

// RelationshipLoader turns declared foreign keys into relationship rows.
// Declared keys are certain, so rows carry confidence 1.
type RelationshipLoader struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRelationshipLoader opens a pooled connection to the customer database.
// The connection is established lazily on first query.
func NewRelationshipLoader(cfg *Config, logger *zap.Logger) (*RelationshipLoader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := sql.Open("sqlserver", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("open SQL Server connection: %w", err)
	}
	db.SetMaxOpenConns(4)

	return &RelationshipLoader{db: db, logger: logger.Named("mssql-relationships")}, nil
}

// LoadRelationships reads every user-defined foreign key. The customer ID is
// only used for logging; the connection itself is per-customer.
func (l *RelationshipLoader) LoadRelationships(ctx context.Context, customerID string) ([]models.RelationshipRow, error) {
	query := `
	SET NOCOUNT ON;
	SELECT
	    fk.name AS constraint_name,
	    SCHEMA_NAME(fk.schema_id) AS source_schema,
	    OBJECT_NAME(fk.parent_object_id) AS source_table,
	    COL_NAME(fkc.parent_object_id, fkc.parent_column_id) AS source_column,
	    SCHEMA_NAME(rt.schema_id) AS target_schema,
	    OBJECT_NAME(fk.referenced_object_id) AS target_table,
	    COL_NAME(fkc.referenced_object_id, fkc.referenced_column_id) AS target_column
	FROM sys.foreign_keys fk
	INNER JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
	INNER JOIN sys.tables rt ON fk.referenced_object_id = rt.object_id
	WHERE fk.is_ms_shipped = 0
	ORDER BY source_schema, source_table, fk.name, fkc.constraint_column_id
	`

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var cols []foreignKeyColumn
	for rows.Next() {
		var fk foreignKeyColumn
		err := rows.Scan(
			&fk.ConstraintName,
			&fk.SourceSchema,
			&fk.SourceTable,
			&fk.SourceColumn,
			&fk.TargetSchema,
			&fk.TargetTable,
			&fk.TargetColumn,
		)
		if err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		cols = append(cols, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign key rows: %w", err)
	}

	relationships := groupForeignKeys(cols)
	l.logger.Debug("Loaded foreign keys from SQL Server",
		zap.String("customer_id", customerID),
		zap.Int("columns", len(cols)),
		zap.Int("relationships", len(relationships)))
	return relationships, nil
}

// Close releases the connection pool.
func (l *RelationshipLoader) Close() error {
	return l.db.Close()
}

// groupForeignKeys folds consecutive columns of one constraint into a single
// row with comma-separated column lists. Input must be ordered by constraint.
func groupForeignKeys(cols []foreignKeyColumn) []models.RelationshipRow {
	one := 1.0
	var out []models.RelationshipRow
	var source, target []string

	flush := func(fk foreignKeyColumn) {
		c := one
		out = append(out, models.RelationshipRow{
			FromTable:    fk.SourceSchema + "." + fk.SourceTable,
			ToTable:      fk.TargetSchema + "." + fk.TargetTable,
			SourceColumn: strings.Join(source, ", "),
			TargetColumn: strings.Join(target, ", "),
			Cardinality:  "N:1",
			Confidence:   &c,
		})
		source, target = nil, nil
	}

	for i, fk := range cols {
		source = append(source, fk.SourceColumn)
		target = append(target, fk.TargetColumn)

		last := i == len(cols)-1
		if last || !sameConstraint(fk, cols[i+1]) {
			flush(fk)
		}
	}
	return out
}

func sameConstraint(a, b foreignKeyColumn) bool {
	return a.ConstraintName == b.ConstraintName &&
		a.SourceSchema == b.SourceSchema &&
		a.SourceTable == b.SourceTable
}
