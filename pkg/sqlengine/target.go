package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sqlflow/sqlflow/pkg/batch"
)

// Schema implements pkg/load.Target, reporting the current column
// layout of tableName by asking DuckDB's catalog, or (Schema{}, false)
// if it does not exist.
func (e *Engine) Schema(ctx context.Context, tableName string) (batch.Schema, bool, error) {
	var rows, err = e.db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = ? ORDER BY ordinal_position`,
		tableName,
	)
	if err != nil {
		return batch.Schema{}, false, fmt.Errorf("sqlengine: schema %q: %w", tableName, err)
	}
	defer rows.Close()

	var fields []batch.Field
	for rows.Next() {
		var name, dataType, isNullable string
		if err := rows.Scan(&name, &dataType, &isNullable); err != nil {
			return batch.Schema{}, false, fmt.Errorf("sqlengine: schema %q: scan: %w", tableName, err)
		}
		fields = append(fields, batch.Field{
			Name:     name,
			Type:     logicalType(dataType),
			Nullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if len(fields) == 0 {
		return batch.Schema{}, false, nil
	}
	return batch.Schema{Fields: fields}, true, nil
}

// Replace implements pkg/load.Target: atomically recreates tableName
// from b, adopting b's schema.
func (e *Engine) Replace(ctx context.Context, tableName string, b *batch.Batch) error {
	var tx, err = e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlengine: replace %q: %w", tableName, err)
	}
	var committed = false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(tableName))); err != nil {
		return fmt.Errorf("sqlengine: replace %q: drop: %w", tableName, err)
	}
	if err := e.ensureTable(ctx, tx, tableName, b.Schema()); err != nil {
		return err
	}
	if err := insertRows(ctx, tx, tableName, b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlengine: replace %q: commit: %w", tableName, err)
	}
	committed = true
	return nil
}

// Append implements pkg/load.Target: inserts b's rows into the
// existing table (caller has already validated schema compatibility).
func (e *Engine) Append(ctx context.Context, tableName string, b *batch.Batch) error {
	var tx, err = e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlengine: append %q: %w", tableName, err)
	}
	var committed = false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := insertRows(ctx, tx, tableName, b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlengine: append %q: commit: %w", tableName, err)
	}
	committed = true
	return nil
}

// Merge implements pkg/load.Target: upsert-by-key, atomically, via a
// staging table plus a single DELETE+INSERT pair inside one
// transaction (caller has already validated merge-key compatibility).
func (e *Engine) Merge(ctx context.Context, tableName string, b *batch.Batch, mergeKeys []string) error {
	var tx, err = e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlengine: merge %q: %w", tableName, err)
	}
	var committed = false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var staging = "__sqlflow_merge_staging_" + tableName
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(staging))); err != nil {
		return fmt.Errorf("sqlengine: merge %q: drop staging: %w", tableName, err)
	}
	if err := e.ensureTable(ctx, tx, staging, b.Schema()); err != nil {
		return err
	}
	if err := insertRows(ctx, tx, staging, b); err != nil {
		return err
	}

	var keyPredicate = make([]string, len(mergeKeys))
	for i, k := range mergeKeys {
		keyPredicate[i] = fmt.Sprintf("%s.%s = %s.%s", quoteIdent(tableName), quoteIdent(k), quoteIdent(staging), quoteIdent(k))
	}
	var deleteSQL = fmt.Sprintf("DELETE FROM %s USING %s WHERE %s",
		quoteIdent(tableName), quoteIdent(staging), strings.Join(keyPredicate, " AND "))
	if _, err := tx.ExecContext(ctx, deleteSQL); err != nil {
		return fmt.Errorf("sqlengine: merge %q: delete matched: %w", tableName, err)
	}

	var insertSQL = fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", quoteIdent(tableName), quoteIdent(staging))
	if _, err := tx.ExecContext(ctx, insertSQL); err != nil {
		return fmt.Errorf("sqlengine: merge %q: insert staged: %w", tableName, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(staging))); err != nil {
		return fmt.Errorf("sqlengine: merge %q: drop staging: %w", tableName, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlengine: merge %q: commit: %w", tableName, err)
	}
	committed = true
	return nil
}

func insertRows(ctx context.Context, tx *sql.Tx, tableName string, b *batch.Batch) error {
	var cols = b.Schema().Fields
	var placeholders = make([]string, len(cols))
	var colNames = make([]string, len(cols))
	for i, f := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		colNames[i] = quoteIdent(f.Name)
	}
	var insertSQL = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(tableName), strings.Join(colNames, ","), strings.Join(placeholders, ","))

	var stmt, err = tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("sqlengine: insert into %q: %w", tableName, err)
	}
	defer stmt.Close()

	for _, row := range b.Rows() {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("sqlengine: insert into %q: %w", tableName, err)
		}
	}
	return nil
}
