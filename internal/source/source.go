// Package source extracts a relational result set to a local gzip CSV
// staging file for chunking and upload.
package source

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/rudderlabs/redshift-manager/internal/logfield"
	"github.com/rudderlabs/redshift-manager/utils/misc"
)

var (
	ErrNoSource        = errors.New("either a source table or a source query is required")
	ErrAmbiguousSource = errors.New("source table and source query are mutually exclusive")
)

// QuerySpec names what to extract: a whole table or the result of a query.
// Exactly one of the two must be set.
type QuerySpec struct {
	Table string
	Query string
}

func (s QuerySpec) Validate() error {
	switch {
	case s.Table == "" && s.Query == "":
		return ErrNoSource
	case s.Table != "" && s.Query != "":
		return ErrAmbiguousSource
	}
	return nil
}

func (s QuerySpec) selectStatement() string {
	if s.Table != "" {
		return fmt.Sprintf("SELECT * FROM %s", s.Table)
	}
	return s.Query
}

// Connector streams rows out of a Postgres database.
type Connector struct {
	logger logger.Logger
	db     *sql.DB
}

func NewConnector(log logger.Logger, db *sql.DB) *Connector {
	return &Connector{
		logger: log.Child("source"),
		db:     db,
	}
}

// ExtractToStaging materializes the requested result set into a gzip CSV file
// under stagingDir, preserving row order, and returns the file path together
// with the number of rows written. The file is removed again if extraction
// fails partway.
func (c *Connector) ExtractToStaging(ctx context.Context, spec QuerySpec, stagingDir string) (string, int64, error) {
	if err := spec.Validate(); err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating staging directory: %w", err)
	}

	stagingPath := filepath.Join(stagingDir, fmt.Sprintf("extract_%s.csv.gz", uuid.New().String()))

	rowCount, err := c.extract(ctx, spec, stagingPath)
	if err != nil {
		_ = os.Remove(stagingPath)
		return "", 0, err
	}

	c.logger.Infow("extracted source to staging",
		logfield.SourceTable, spec.Table,
		logfield.SourceQuery, spec.Query,
		logfield.StagingPath, stagingPath,
		logfield.RowCount, rowCount,
	)
	return stagingPath, rowCount, nil
}

func (c *Connector) extract(ctx context.Context, spec QuerySpec, stagingPath string) (int64, error) {
	rows, err := c.db.QueryContext(ctx, spec.selectStatement())
	if err != nil {
		return 0, fmt.Errorf("querying source: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("reading source columns: %w", err)
	}

	gzWriter, err := misc.CreateGZ(stagingPath)
	if err != nil {
		return 0, fmt.Errorf("creating staging file: %w", err)
	}
	csvWriter := csv.NewWriter(gzWriter)

	values := make([]sql.RawBytes, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	record := make([]string, len(columns))

	var rowCount int64
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			_ = gzWriter.Close()
			return 0, fmt.Errorf("scanning source row: %w", err)
		}
		for i, value := range values {
			record[i] = string(value)
		}
		if err := csvWriter.Write(record); err != nil {
			_ = gzWriter.Close()
			return 0, fmt.Errorf("writing staging row: %w", err)
		}
		rowCount++
	}
	if err := rows.Err(); err != nil {
		_ = gzWriter.Close()
		return 0, fmt.Errorf("iterating source rows: %w", err)
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		_ = gzWriter.Close()
		return 0, fmt.Errorf("flushing staging file: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return 0, fmt.Errorf("closing staging file: %w", err)
	}
	return rowCount, nil
}
