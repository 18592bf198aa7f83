package source

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/logger"
)

func TestQuerySpecValidate(t *testing.T) {
	require.ErrorIs(t, QuerySpec{}.Validate(), ErrNoSource)
	require.ErrorIs(t, QuerySpec{Table: "events", Query: "SELECT 1"}.Validate(), ErrAmbiguousSource)
	require.NoError(t, QuerySpec{Table: "events"}.Validate())
	require.NoError(t, QuerySpec{Query: "SELECT * FROM events WHERE id > 10"}.Validate())
}

func TestExtractToStaging(t *testing.T) {
	t.Run("table extract preserves row order", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = mockDB.Close() }()

		mock.ExpectQuery(`SELECT \* FROM events`).WillReturnRows(
			sqlmock.NewRows([]string{"id", "name"}).
				AddRow("1", "alpha").
				AddRow("2", "beta").
				AddRow("3", "gamma"),
		)

		c := NewConnector(logger.NOP, mockDB)
		stagingPath, rowCount, err := c.ExtractToStaging(context.Background(), QuerySpec{Table: "events"}, t.TempDir())
		require.NoError(t, err)
		require.EqualValues(t, 3, rowCount)

		f, err := os.Open(stagingPath)
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		gz, err := gzip.NewReader(f)
		require.NoError(t, err)
		content, err := io.ReadAll(gz)
		require.NoError(t, err)
		require.Equal(t, "1,alpha\n2,beta\n3,gamma\n", string(content))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("custom query is used verbatim", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = mockDB.Close() }()

		mock.ExpectQuery(`SELECT id FROM events WHERE id > 10`).WillReturnRows(
			sqlmock.NewRows([]string{"id"}).AddRow("11"),
		)

		c := NewConnector(logger.NOP, mockDB)
		_, rowCount, err := c.ExtractToStaging(context.Background(),
			QuerySpec{Query: "SELECT id FROM events WHERE id > 10"}, t.TempDir())
		require.NoError(t, err)
		require.EqualValues(t, 1, rowCount)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty result set yields an empty staging file", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = mockDB.Close() }()

		mock.ExpectQuery(`SELECT \* FROM events`).WillReturnRows(
			sqlmock.NewRows([]string{"id", "name"}),
		)

		c := NewConnector(logger.NOP, mockDB)
		stagingPath, rowCount, err := c.ExtractToStaging(context.Background(), QuerySpec{Table: "events"}, t.TempDir())
		require.NoError(t, err)
		require.Zero(t, rowCount)

		f, err := os.Open(stagingPath)
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		gz, err := gzip.NewReader(f)
		require.NoError(t, err)
		content, err := io.ReadAll(gz)
		require.NoError(t, err)
		require.Empty(t, content)
	})

	t.Run("query failure leaves no staging file behind", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = mockDB.Close() }()

		mock.ExpectQuery(`SELECT \* FROM events`).WillReturnError(fmt.Errorf("relation does not exist"))

		stagingDir := t.TempDir()
		c := NewConnector(logger.NOP, mockDB)
		_, _, err = c.ExtractToStaging(context.Background(), QuerySpec{Table: "events"}, stagingDir)
		require.Error(t, err)

		entries, err := os.ReadDir(stagingDir)
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("invalid spec fails before touching the database", func(t *testing.T) {
		mockDB, _, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = mockDB.Close() }()

		c := NewConnector(logger.NOP, mockDB)
		_, _, err = c.ExtractToStaging(context.Background(), QuerySpec{}, t.TempDir())
		require.ErrorIs(t, err, ErrNoSource)
	})
}
