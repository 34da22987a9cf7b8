package contacts

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, schema string, inserts ...string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(schema)
	require.NoError(t, err)
	for _, stmt := range inserts {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func TestLoadAllFullSchema(t *testing.T) {
	db := openTestDB(t, `
		CREATE TABLE contacts (
			id INTEGER PRIMARY KEY,
			email TEXT,
			first_name TEXT,
			last_name TEXT,
			state TEXT,
			zip_code TEXT,
			birth_date TEXT,
			effective_date TEXT
		)`,
		`INSERT INTO contacts VALUES (101, 'maria@example.com', 'Maria', 'Gonzalez', 'ca', '94105', '1958-02-15', '02/01/2020')`,
		`INSERT INTO contacts VALUES (102, '', 'No', 'Email', 'CA', '', '1950-01-01', NULL)`,
		`INSERT INTO contacts VALUES (103, NULL, 'Null', 'Email', 'CA', '', '1950-01-01', NULL)`,
		`INSERT INTO contacts VALUES (104, 'bad.dates@example.com', 'Bad', 'Dates', 'TX', '', 'unknown', '')`,
	)

	got, err := LoadAll(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, got, 2, "rows without an email are dropped")

	maria := got[0]
	assert.Equal(t, "101", maria.ID)
	assert.Equal(t, "maria@example.com", maria.Email)
	assert.Equal(t, "Maria", maria.FirstName)
	assert.Equal(t, "CA", maria.State, "state is uppercased")
	require.NotNil(t, maria.BirthDate)
	assert.Equal(t, date(1958, 2, 15), *maria.BirthDate)
	require.NotNil(t, maria.EffectiveDate)
	assert.Equal(t, date(2020, 2, 1), *maria.EffectiveDate)

	bad := got[1]
	assert.Equal(t, "104", bad.ID)
	assert.Nil(t, bad.BirthDate, "unparseable dates load as nil")
	assert.Nil(t, bad.EffectiveDate)
}

func TestLoadAllSparseSchemaFallsBackToRowid(t *testing.T) {
	db := openTestDB(t, `
		CREATE TABLE contacts (
			email TEXT,
			birth_date TEXT
		)`,
		`INSERT INTO contacts VALUES ('a@example.com', '1960-06-09')`,
		`INSERT INTO contacts VALUES ('b@example.com', NULL)`,
	)

	got, err := LoadAll(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "2", got[1].ID)
	assert.Empty(t, got[0].State)
	assert.Nil(t, got[1].BirthDate)
}

func TestLoadAllNoEmailColumn(t *testing.T) {
	db := openTestDB(t, `CREATE TABLE contacts (id INTEGER PRIMARY KEY, name TEXT)`)
	_, err := LoadAll(context.Background(), db)
	assert.Error(t, err)
}

func TestLoadAllNoTable(t *testing.T) {
	db := openTestDB(t, `CREATE TABLE other (id INTEGER)`)
	_, err := LoadAll(context.Background(), db)
	assert.Error(t, err)
}

func TestGet(t *testing.T) {
	db := openTestDB(t, `
		CREATE TABLE contacts (
			id INTEGER PRIMARY KEY,
			email TEXT,
			first_name TEXT,
			state TEXT
		)`,
		`INSERT INTO contacts VALUES (7, 'g@example.com', 'Grace', 'NV')`,
	)

	c, ok, err := Get(context.Background(), db, "7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Grace", c.FirstName)
	assert.Equal(t, "NV", c.State)

	_, ok, err = Get(context.Background(), db, "999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetByRowid(t *testing.T) {
	db := openTestDB(t, `CREATE TABLE contacts (email TEXT)`,
		`INSERT INTO contacts VALUES ('x@example.com')`)

	c, ok, err := Get(context.Background(), db, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x@example.com", c.Email)
}
