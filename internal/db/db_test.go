package db_test

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateflow/internal/db"
)

func TestIsUniqueViolation(t *testing.T) {
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, db.SQLite, dialect)

	_, err = conn.Exec(`CREATE TABLE items (kind TEXT NOT NULL, id TEXT NOT NULL, label TEXT, PRIMARY KEY (kind, id))`)
	require.NoError(t, err)
	_, err = conn.Exec(`CREATE UNIQUE INDEX items_label ON items(label)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO items(kind,id,label) VALUES ('a','1','first')`)
	require.NoError(t, err)

	_, err = conn.Exec(`INSERT INTO items(kind,id,label) VALUES ('a','1','second')`)
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err), err.Error())

	_, err = conn.Exec(`INSERT INTO items(kind,id,label) VALUES ('a','2','first')`)
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err), err.Error())

	_, err = conn.Exec(`INSERT INTO items(kind,id) VALUES (NULL,'3')`)
	require.Error(t, err)
	assert.False(t, db.IsUniqueViolation(err), err.Error())

	_, err = conn.Exec(`SELECT * FROM missing_table`)
	require.Error(t, err)
	assert.False(t, db.IsUniqueViolation(err))

	assert.True(t, db.IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, db.IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, db.IsUniqueViolation(errors.New("UNIQUE constraint failed")))
	assert.False(t, db.IsUniqueViolation(nil))
}

func TestRebind(t *testing.T) {
	q := `SELECT * FROM t WHERE a=? AND b=?`
	assert.Equal(t, q, db.SQLite.Rebind(q))
	assert.Equal(t, `SELECT * FROM t WHERE a=$1 AND b=$2`, db.Postgres.Rebind(q))
}

func TestOpenRequiresPostgresDSN(t *testing.T) {
	_, _, err := db.Open(db.Config{Driver: "postgres"})
	require.Error(t, err)
}
