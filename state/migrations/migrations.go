package migrations

import _ "embed"

// Migration represents a single SQL migration to apply in order.
type Migration struct {
	ID     string
	Script string
}

//go:embed 0001_ledger.postgres.sql
var ledgerPostgres string

//go:embed 0002_authorized_users.postgres.sql
var authorizedUsersPostgres string

//go:embed 0001_ledger.sqlite.sql
var ledgerSQLite string

//go:embed 0002_authorized_users.sqlite.sql
var authorizedUsersSQLite string

// Postgres lists migrations for the pgx driver in application order.
var Postgres = []Migration{
	{ID: "0001_ledger", Script: ledgerPostgres},
	{ID: "0002_authorized_users", Script: authorizedUsersPostgres},
}

// SQLite lists migrations for the sqlite driver in application order.
var SQLite = []Migration{
	{ID: "0001_ledger", Script: ledgerSQLite},
	{ID: "0002_authorized_users", Script: authorizedUsersSQLite},
}
