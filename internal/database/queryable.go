package database

import "database/sql"

// Queryable is the subset of sqlx functionality which is available on both
// a DB connection and an open transaction. Store methods accept a Queryable
// so callers can choose whether an operation participates in a transaction.
type Queryable interface {
	Exec(query string, args ...any) (sql.Result, error)
	Get(dest any, query string, args ...any) error
	Select(dest any, query string, args ...any) error
	Rebind(query string) string
}
