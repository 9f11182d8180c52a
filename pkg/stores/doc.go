// Package stores persists build history in SQLite: sealed plans, build runs,
// their native steps and an append-only event log. Schema changes are
// embedded golang-migrate migrations.
package stores
