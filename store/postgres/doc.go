// Package postgres implements store.Store on PostgreSQL using pgx/v5 with
// raw SQL and embedded migrations.
//
// A partial unique index on ragflow_runs(key) WHERE state = 'running'
// guarantees one running run per key across every process sharing the
// database. Invocations live in ragflow_invocations keyed by (run_id, seq)
// and are written with upserts.
package postgres
