package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/ragflow/converter"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isForeignKeyViolation checks for a foreign_key_violation (23503).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

// splitPayload returns the encoding and data columns for p. A nil payload
// maps to two NULLs.
func splitPayload(p *converter.Payload) (*string, []byte) {
	if p == nil {
		return nil, nil
	}
	enc := p.Encoding
	data := p.Data
	if data == nil {
		data = []byte{}
	}
	return &enc, data
}

// joinPayload is the inverse of splitPayload.
func joinPayload(enc *string, data []byte) *converter.Payload {
	if enc == nil {
		return nil
	}
	return &converter.Payload{Encoding: *enc, Data: data}
}
