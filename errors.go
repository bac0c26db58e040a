package ragflow

import "errors"

var (
	// Codec errors.
	ErrUnsupportedType = errors.New("ragflow: no encoder accepts value")
	ErrUnknownEncoding = errors.New("ragflow: unknown payload encoding")
	ErrTypeMismatch    = errors.New("ragflow: payload does not decode into target")

	// Activity errors.
	ErrActivityTimeout  = errors.New("ragflow: activity timed out")
	ErrActivityFailure  = errors.New("ragflow: activity failed")
	ErrActivityNotFound = errors.New("ragflow: activity not registered")

	// Run errors.
	ErrRunFailed        = errors.New("ragflow: run failed")
	ErrCancelled        = errors.New("ragflow: run cancelled")
	ErrNondeterminism   = errors.New("ragflow: workflow decision does not match history")
	ErrWorkflowNotFound = errors.New("ragflow: workflow not registered")

	// Gateway errors.
	ErrGatewayFault = errors.New("ragflow: gateway fault")

	// Store errors.
	ErrNoStore          = errors.New("ragflow: no store configured")
	ErrStoreClosed      = errors.New("ragflow: store closed")
	ErrMigrationFailed  = errors.New("ragflow: migration failed")
	ErrRunNotFound      = errors.New("ragflow: run not found")
	ErrRunAlreadyExists = errors.New("ragflow: active run already exists for key")
	ErrRunLeased        = errors.New("ragflow: run is leased by another owner")
	ErrLeaseLost        = errors.New("ragflow: run lease acquired by another owner")

	// State errors.
	ErrInvalidState = errors.New("ragflow: invalid state transition")
)
