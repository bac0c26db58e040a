// Package id provides the prefixed identifiers of runs, activity
// invocations and workers.
//
// An ID renders as "prefix_suffix" where the suffix is a UUIDv7 in base32,
// so IDs of one kind sort by creation time. The zero ID renders as "" and
// is stored as NULL.
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the kind of entity an ID refers to.
type Prefix string

const (
	PrefixRun        Prefix = "run"
	PrefixInvocation Prefix = "act"
	PrefixWorker     Prefix = "wkr"
)

// RunID identifies a workflow run.
type RunID = ID

// InvocationID identifies one scheduled activity step.
type InvocationID = ID

// WorkerID identifies a runner process or worker pool; it is the owner
// recorded on leased runs.
type WorkerID = ID

// ID is a typeid with a known prefix. Use New or one of the Parse
// functions to obtain a non-zero value.
//
//nolint:recvcheck // Scan and UnmarshalText mutate, the rest read.
type ID struct {
	tid typeid.TypeID
	set bool
}

var errEmpty = errors.New("empty string")

func NewRunID() RunID               { return New(PrefixRun) }
func NewInvocationID() InvocationID { return New(PrefixInvocation) }
func NewWorkerID() WorkerID         { return New(PrefixWorker) }

func ParseRunID(s string) (RunID, error)               { return ParseWithPrefix(s, PrefixRun) }
func ParseInvocationID(s string) (InvocationID, error) { return ParseWithPrefix(s, PrefixInvocation) }
func ParseWorkerID(s string) (WorkerID, error)         { return ParseWithPrefix(s, PrefixWorker) }

// New returns a fresh ID under prefix. The prefixes above are constants,
// so a generation failure is a bug and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{tid: tid, set: true}
}

// Parse accepts any prefix.
func Parse(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("id: parse: %w", errEmpty)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

// ParseWithPrefix parses s and rejects it unless its prefix is want.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return ID{}, err
	}
	if got := v.Prefix(); got != want {
		return ID{}, fmt.Errorf("id: %q has prefix %q, want %q", s, got, want)
	}
	return v, nil
}

func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.set }

func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText maps empty input to the zero ID.
func (i *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = ID{}
		return nil
	}
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Value stores the zero ID as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

// Scan reads a text column; NULL and "" both yield the zero ID.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = ID{}
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: scan %T: unsupported source", src)
	}
}
