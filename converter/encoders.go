package converter

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/ragflow"
)

// ── binary/null ─────────────────────────────────────

// NullConverter claims nil values and nil pointers, maps and slices.
type NullConverter struct{}

// Encoding implements EncodingConverter.
func (NullConverter) Encoding() string { return EncodingNull }

// ToPayload implements EncodingConverter.
func (NullConverter) ToPayload(value any) (*Payload, error) {
	if !isNil(value) {
		return nil, nil //nolint:nilnil // declined
	}
	return &Payload{Encoding: EncodingNull}, nil
}

// FromPayload sets *target to its zero value.
func (NullConverter) FromPayload(_ *Payload, target any) error {
	if err := CheckTarget(target); err != nil {
		return err
	}
	elem := reflect.ValueOf(target).Elem()
	elem.Set(reflect.Zero(elem.Type()))
	return nil
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// ── binary/plain ────────────────────────────────────

// ByteSliceConverter passes []byte through untouched.
type ByteSliceConverter struct{}

// Encoding implements EncodingConverter.
func (ByteSliceConverter) Encoding() string { return EncodingPlain }

// ToPayload implements EncodingConverter.
func (ByteSliceConverter) ToPayload(value any) (*Payload, error) {
	b, ok := value.([]byte)
	if !ok {
		return nil, nil //nolint:nilnil // declined
	}
	return &Payload{Encoding: EncodingPlain, Data: append([]byte(nil), b...)}, nil
}

// FromPayload implements EncodingConverter. The target must be *[]byte.
func (ByteSliceConverter) FromPayload(p *Payload, target any) error {
	dst, ok := target.(*[]byte)
	if !ok || dst == nil {
		return fmt.Errorf("%w: %s requires *[]byte, got %T", ragflow.ErrTypeMismatch, EncodingPlain, target)
	}
	*dst = append([]byte(nil), p.Data...)
	return nil
}

// ── json ────────────────────────────────────────────

// JSONConverter is the structural fallback; it claims anything
// encoding/json can represent.
type JSONConverter struct{}

// Encoding implements EncodingConverter.
func (JSONConverter) Encoding() string { return EncodingJSON }

// ToPayload implements EncodingConverter.
func (JSONConverter) ToPayload(value any) (*Payload, error) {
	data, err := json.Marshal(value)
	if err != nil {
		var typeErr *json.UnsupportedTypeError
		var valueErr *json.UnsupportedValueError
		if errors.As(err, &typeErr) || errors.As(err, &valueErr) {
			return nil, nil //nolint:nilnil // declined
		}
		return nil, err
	}
	return &Payload{Encoding: EncodingJSON, Data: data}, nil
}

// FromPayload implements EncodingConverter.
func (JSONConverter) FromPayload(p *Payload, target any) error {
	if err := CheckTarget(target); err != nil {
		return err
	}
	if err := json.Unmarshal(p.Data, target); err != nil {
		return fmt.Errorf("%w: %s into %T: %w", ragflow.ErrTypeMismatch, EncodingJSON, target, err)
	}
	return nil
}

// ── msgpack ─────────────────────────────────────────

// MsgpackConverter is a compact structural alternative to JSONConverter.
type MsgpackConverter struct{}

// Encoding implements EncodingConverter.
func (MsgpackConverter) Encoding() string { return EncodingMsgpack }

// ToPayload implements EncodingConverter. Values msgpack cannot encode,
// such as channels and functions, are declined.
func (MsgpackConverter) ToPayload(value any) (*Payload, error) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return nil, nil //nolint:nilnil,nilerr // declined
	}
	return &Payload{Encoding: EncodingMsgpack, Data: data}, nil
}

// FromPayload implements EncodingConverter.
func (MsgpackConverter) FromPayload(p *Payload, target any) error {
	if err := CheckTarget(target); err != nil {
		return err
	}
	if err := msgpack.Unmarshal(p.Data, target); err != nil {
		return fmt.Errorf("%w: %s into %T: %w", ragflow.ErrTypeMismatch, EncodingMsgpack, target, err)
	}
	return nil
}
