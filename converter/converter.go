package converter

import (
	"fmt"
	"reflect"

	"github.com/xraph/ragflow"
)

// EncodingConverter handles a single encoding tag.
//
// ToPayload returns (nil, nil) when the converter does not claim the
// value, letting the next converter in the chain try.
type EncodingConverter interface {
	Encoding() string
	ToPayload(value any) (*Payload, error)
	FromPayload(p *Payload, target any) error
}

// DataConverter is what the coordinator and executor encode through.
type DataConverter interface {
	ToPayload(value any) (*Payload, error)
	FromPayload(p *Payload, target any) error
	ToPayloads(values ...any) ([]*Payload, error)
	FromPayloads(ps []*Payload, targets ...any) error
}

// CompositeConverter tries its converters in order. It is immutable after
// construction and safe for concurrent use.
type CompositeConverter struct {
	order []EncodingConverter
	byTag map[string]EncodingConverter
}

var _ DataConverter = (*CompositeConverter)(nil)

// NewComposite builds a converter from an explicit ordered list. When two
// converters share a tag the earlier one decodes it.
func NewComposite(converters ...EncodingConverter) *CompositeConverter {
	c := &CompositeConverter{
		order: make([]EncodingConverter, 0, len(converters)),
		byTag: make(map[string]EncodingConverter, len(converters)),
	}
	for _, conv := range converters {
		c.order = append(c.order, conv)
		if _, ok := c.byTag[conv.Encoding()]; !ok {
			c.byTag[conv.Encoding()] = conv
		}
	}
	return c
}

// New returns the default chain with custom converters chained before it.
func New(custom ...EncodingConverter) *CompositeConverter {
	chain := make([]EncodingConverter, 0, len(custom)+3)
	chain = append(chain, custom...)
	chain = append(chain, Defaults()...)
	return NewComposite(chain...)
}

// NewForCodec is like New but lets the structural default be json or
// msgpack. JSON payloads stay decodable with the msgpack codec.
func NewForCodec(codec string, custom ...EncodingConverter) (*CompositeConverter, error) {
	switch codec {
	case "", EncodingJSON:
		return New(custom...), nil
	case EncodingMsgpack:
		chain := make([]EncodingConverter, 0, len(custom)+4)
		chain = append(chain, custom...)
		chain = append(chain, NullConverter{}, ByteSliceConverter{}, MsgpackConverter{}, JSONConverter{})
		return NewComposite(chain...), nil
	default:
		return nil, fmt.Errorf("%w: codec %q", ragflow.ErrUnknownEncoding, codec)
	}
}

// Defaults returns the default chain: binary/null, binary/plain, json.
func Defaults() []EncodingConverter {
	return []EncodingConverter{NullConverter{}, ByteSliceConverter{}, JSONConverter{}}
}

// Encodings lists the tags in encode order.
func (c *CompositeConverter) Encodings() []string {
	tags := make([]string, len(c.order))
	for i, conv := range c.order {
		tags[i] = conv.Encoding()
	}
	return tags
}

// ToPayload encodes value with the first converter that claims it.
func (c *CompositeConverter) ToPayload(value any) (*Payload, error) {
	for _, conv := range c.order {
		p, err := conv.ToPayload(value)
		if err != nil {
			return nil, fmt.Errorf("converter: encode %T as %s: %w", value, conv.Encoding(), err)
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %T", ragflow.ErrUnsupportedType, value)
}

// FromPayload decodes p into target, which must be a non-nil pointer.
// A nil payload decodes as binary/null.
func (c *CompositeConverter) FromPayload(p *Payload, target any) error {
	if p == nil {
		p = &Payload{Encoding: EncodingNull}
	}
	conv, ok := c.byTag[p.Encoding]
	if !ok {
		return fmt.Errorf("%w: %q", ragflow.ErrUnknownEncoding, p.Encoding)
	}
	return conv.FromPayload(p, target)
}

// ToPayloads encodes each value in order.
func (c *CompositeConverter) ToPayloads(values ...any) ([]*Payload, error) {
	out := make([]*Payload, len(values))
	for i, v := range values {
		p, err := c.ToPayload(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// FromPayloads decodes each payload into the target at the same position.
func (c *CompositeConverter) FromPayloads(ps []*Payload, targets ...any) error {
	if len(ps) != len(targets) {
		return fmt.Errorf("%w: have %d payloads for %d targets", ragflow.ErrTypeMismatch, len(ps), len(targets))
	}
	for i, p := range ps {
		if err := c.FromPayload(p, targets[i]); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return nil
}

// CheckTarget returns ErrTypeMismatch unless target is a non-nil pointer.
func CheckTarget(target any) error {
	rv := reflect.ValueOf(target)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: target %T is not a non-nil pointer", ragflow.ErrTypeMismatch, target)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Function-backed converter
// ──────────────────────────────────────────────────

type funcConverter struct {
	tag    string
	claims func(any) bool
	encode func(any) ([]byte, error)
	decode func([]byte, any) error
}

// NewFuncConverter builds an EncodingConverter from a tag, a predicate
// selecting the values it claims, and an encode/decode pair.
func NewFuncConverter(
	tag string,
	claims func(any) bool,
	encode func(any) ([]byte, error),
	decode func([]byte, any) error,
) EncodingConverter {
	return &funcConverter{tag: tag, claims: claims, encode: encode, decode: decode}
}

func (f *funcConverter) Encoding() string { return f.tag }

func (f *funcConverter) ToPayload(value any) (*Payload, error) {
	if !f.claims(value) {
		return nil, nil //nolint:nilnil // declined
	}
	data, err := f.encode(value)
	if err != nil {
		return nil, err
	}
	return &Payload{Encoding: f.tag, Data: data}, nil
}

func (f *funcConverter) FromPayload(p *Payload, target any) error {
	if err := CheckTarget(target); err != nil {
		return err
	}
	if err := f.decode(p.Data, target); err != nil {
		return fmt.Errorf("%w: %s: %w", ragflow.ErrTypeMismatch, f.tag, err)
	}
	return nil
}
