package graph

import (
	"encoding/json"
	"fmt"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/converter"
)

// Encoding is the payload tag for serialized pipelines.
const Encoding = "graph/v1"

// PayloadConverter encodes pipelines and descriptors under graph/v1.
type PayloadConverter struct {
	registry *Registry
}

var _ converter.EncodingConverter = (*PayloadConverter)(nil)

// NewPayloadConverter returns a converter that rebuilds stages through reg.
func NewPayloadConverter(reg *Registry) *PayloadConverter {
	return &PayloadConverter{registry: reg}
}

// Encoding implements converter.EncodingConverter.
func (c *PayloadConverter) Encoding() string { return Encoding }

// ToPayload claims *Pipeline, Pipeline, *Descriptor and Descriptor.
// Nil pointers are left to the null converter.
func (c *PayloadConverter) ToPayload(value any) (*converter.Payload, error) {
	var d Descriptor
	switch v := value.(type) {
	case *Pipeline:
		if v == nil {
			return nil, nil //nolint:nilnil // declined
		}
		d = v.Descriptor()
	case Pipeline:
		d = v.Descriptor()
	case *Descriptor:
		if v == nil {
			return nil, nil //nolint:nilnil // declined
		}
		d = *v
	case Descriptor:
		d = v
	default:
		return nil, nil //nolint:nilnil // declined
	}

	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("graph: marshal descriptor: %w", err)
	}
	return &converter.Payload{Encoding: Encoding, Data: data}, nil
}

// FromPayload decodes into *Descriptor, *Pipeline or **Pipeline.
func (c *PayloadConverter) FromPayload(p *converter.Payload, target any) error {
	var d Descriptor
	if err := json.Unmarshal(p.Data, &d); err != nil {
		return fmt.Errorf("%w: %s: %w", ragflow.ErrTypeMismatch, Encoding, err)
	}

	switch t := target.(type) {
	case *Descriptor:
		if t == nil {
			break
		}
		*t = d
		return nil
	case **Pipeline:
		if t == nil {
			break
		}
		pl, err := c.rebuild(d)
		if err != nil {
			return err
		}
		*t = pl
		return nil
	case *Pipeline:
		if t == nil {
			break
		}
		pl, err := c.rebuild(d)
		if err != nil {
			return err
		}
		*t = *pl
		return nil
	}
	return fmt.Errorf("%w: %s cannot decode into %T", ragflow.ErrTypeMismatch, Encoding, target)
}

// errNeedsRegistry is returned when a structural codec tries to decode a
// pipeline. Stages are rebuilt from their specs through a Registry, which
// only PayloadConverter holds.
var errNeedsRegistry = fmt.Errorf("%w: pipeline stages need a component registry; decode a %s payload", ragflow.ErrTypeMismatch, Encoding)

// UnmarshalJSON rejects plain json decoding, which would otherwise leave
// an empty pipeline.
func (p *Pipeline) UnmarshalJSON([]byte) error { return errNeedsRegistry }

// UnmarshalMsgpack rejects plain msgpack decoding for the same reason.
func (p *Pipeline) UnmarshalMsgpack([]byte) error { return errNeedsRegistry }

func (c *PayloadConverter) rebuild(d Descriptor) (*Pipeline, error) {
	pl, err := FromDescriptor(d, c.registry)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ragflow.ErrTypeMismatch, Encoding, err)
	}
	return pl, nil
}
