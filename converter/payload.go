package converter

import "bytes"

// Encoding tags of the default chain.
const (
	EncodingNull    = "binary/null"
	EncodingPlain   = "binary/plain"
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Payload is the envelope every value crosses the activity boundary in.
type Payload struct {
	Encoding string `json:"encoding" msgpack:"encoding"`
	Data     []byte `json:"data" msgpack:"data"`
}

// Equal reports whether two payloads carry the same tag and bytes.
func (p *Payload) Equal(other *Payload) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Encoding == other.Encoding && bytes.Equal(p.Data, other.Data)
}

// EqualPayloads reports whether two payload lists are pairwise equal.
func EqualPayloads(a, b []*Payload) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
