// Package converter encodes values into tagged payloads and back.
//
// A CompositeConverter holds an ordered list of EncodingConverters. On
// encode the first converter that claims the value wins; on decode the
// payload's encoding tag selects the converter. Custom converters are
// placed before the default chain (binary/null, binary/plain, json), so a
// domain encoding such as graph/v1 takes precedence over the generic
// structural fallback.
package converter
