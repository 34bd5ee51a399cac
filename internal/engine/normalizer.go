package engine

import (
	"bytes"
	"encoding/json"

	"orderbook_go/internal/domain"
)

const opNormalize = "normalize response"

// envelopeFields are tried in order when the payload is an object.
var envelopeFields = []string{"orders", "data"}

// orderFields mark an object as a lone order record rather than an unknown envelope.
var orderFields = []string{"side", "price", "quantity", "qty"}

// Normalize converts a backend payload into a sequence of raw order records.
//
// Precedence: a bare array is returned as-is; otherwise the first envelope
// field holding an array ("orders", then "data") is unwrapped; otherwise an
// object that carries order fields is returned as a one-element batch.
// Anything else is a FormatError.
func Normalize(payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, domain.NewFormatError(opNormalize, "empty response body")
	}

	switch trimmed[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, domain.NewFormatError(opNormalize, "malformed order array")
		}
		return list, nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, domain.NewFormatError(opNormalize, "malformed response object")
		}
		for _, field := range envelopeFields {
			if list, ok := asList(obj[field]); ok {
				return list, nil
			}
		}
		if hasAnyField(obj, orderFields) {
			return []json.RawMessage{json.RawMessage(trimmed)}, nil
		}
		return nil, domain.NewFormatError(opNormalize, "unrecognized response shape")

	default:
		return nil, domain.NewFormatError(opNormalize, "response is not an object or array")
	}
}

func asList(raw json.RawMessage) ([]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false
	}
	return list, true
}

func hasAnyField(obj map[string]json.RawMessage, fields []string) bool {
	for _, f := range fields {
		if _, ok := obj[f]; ok {
			return true
		}
	}
	return false
}
