package stun

import "encoding/binary"

// Standard error codes mirrored on the STUN wire (RFC 5389 Section 15.6).
const (
	CodeBadRequest       = 400
	CodeUnauthorized     = 401
	CodeUnknownAttribute = 420
)

var reasonPhrases = map[int]string{
	CodeBadRequest:       "Bad Request",
	CodeUnauthorized:     "Unauthorized",
	CodeUnknownAttribute: "Unknown Attribute",
}

// encodeErrorCode builds an ERROR-CODE attribute value: 2 reserved bytes, a
// class byte (code/100) and number byte (code%100), then the UTF-8 reason.
func encodeErrorCode(code int, reason string) []byte {
	v := make([]byte, 4+len(reason))
	v[2] = byte(code / 100) //nolint:gosec // code is always a small constant above
	v[3] = byte(code % 100) //nolint:gosec
	copy(v[4:], reason)
	return v
}

// encodeUnknownAttributes builds an UNKNOWN-ATTRIBUTES attribute value: a
// list of 2-byte attribute type codes, padded with a repeated last entry if
// the count is odd so the value lands on a 4-byte boundary.
func encodeUnknownAttributes(types []uint16) []byte {
	list := types
	if len(list)%2 == 1 {
		list = append(append([]uint16{}, list...), list[len(list)-1])
	}
	v := make([]byte, 2*len(list))
	for i, t := range list {
		binary.BigEndian.PutUint16(v[2*i:2*i+2], t)
	}
	return v
}

// errorResponse builds a STUN error-response for req carrying one
// ERROR-CODE attribute with the given code and default reason phrase.
func errorResponse(req *Message, code int) *Message {
	return &Message{
		Class:         ClassErrorResponse,
		Method:        req.Method,
		TransactionID: req.TransactionID,
		Attributes: []Attribute{
			{Type: AttrErrorCode, Value: encodeErrorCode(code, reasonPhrases[code])},
		},
	}
}

// unknownAttributesResponse builds a 420 error-response listing the
// comprehension-required attribute types req carried that this core does
// not recognize.
func unknownAttributesResponse(req *Message, unknown []uint16) *Message {
	m := errorResponse(req, CodeUnknownAttribute)
	m.Attributes = append(m.Attributes, Attribute{
		Type:  AttrUnknownAttributes,
		Value: encodeUnknownAttributes(unknown),
	})
	return m
}
