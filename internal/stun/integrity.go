package stun

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // HMAC-SHA1 is the STUN-mandated algorithm (RFC 5389 Section 15.4), not used for anything but wire compatibility.
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"github.com/dantte-lp/natcore/internal/errkind"
)

const integrityLen = 20 // HMAC-SHA1 digest length.

var (
	errNoIntegrityAttr = errors.New("message has no MESSAGE-INTEGRITY attribute")
	errBadIntegrityLen = errors.New("MESSAGE-INTEGRITY attribute has wrong length")
)

// attrLoc locates one attribute's TLV within a raw, already-encoded message.
type attrLoc struct {
	typ    uint16
	offset int // byte offset of the attribute's type field within raw
	value  []byte
}

// locateAttrs walks the already-encoded wire bytes of a message and returns
// the byte offset of each attribute. Used to recompute MESSAGE-INTEGRITY the
// way the wire codec requires: by patching the length field and hashing a
// prefix of the original bytes, rather than re-serializing attributes.
func locateAttrs(raw []byte) ([]attrLoc, error) {
	if len(raw) < headerSize {
		return nil, errkind.New(errkind.Malformed, errTooShort)
	}

	length := int(binary.BigEndian.Uint16(raw[2:4]))
	if length > len(raw)-headerSize {
		return nil, errkind.New(errkind.Malformed, errLengthMismatch)
	}

	var locs []attrLoc
	offset := headerSize
	end := headerSize + length
	for offset < end {
		if end-offset < attrHeaderSize {
			return nil, errkind.New(errkind.Malformed, errTruncatedAttr)
		}
		aType := binary.BigEndian.Uint16(raw[offset : offset+2])
		aLen := int(binary.BigEndian.Uint16(raw[offset+2 : offset+4]))
		tlvStart := offset
		valStart := offset + attrHeaderSize
		if aLen > end-valStart {
			return nil, errkind.New(errkind.Malformed, errTruncatedAttr)
		}
		locs = append(locs, attrLoc{typ: aType, offset: tlvStart, value: raw[valStart : valStart+aLen]})
		offset = valStart + paddedLen(aLen)
	}

	return locs, nil
}

// integrityMAC computes the HMAC-SHA1 digest over raw[:offset], with the
// message length field (bytes 2:4) patched to cover exactly offset plus one
// 24-byte MESSAGE-INTEGRITY attribute (4-byte header + 20-byte digest), per
// RFC 5389 Section 15.4.
func integrityMAC(raw []byte, offset int, key []byte) []byte {
	patched := make([]byte, offset)
	copy(patched, raw[:offset])

	patchedLength := uint16(offset - headerSize + attrHeaderSize + integrityLen) //nolint:gosec // bounded by caller
	binary.BigEndian.PutUint16(patched[2:4], patchedLength)

	mac := hmac.New(sha1.New, key)
	mac.Write(patched)
	return mac.Sum(nil)
}

// AddMessageIntegrity appends a MESSAGE-INTEGRITY attribute computed over
// m's attributes as currently set. Call this after all other attributes are
// added and before the final Marshal. The key is the shared secret returned
// by the credentials registry for the request's USERNAME prefix.
func AddMessageIntegrity(m *Message, key []byte) error {
	partial, err := m.Marshal()
	if err != nil {
		return err
	}

	mac := integrityMAC(partial, len(partial), key)
	m.Attributes = append(m.Attributes, Attribute{Type: AttrMessageIntegrity, Value: mac})
	return nil
}

// VerifyMessageIntegrity recomputes the HMAC-SHA1 digest over m.Raw up to
// the MESSAGE-INTEGRITY attribute and compares it in constant time against
// the attribute's value. m must have been produced by Parse (m.Raw set).
func VerifyMessageIntegrity(m *Message, key []byte) (bool, error) {
	if m.Raw == nil {
		return false, errkind.New(errkind.ProtocolViolation, errNoIntegrityAttr)
	}

	locs, err := locateAttrs(m.Raw)
	if err != nil {
		return false, err
	}

	for _, loc := range locs {
		if loc.typ != AttrMessageIntegrity {
			continue
		}
		if len(loc.value) != integrityLen {
			return false, errkind.New(errkind.Malformed, errBadIntegrityLen)
		}
		expected := integrityMAC(m.Raw, loc.offset, key)
		return subtle.ConstantTimeCompare(expected, loc.value) == 1, nil
	}

	return false, errkind.New(errkind.ProtocolViolation, errNoIntegrityAttr)
}
