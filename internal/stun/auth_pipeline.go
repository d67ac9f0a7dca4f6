package stun

import "strings"

// Credentials is the credentials collaborator the transaction layer
// consumes for request validation. Implementations may back short-term
// (ICE connectivity-check) or long-term keys; the transaction layer does
// not distinguish them.
type Credentials interface {
	// LocalKey returns the shared key for username, if known.
	LocalKey(username string) (key []byte, ok bool)
	// CheckLocalUsername reports whether username is recognized at all,
	// independent of whether a key lookup would succeed.
	CheckLocalUsername(username string) bool
}

// knownComprehensionRequired lists the comprehension-required (type < 0x8000)
// attribute types this core understands without help from the caller.
var knownComprehensionRequired = map[uint16]bool{
	AttrUsername:         true,
	AttrMessageIntegrity: true,
	AttrErrorCode:        true,
}

// usernamePrefix splits a USERNAME attribute value at the first colon,
// returning the portion used as the credentials lookup key.
func usernamePrefix(username string) string {
	if i := strings.IndexByte(username, ':'); i >= 0 {
		return username[:i]
	}
	return username
}

// validateRequest runs the §4.2 request validation pipeline. It returns
// (true, nil, 0) when the request should be delivered to the user, or
// (false, errResp, code) with the synchronous error response to send
// instead and its numeric response code, for metrics labeling.
func validateRequest(req *Message, creds Credentials) (bool, *Message, int) {
	usernameAttr, hasUsername := req.GetAttribute(AttrUsername)

	// (a) USERNAME present: must resolve via credentials. The local lookup
	// key is everything before the first colon (SPEC_FULL.md §4.1's
	// combined-username convention, e.g. "alice:xyz" looks up "alice").
	if hasUsername && !creds.CheckLocalUsername(usernamePrefix(string(usernameAttr.Value))) {
		return false, errorResponse(req, CodeUnauthorized), CodeUnauthorized
	}

	_, hasIntegrity := req.GetAttribute(AttrMessageIntegrity)

	// (b) MESSAGE-INTEGRITY present: require USERNAME and verify HMAC.
	if hasIntegrity {
		if !hasUsername {
			return false, errorResponse(req, CodeUnauthorized), CodeUnauthorized
		}

		prefix := usernamePrefix(string(usernameAttr.Value))
		key, ok := creds.LocalKey(prefix)
		if !ok {
			return false, errorResponse(req, CodeUnauthorized), CodeUnauthorized
		}

		valid, err := VerifyMessageIntegrity(req, key)
		if err != nil || !valid {
			return false, errorResponse(req, CodeUnauthorized), CodeUnauthorized
		}
	} else {
		// (c) MESSAGE-INTEGRITY absent.
		return false, errorResponse(req, CodeUnauthorized), CodeUnauthorized
	}

	// (d) reject comprehension-required attributes this core does not know.
	var unknown []uint16
	for _, a := range req.Attributes {
		if a.Type >= 0x8000 {
			continue // comprehension-optional
		}
		if !knownComprehensionRequired[a.Type] {
			unknown = append(unknown, a.Type)
		}
	}
	if len(unknown) > 0 {
		return false, unknownAttributesResponse(req, unknown), CodeUnknownAttribute
	}

	return true, nil, 0
}
