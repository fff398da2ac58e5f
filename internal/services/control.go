package services

// BuildSecurityAccessRequestSeed encodes service 0x27 at an odd level
// to request a seed (spec §4.7).
func BuildSecurityAccessRequestSeed(level byte) []byte {
	return []byte{level}
}

// BuildSecurityAccessSubmitKey encodes service 0x27 at level+1 with the
// computed key appended (spec §4.7).
func BuildSecurityAccessSubmitKey(level byte, key []byte) []byte {
	return append([]byte{level + 1}, key...)
}

// BuildDiagnosticSessionControl encodes service 0x10 (spec §4.7).
func BuildDiagnosticSessionControl(kind byte) []byte {
	return []byte{kind}
}

// TesterPresent sub-functions (spec §4.7).
const (
	TesterPresentSuppressResponse byte = 0x80
	TesterPresentRespond          byte = 0x00
)

// BuildTesterPresent encodes service 0x3E.
func BuildTesterPresent(suppressResponse bool) []byte {
	if suppressResponse {
		return []byte{TesterPresentSuppressResponse}
	}
	return []byte{TesterPresentRespond}
}
