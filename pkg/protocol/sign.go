package protocol

import (
	"github.com/arguslabs/argus-store/pkg/identity"
)

// Sign signs the canonical digest of the message's required fields.
func Sign(id *identity.Identity, s Signable) []byte {
	return id.Sign(Digest(s))
}

// Verify checks a signature over the message's required fields against a
// hex-encoded provider identity.
func Verify(providerID string, s Signable, sig []byte) bool {
	return identity.VerifyID(providerID, Digest(s), sig)
}
