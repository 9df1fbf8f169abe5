package protocol

import (
	"bytes"
	"testing"

	"github.com/arguslabs/argus-store/pkg/identity"
	"github.com/arguslabs/argus-store/pkg/merkle"
)

func sampleChallenge() *Challenge {
	return &Challenge{
		ChallengeHash:   "hash",
		ChallengeIndex:  3,
		ChunkSize:       1024,
		Curve:           "BN254",
		Seed:            []byte("seed"),
		CommitmentHash:  "chain-hash",
		CommitmentProof: []byte("proof"),
		Commitment:      "point",
		DataChunk:       []byte("chunk bytes"),
		Randomness:      "scalar",
		MerkleProof: merkle.Proof{
			{Hash: bytes.Repeat([]byte{1}, 32), Right: true},
			{Hash: bytes.Repeat([]byte{2}, 32), Right: false},
		},
		MerkleRoot: "root",
	}
}

func TestMessageType_String(t *testing.T) {
	tests := []struct {
		mt   MessageType
		want string
	}{
		{MessageTypeStore, "Store"},
		{MessageTypeStoreUser, "StoreUser"},
		{MessageTypeChallenge, "Challenge"},
		{MessageTypeRetrieve, "Retrieve"},
		{MessageTypeRetrieveUser, "RetrieveUser"},
		{MessageType(99), "Unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.mt.String(); got != tt.want {
			t.Errorf("MessageType(%d).String() = %q, want %q", tt.mt, got, tt.want)
		}
	}
}

func TestRequiredHashFields_FixedOrder(t *testing.T) {
	tests := []struct {
		msg  Signable
		want []string
	}{
		{&Store{}, []string{"curve", "g", "h", "seed", "randomness", "commitment", "commitment_hash"}},
		{&StoreUser{}, []string{"encrypted_data", "encryption_payload"}},
		{&Challenge{}, []string{"commitment_hash", "commitment_proof", "commitment", "data_chunk", "randomness", "merkle_proof", "merkle_root"}},
		{&Retrieve{}, []string{"data", "data_hash", "seed", "commitment_proof", "commitment_hash"}},
		{&RetrieveUser{}, []string{"data_hash"}},
	}

	for _, tt := range tests {
		t.Run(tt.msg.Type().String(), func(t *testing.T) {
			got := tt.msg.RequiredHashFields()
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d fields, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("field %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestSigningBytes_Stable(t *testing.T) {
	msg := sampleChallenge()

	first := msg.SigningBytes()
	second := msg.SigningBytes()
	if !bytes.Equal(first, second) {
		t.Error("SigningBytes not stable across calls")
	}
}

func TestSigningBytes_FieldSensitivity(t *testing.T) {
	base := sampleChallenge().SigningBytes()

	mutations := map[string]func(*Challenge){
		"commitment_hash":  func(m *Challenge) { m.CommitmentHash = "x" },
		"commitment_proof": func(m *Challenge) { m.CommitmentProof = []byte("x") },
		"commitment":       func(m *Challenge) { m.Commitment = "x" },
		"data_chunk":       func(m *Challenge) { m.DataChunk = []byte("x") },
		"randomness":       func(m *Challenge) { m.Randomness = "x" },
		"merkle_root":      func(m *Challenge) { m.MerkleRoot = "x" },
		"merkle_proof direction": func(m *Challenge) {
			m.MerkleProof[0].Right = !m.MerkleProof[0].Right
		},
		"merkle_proof hash": func(m *Challenge) {
			m.MerkleProof[0].Hash[0] ^= 1
		},
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			msg := sampleChallenge()
			mutate(msg)
			if bytes.Equal(base, msg.SigningBytes()) {
				t.Error("mutation did not change the signing bytes")
			}
		})
	}
}

func TestSigningBytes_IgnoresSignature(t *testing.T) {
	msg := sampleChallenge()
	base := msg.SigningBytes()

	msg.Signature = []byte("anything")
	if !bytes.Equal(base, msg.SigningBytes()) {
		t.Error("signature field leaked into the signing bytes")
	}

	// The requested index and chunk size are verifier-chosen inputs, not
	// signed response fields.
	msg.ChallengeIndex = 99
	if !bytes.Equal(base, msg.SigningBytes()) {
		t.Error("challenge index leaked into the signing bytes")
	}
}

func TestSigningBytes_Unambiguous(t *testing.T) {
	// Shifting bytes between adjacent fields must change the stream.
	a := &StoreUser{EncryptedData: []byte("ab"), EncryptionPayload: "c"}
	b := &StoreUser{EncryptedData: []byte("a"), EncryptionPayload: "bc"}
	if bytes.Equal(a.SigningBytes(), b.SigningBytes()) {
		t.Error("field boundary ambiguity in the signing stream")
	}
}

func TestSignVerify(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	msg := sampleChallenge()
	msg.Signature = Sign(id, msg)

	if !Verify(id.ID(), msg, msg.Signature) {
		t.Error("valid signature rejected")
	}

	// Any signed field mutated after signing invalidates the signature.
	msg.DataChunk = []byte("swapped chunk")
	if Verify(id.ID(), msg, msg.Signature) {
		t.Error("signature survived a field mutation")
	}
}

func TestVerify_WrongSigner(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	other, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	msg := &Retrieve{DataHash: "hash", Seed: []byte("seed"), Data: []byte("data")}
	sig := Sign(id, msg)

	if Verify(other.ID(), msg, sig) {
		t.Error("signature verified under the wrong identity")
	}
}
