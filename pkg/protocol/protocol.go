// Package protocol defines the closed set of message variants exchanged
// between verifier and storage providers.
//
// There is one variant per protocol phase: Store, StoreUser, Challenge,
// Retrieve, RetrieveUser. Each variant carries a fixed required-field list
// used for signing; the fields are serialized in that fixed order into a
// canonical byte stream before signature computation, so any field mutated
// after signing invalidates the signature. The transport that carries
// these messages is an external collaborator.
package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/arguslabs/argus-store/pkg/merkle"
)

// MessageType identifies a protocol phase.
type MessageType uint8

const (
	// MessageTypeStore distributes ciphertext to a provider and collects
	// the initial commitment.
	MessageTypeStore MessageType = iota + 1
	// MessageTypeStoreUser is the user-facing custodial store request.
	MessageTypeStoreUser
	// MessageTypeChallenge requests a fresh proof over a stored payload.
	MessageTypeChallenge
	// MessageTypeRetrieve fetches ciphertext back from a provider.
	MessageTypeRetrieve
	// MessageTypeRetrieveUser is the user-facing custodial retrieve.
	MessageTypeRetrieveUser
)

var messageTypeNames = map[MessageType]string{
	MessageTypeStore:        "Store",
	MessageTypeStoreUser:    "StoreUser",
	MessageTypeChallenge:    "Challenge",
	MessageTypeRetrieve:     "Retrieve",
	MessageTypeRetrieveUser: "RetrieveUser",
}

// String returns the name of the message type.
func (mt MessageType) String() string {
	if name, ok := messageTypeNames[mt]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", mt)
}

// Signable is implemented by every message variant. RequiredHashFields
// lists the signed fields in their fixed serialization order;
// SigningBytes produces the canonical byte stream over exactly those
// fields.
type Signable interface {
	Type() MessageType
	RequiredHashFields() []string
	SigningBytes() []byte
}

// Digest returns the signing digest of a message.
func Digest(s Signable) []byte {
	sum := sha256.Sum256(s.SigningBytes())
	return sum[:]
}

// Store carries ciphertext and commitment setup to a provider. The
// provider fills the response fields and signs.
type Store struct {
	// Request
	EncryptedData []byte
	Curve         string
	G             string // base generator, hex point
	H             string // second generator, hex point
	Seed          []byte

	// Response
	Randomness     string // hex scalar
	Commitment     string // hex point
	CommitmentHash string
	Signature      []byte
}

func (m *Store) Type() MessageType { return MessageTypeStore }

func (m *Store) RequiredHashFields() []string {
	return []string{"curve", "g", "h", "seed", "randomness", "commitment", "commitment_hash"}
}

func (m *Store) SigningBytes() []byte {
	var e encoder
	e.str("curve", m.Curve)
	e.str("g", m.G)
	e.str("h", m.H)
	e.bytes("seed", m.Seed)
	e.str("randomness", m.Randomness)
	e.str("commitment", m.Commitment)
	e.str("commitment_hash", m.CommitmentHash)
	return e.sum()
}

// StoreUser is the user-facing store request. EncryptedData is the user's
// own ciphertext (base64 over the external transport) and
// EncryptionPayload the serialized descriptor needed to reverse it, which
// the network persists but cannot open.
type StoreUser struct {
	// Request
	EncryptedData     []byte
	EncryptionPayload string

	// Response
	DataHash string
}

func (m *StoreUser) Type() MessageType { return MessageTypeStoreUser }

func (m *StoreUser) RequiredHashFields() []string {
	return []string{"encrypted_data", "encryption_payload"}
}

func (m *StoreUser) SigningBytes() []byte {
	var e encoder
	e.bytes("encrypted_data", m.EncryptedData)
	e.str("encryption_payload", m.EncryptionPayload)
	return e.sum()
}

// Challenge asks a provider to prove possession of one chunk of a stored
// payload, chosen by the round seed.
type Challenge struct {
	// Request
	ChallengeHash  string // ContentID of the challenged payload
	ChallengeIndex int
	ChunkSize      int
	Curve          string
	G              string
	H              string
	Seed           []byte

	// Response
	CommitmentHash  string
	CommitmentProof []byte // inner chain hash sha256(data || prev_seed)
	Commitment      string // hex point over the challenged chunk
	DataChunk       []byte
	Randomness      string // hex scalar
	MerkleProof     merkle.Proof
	MerkleRoot      string
	Signature       []byte
}

func (m *Challenge) Type() MessageType { return MessageTypeChallenge }

func (m *Challenge) RequiredHashFields() []string {
	return []string{
		"commitment_hash", "commitment_proof", "commitment",
		"data_chunk", "randomness", "merkle_proof", "merkle_root",
	}
}

func (m *Challenge) SigningBytes() []byte {
	var e encoder
	e.str("commitment_hash", m.CommitmentHash)
	e.bytes("commitment_proof", m.CommitmentProof)
	e.str("commitment", m.Commitment)
	e.bytes("data_chunk", m.DataChunk)
	e.str("randomness", m.Randomness)
	e.proof("merkle_proof", m.MerkleProof)
	e.str("merkle_root", m.MerkleRoot)
	return e.sum()
}

// Retrieve fetches the full ciphertext back, bound to a fresh seed so the
// response proves current possession rather than a cached transcript.
type Retrieve struct {
	// Request
	DataHash string
	Seed     []byte

	// Response
	Data            []byte
	CommitmentHash  string
	CommitmentProof []byte
	Signature       []byte
}

func (m *Retrieve) Type() MessageType { return MessageTypeRetrieve }

func (m *Retrieve) RequiredHashFields() []string {
	return []string{"data", "data_hash", "seed", "commitment_proof", "commitment_hash"}
}

func (m *Retrieve) SigningBytes() []byte {
	var e encoder
	e.bytes("data", m.Data)
	e.str("data_hash", m.DataHash)
	e.bytes("seed", m.Seed)
	e.bytes("commitment_proof", m.CommitmentProof)
	e.str("commitment_hash", m.CommitmentHash)
	return e.sum()
}

// RetrieveUser is the user-facing retrieve: the network returns the user's
// original ciphertext and encryption payload for the ContentID.
type RetrieveUser struct {
	// Request
	DataHash string

	// Response
	EncryptedData     []byte
	EncryptionPayload string
}

func (m *RetrieveUser) Type() MessageType { return MessageTypeRetrieveUser }

func (m *RetrieveUser) RequiredHashFields() []string {
	return []string{"data_hash"}
}

func (m *RetrieveUser) SigningBytes() []byte {
	var e encoder
	e.str("data_hash", m.DataHash)
	return e.sum()
}

// encoder builds the canonical signing stream. Every field is emitted as
// uvarint(len(name)) || name || uvarint(len(value)) || value, which makes
// the stream unambiguous regardless of field contents.
type encoder struct {
	buf []byte
}

func (e *encoder) field(name string, value []byte) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(name)))
	e.buf = append(e.buf, tmp[:n]...)
	e.buf = append(e.buf, name...)
	n = binary.PutUvarint(tmp[:], uint64(len(value)))
	e.buf = append(e.buf, tmp[:n]...)
	e.buf = append(e.buf, value...)
}

func (e *encoder) str(name, value string) { e.field(name, []byte(value)) }

func (e *encoder) bytes(name string, value []byte) { e.field(name, value) }

func (e *encoder) proof(name string, p merkle.Proof) {
	var flat []byte
	for _, step := range p {
		if step.Right {
			flat = append(flat, 1)
		} else {
			flat = append(flat, 0)
		}
		flat = append(flat, step.Hash...)
	}
	e.field(name, flat)
}

func (e *encoder) sum() []byte { return e.buf }
