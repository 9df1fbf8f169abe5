// Package merkle splits ciphertext into fixed-size chunks and builds a
// binary Merkle tree over the chunk hashes, producing inclusion proofs for
// challenged chunk indices.
//
// Leaves are sha256 of the chunk bytes, internal nodes sha256(left||right).
// An odd number of nodes at any level is resolved by duplicating the last
// node, so root computation is total for every non-empty chunk count.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	chunker "github.com/ipfs/boxo/chunker"
)

// ErrProofMismatch is returned when an inclusion proof fails to reconcile
// with the expected root. Callers treat this as tampering or data loss.
var ErrProofMismatch = errors.New("merkle: proof mismatch")

// Chunk is one fixed-size slice of a ciphertext. The last chunk of a
// payload may be shorter than the configured size.
type Chunk struct {
	Hash [sha256.Size]byte
	Data []byte
}

// Split cuts data into chunkSize-byte chunks. Zero-length input yields an
// empty set; deciding whether that is an error is the caller's business.
func Split(data []byte, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("merkle: invalid chunk size %d", chunkSize)
	}

	sp := chunker.NewSizeSplitter(bytes.NewReader(data), int64(chunkSize))

	var chunks []Chunk
	for {
		piece, err := sp.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("merkle: read chunk: %w", err)
		}
		chunks = append(chunks, Chunk{
			Hash: sha256.Sum256(piece),
			Data: piece,
		})
	}
	return chunks, nil
}

// LeafHash returns the leaf hash for raw chunk bytes.
func LeafHash(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}

// Tree is a binary Merkle tree, level 0 holding the leaf hashes.
type Tree struct {
	levels [][][]byte
}

// BuildTree constructs the tree bottom-up from a non-empty chunk set.
func BuildTree(chunks []Chunk) (*Tree, error) {
	if len(chunks) == 0 {
		return nil, errors.New("merkle: empty chunk set")
	}

	leaves := make([][]byte, len(chunks))
	for i, c := range chunks {
		h := c.Hash
		leaves[i] = h[:]
	}

	levels := [][][]byte{leaves}
	for len(levels[len(levels)-1]) > 1 {
		cur := levels[len(levels)-1]
		next := make([][]byte, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			left := cur[i]
			right := left // duplicate last node on odd count
			if i+1 < len(cur) {
				right = cur[i+1]
			}
			next = append(next, nodeHash(left, right))
		}
		levels = append(levels, next)
	}

	return &Tree{levels: levels}, nil
}

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Height returns the number of proof steps from a leaf to the root.
func (t *Tree) Height() int {
	return len(t.levels) - 1
}

// Root returns the root hash.
func (t *Tree) Root() []byte {
	return append([]byte(nil), t.levels[len(t.levels)-1][0]...)
}

// RootHex returns the root hash in hex, the published form.
func (t *Tree) RootHex() string {
	return hex.EncodeToString(t.Root())
}

// ProofStep is one sibling on the path to the root. Right reports whether
// the sibling sits to the right of the running hash.
type ProofStep struct {
	Hash  []byte
	Right bool
}

// Proof is the ordered sibling path from a leaf to the root.
type Proof []ProofStep

// Prove returns the inclusion proof for the leaf at index.
func (t *Tree) Prove(index int) (Proof, error) {
	if index < 0 || index >= t.LeafCount() {
		return nil, fmt.Errorf("merkle: index %d out of range [0,%d)", index, t.LeafCount())
	}

	proof := make(Proof, 0, t.Height())
	idx := index
	for _, level := range t.levels[:len(t.levels)-1] {
		var step ProofStep
		if idx%2 == 0 {
			sib := idx // duplicate rule
			if idx+1 < len(level) {
				sib = idx + 1
			}
			step = ProofStep{Hash: append([]byte(nil), level[sib]...), Right: true}
		} else {
			step = ProofStep{Hash: append([]byte(nil), level[idx-1]...), Right: false}
		}
		proof = append(proof, step)
		idx /= 2
	}
	return proof, nil
}

// VerifyProof walks the proof from leafHash to the root, applying siblings
// in the recorded left/right order. It returns false on any structural
// mismatch: wrong proof length for the tree height implied by leafCount,
// index out of range, or a root that does not match.
func VerifyProof(root []byte, leafHash []byte, index, leafCount int, proof Proof) bool {
	if leafCount <= 0 || index < 0 || index >= leafCount {
		return false
	}
	if len(proof) != heightFor(leafCount) {
		return false
	}

	h := append([]byte(nil), leafHash...)
	idx := index
	for _, step := range proof {
		// The recorded direction must agree with the index path.
		if step.Right != (idx%2 == 0) {
			return false
		}
		if step.Right {
			h = nodeHash(h, step.Hash)
		} else {
			h = nodeHash(step.Hash, h)
		}
		idx /= 2
	}
	return bytes.Equal(h, root)
}

// IndexForSeed derives the challenged chunk index from a round seed:
// the first eight bytes of sha256(seed), big-endian, reduced modulo the
// chunk count. Deterministic, so verifier and provider agree on the index
// without an extra round trip.
func IndexForSeed(seed []byte, count int) int {
	if count <= 0 {
		return 0
	}
	sum := sha256.Sum256(seed)
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(count))
}

func heightFor(leafCount int) int {
	h := 0
	for n := leafCount; n > 1; n = (n + 1) / 2 {
		h++
	}
	return h
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
