// Package commitment implements the Pedersen commitment engine used by the
// proof-of-storage protocol.
//
// A commitment binds a data chunk and a per-challenge seed into a curve
// point C = g^s · h^r, where s is a fixed hash-to-scalar reduction of the
// chunk, r is drawn uniformly from the scalar field, and g, h are two
// generators of the BN254 G1 group with unknown discrete-log relation
// (h is derived by hash-to-curve). Alongside the point, every commitment
// carries a hash chain value
//
//	commitmentHash = sha256( sha256(data || prevSeed) || seed )
//
// linking each challenge round to the seed of the previous one. A verifier
// that keeps only the latest (seed, commitmentHash) pair can still detect a
// provider that discarded the data between rounds, because recomputing the
// inner hash requires the stored bytes.
package commitment

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// CurveName identifies the deployed group. All parties must agree on it.
const CurveName = "BN254"

// hashToCurveDST is the domain separation tag used to derive the second
// generator h. Changing it changes every commitment in the deployment.
const hashToCurveDST = "argus-store:pedersen:h"

// ErrInvalidCommitment is returned for malformed curve points, scalars out
// of field range, and curve name mismatches.
var ErrInvalidCommitment = errors.New("commitment: invalid commitment")

// Params holds the shared group parameters: the curve and the two
// generators. Fixed per deployment, owned by the verifying party.
type Params struct {
	Curve string
	G     bn254.G1Affine
	H     bn254.G1Affine
}

// NewParams returns the deployment parameters: g is the standard BN254 G1
// generator and h is derived by hash-to-curve, so no party knows the
// discrete log relating them.
func NewParams() (Params, error) {
	_, _, g1Aff, _ := bn254.Generators()

	h, err := bn254.HashToG1([]byte(hashToCurveDST), []byte(hashToCurveDST))
	if err != nil {
		return Params{}, fmt.Errorf("commitment: derive h: %w", err)
	}

	return Params{
		Curve: CurveName,
		G:     g1Aff,
		H:     h,
	}, nil
}

// ParamsFromHex reconstructs Params from wire-encoded points. Points that
// fail to decode, are off curve, or outside the subgroup are rejected with
// ErrInvalidCommitment.
func ParamsFromHex(curve, gHex, hHex string) (Params, error) {
	if curve != CurveName {
		return Params{}, fmt.Errorf("%w: unsupported curve %q", ErrInvalidCommitment, curve)
	}
	g, err := PointFromHex(gHex)
	if err != nil {
		return Params{}, err
	}
	h, err := PointFromHex(hHex)
	if err != nil {
		return Params{}, err
	}
	return Params{Curve: curve, G: g, H: h}, nil
}

// Commitment is one round's binding of data to the seed chain.
type Commitment struct {
	// Seed is the verifier-supplied seed for this round.
	Seed []byte
	// PrevSeed is the seed of the previous round, empty for the initial
	// commitment at store time.
	PrevSeed []byte
	// Randomness is the blinding scalar r.
	Randomness fr.Element
	// Point is C = g^s · h^r.
	Point bn254.G1Affine
	// Proof is the inner chain hash sha256(data || prevSeed). It travels
	// as the commitment_proof wire field so the verifier can check chain
	// linkage without the data.
	Proof []byte
	// Hash is hex(sha256(Proof || Seed)).
	Hash string
}

// Commit commits to data under the given round seed. prevSeed is the seed
// of the prior round, nil for the first commitment.
func Commit(data, seed, prevSeed []byte, params Params) (Commitment, error) {
	if len(seed) == 0 {
		return Commitment{}, errors.New("commitment: empty seed")
	}

	var r fr.Element
	if _, err := r.SetRandom(); err != nil {
		return Commitment{}, fmt.Errorf("commitment: draw randomness: %w", err)
	}

	s := HashToScalar(data)
	point := commitPoint(s, r, params)

	proof := DataProof(data, prevSeed)

	return Commitment{
		Seed:       append([]byte(nil), seed...),
		PrevSeed:   append([]byte(nil), prevSeed...),
		Randomness: r,
		Point:      point,
		Proof:      proof,
		Hash:       ChainHash(proof, seed),
	}, nil
}

// HashToScalar reduces arbitrary-length input to a field element:
// sha256(data) interpreted big-endian modulo the group order. This is the
// fixed reduction all parties must use.
func HashToScalar(data []byte) fr.Element {
	sum := sha256.Sum256(data)
	var s fr.Element
	s.SetBytes(sum[:])
	return s
}

// DataProof computes the inner chain hash sha256(data || prevSeed).
func DataProof(data, prevSeed []byte) []byte {
	h := sha256.New()
	h.Write(data)
	h.Write(prevSeed)
	return h.Sum(nil)
}

// ChainHash computes hex(sha256(proof || seed)), the published round hash.
func ChainHash(proof, seed []byte) string {
	h := sha256.New()
	h.Write(proof)
	h.Write(seed)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyPoint recomputes g^s · h^r from the claimed scalar and randomness
// and compares for exact point equality. Any mismatch is a hard failure.
func VerifyPoint(point bn254.G1Affine, dataScalar, randomness fr.Element, params Params) bool {
	want := commitPoint(dataScalar, randomness, params)
	return point.Equal(&want)
}

// VerifyChain checks only the hash-chain linkage: that the round hash
// equals sha256(proof || seed). This is the zero-knowledge variant used
// when the verifier must not learn the data scalar.
func VerifyChain(proof, seed []byte, wantHash string) bool {
	return ChainHash(proof, seed) == wantHash
}

func commitPoint(s, r fr.Element, params Params) bn254.G1Affine {
	var sBig, rBig big.Int
	s.BigInt(&sBig)
	r.BigInt(&rBig)

	var gp, hp bn254.G1Affine
	gp.ScalarMultiplication(&params.G, &sBig)
	hp.ScalarMultiplication(&params.H, &rBig)
	gp.Add(&gp, &hp)
	return gp
}

// PointToHex encodes a point for the wire (uncompressed, hex).
func PointToHex(p bn254.G1Affine) string {
	return hex.EncodeToString(p.Marshal())
}

// PointFromHex decodes a wire point. Unmarshal validates curve and
// subgroup membership; failures map to ErrInvalidCommitment.
func PointFromHex(s string) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	raw, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("%w: point hex: %v", ErrInvalidCommitment, err)
	}
	if err := p.Unmarshal(raw); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidCommitment, err)
	}
	return p, nil
}

// ScalarToHex encodes a field element for the wire (32 bytes big-endian).
func ScalarToHex(e fr.Element) string {
	b := e.Bytes()
	return hex.EncodeToString(b[:])
}

// ScalarFromHex decodes a wire scalar, rejecting values outside the field
// with ErrInvalidCommitment.
func ScalarFromHex(s string) (fr.Element, error) {
	var e fr.Element
	raw, err := hex.DecodeString(s)
	if err != nil {
		return e, fmt.Errorf("%w: scalar hex: %v", ErrInvalidCommitment, err)
	}
	if len(raw) != fr.Bytes {
		return e, fmt.Errorf("%w: scalar length %d", ErrInvalidCommitment, len(raw))
	}
	v := new(big.Int).SetBytes(raw)
	if v.Cmp(fr.Modulus()) >= 0 {
		return e, fmt.Errorf("%w: scalar out of field range", ErrInvalidCommitment)
	}
	e.SetBigInt(v)
	return e, nil
}
