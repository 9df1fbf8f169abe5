// Package provider implements a storage provider node.
//
// A provider holds ciphertext copies it agreed to keep and answers the
// verifier's Store, Challenge, and Retrieve messages. It owns only its
// local copy; every response is verified on the other side, never trusted.
// The previous challenge seed is persisted per payload so each round's
// commitment hash chains onto the one before it.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/arguslabs/argus-store/internal/keyvalstore"
	"github.com/arguslabs/argus-store/internal/transport"
	"github.com/arguslabs/argus-store/pkg/commitment"
	"github.com/arguslabs/argus-store/pkg/contentid"
	"github.com/arguslabs/argus-store/pkg/identity"
	"github.com/arguslabs/argus-store/pkg/merkle"
	"github.com/arguslabs/argus-store/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// ErrNotStored is returned for payloads this provider never agreed to keep.
var ErrNotStored = errors.New("provider: payload not stored here")

// Config configures a provider node.
type Config struct {
	// Identity signs every response.
	Identity *identity.Identity
	// Store is the provider's local key-value store.
	Store *keyvalstore.Store
	// Logger is optional.
	Logger *logrus.Logger
}

// Node is one storage provider.
type Node struct {
	id    *identity.Identity
	store *keyvalstore.Store
	log   *logrus.Logger
}

// New creates a provider node.
func New(config Config) (*Node, error) {
	if config.Identity == nil {
		return nil, identity.ErrNoIdentity
	}
	if config.Store == nil {
		return nil, errors.New("provider: store is required")
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	return &Node{
		id:    config.Identity,
		store: config.Store,
		log:   config.Logger,
	}, nil
}

// ID returns the provider's wire identity.
func (n *Node) ID() string {
	return n.id.ID()
}

// HandleStore accepts ciphertext, keys it by its own content id, commits
// to it under the supplied seed, and returns the signed initial
// commitment.
func (n *Node) HandleStore(ctx context.Context, req *protocol.Store) (*protocol.Store, error) {
	if len(req.EncryptedData) == 0 {
		return nil, errors.New("provider: empty payload")
	}

	params, err := commitment.ParamsFromHex(req.Curve, req.G, req.H)
	if err != nil {
		return nil, err
	}

	cid := contentid.Identify(req.EncryptedData)

	com, err := commitment.Commit(req.EncryptedData, req.Seed, nil, params)
	if err != nil {
		return nil, err
	}

	if err := n.store.Write(dataKey(cid), req.EncryptedData); err != nil {
		return nil, fmt.Errorf("provider: persist payload: %w", err)
	}
	if err := n.store.Write(seedKey(cid), req.Seed); err != nil {
		return nil, fmt.Errorf("provider: persist seed: %w", err)
	}

	n.log.WithFields(logrus.Fields{
		"provider": n.id.ID()[:12],
		"cid":      cid.Short(),
		"bytes":    len(req.EncryptedData),
	}).Info("Stored payload")

	resp := *req
	resp.Randomness = commitment.ScalarToHex(com.Randomness)
	resp.Commitment = commitment.PointToHex(com.Point)
	resp.CommitmentHash = com.Hash
	resp.Signature = protocol.Sign(n.id, &resp)
	return &resp, nil
}

// HandleChallenge recomputes the Merkle tree over the stored ciphertext at
// the requested chunk size, commits to the challenged chunk, and chains
// the round hash onto the previously persisted seed. The seed rotates on
// every round, so a transcript can never be replayed.
func (n *Node) HandleChallenge(ctx context.Context, req *protocol.Challenge) (*protocol.Challenge, error) {
	cid := contentid.ContentID(req.ChallengeHash)

	data, err := n.store.Read(dataKey(cid))
	if err != nil {
		if errors.Is(err, keyvalstore.ErrNotFound) {
			return nil, ErrNotStored
		}
		return nil, err
	}
	prevSeed, err := n.store.Read(seedKey(cid))
	if err != nil && !errors.Is(err, keyvalstore.ErrNotFound) {
		return nil, err
	}

	params, err := commitment.ParamsFromHex(req.Curve, req.G, req.H)
	if err != nil {
		return nil, err
	}

	chunks, err := merkle.Split(data, req.ChunkSize)
	if err != nil {
		return nil, err
	}
	if req.ChallengeIndex < 0 || req.ChallengeIndex >= len(chunks) {
		return nil, fmt.Errorf("provider: challenge index %d out of range [0,%d)", req.ChallengeIndex, len(chunks))
	}

	tree, err := merkle.BuildTree(chunks)
	if err != nil {
		return nil, err
	}
	proof, err := tree.Prove(req.ChallengeIndex)
	if err != nil {
		return nil, err
	}

	chunk := chunks[req.ChallengeIndex]
	com, err := commitment.Commit(chunk.Data, req.Seed, prevSeed, params)
	if err != nil {
		return nil, err
	}

	// The chain hash covers the full stored payload, not just the chunk:
	// recomputing it requires every stored byte.
	chainProof := commitment.DataProof(data, prevSeed)

	if err := n.store.Write(seedKey(cid), req.Seed); err != nil {
		return nil, fmt.Errorf("provider: rotate seed: %w", err)
	}

	resp := *req
	resp.CommitmentHash = commitment.ChainHash(chainProof, req.Seed)
	resp.CommitmentProof = chainProof
	resp.Commitment = commitment.PointToHex(com.Point)
	resp.DataChunk = chunk.Data
	resp.Randomness = commitment.ScalarToHex(com.Randomness)
	resp.MerkleProof = proof
	resp.MerkleRoot = tree.RootHex()
	resp.Signature = protocol.Sign(n.id, &resp)
	return &resp, nil
}

// HandleRetrieve returns the full stored ciphertext together with a chain
// proof bound to the caller's fresh seed.
func (n *Node) HandleRetrieve(ctx context.Context, req *protocol.Retrieve) (*protocol.Retrieve, error) {
	cid := contentid.ContentID(req.DataHash)

	data, err := n.store.Read(dataKey(cid))
	if err != nil {
		if errors.Is(err, keyvalstore.ErrNotFound) {
			return nil, ErrNotStored
		}
		return nil, err
	}
	prevSeed, err := n.store.Read(seedKey(cid))
	if err != nil && !errors.Is(err, keyvalstore.ErrNotFound) {
		return nil, err
	}

	chainProof := commitment.DataProof(data, prevSeed)

	if err := n.store.Write(seedKey(cid), req.Seed); err != nil {
		return nil, fmt.Errorf("provider: rotate seed: %w", err)
	}

	resp := *req
	resp.Data = data
	resp.CommitmentProof = chainProof
	resp.CommitmentHash = commitment.ChainHash(chainProof, req.Seed)
	resp.Signature = protocol.Sign(n.id, &resp)
	return &resp, nil
}

// Delete drops the local copy and seed for a payload.
func (n *Node) Delete(cid contentid.ContentID) error {
	if err := n.store.Delete(dataKey(cid)); err != nil {
		return err
	}
	return n.store.Delete(seedKey(cid))
}

func dataKey(cid contentid.ContentID) []byte {
	return []byte("data:" + string(cid))
}

func seedKey(cid contentid.ContentID) []byte {
	return []byte("seed:" + string(cid))
}

var _ transport.Handler = (*Node)(nil)
