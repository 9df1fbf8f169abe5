// Package challenge drives the commit -> challenge -> verify cycle between
// the verifier and storage providers.
//
// Rounds for a given (ContentID, provider) pair are strictly sequential: a
// new round cannot start before the previous one resolved to Verified or
// Failed, which keeps the seed chain free of races. Pairs are independent
// of each other and may be challenged in parallel.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arguslabs/argus-store/internal/placement"
	"github.com/arguslabs/argus-store/internal/transport"
	"github.com/arguslabs/argus-store/pkg/commitment"
	"github.com/arguslabs/argus-store/pkg/contentid"
	"github.com/arguslabs/argus-store/pkg/merkle"
	"github.com/arguslabs/argus-store/pkg/protocol"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTimeout is returned when a provider does not answer a challenge
	// within the configured bound. The round resolves to Failed; it never
	// silently stays Challenged.
	ErrTimeout = errors.New("challenge: provider timed out")
	// ErrRoundInProgress is returned when a round is started while the
	// previous one for the same pair has not resolved.
	ErrRoundInProgress = errors.New("challenge: round already in progress")
	// ErrNoSession is returned when no initial commitment was ever
	// recorded for the pair.
	ErrNoSession = errors.New("challenge: no session for pair")
)

// RoundState is the per-pair protocol state.
type RoundState int

const (
	// StateIdle means no outstanding challenge for the pair.
	StateIdle RoundState = iota
	// StateCommitted means the initial commitment was recorded at store
	// time and no challenge has run yet.
	StateCommitted
	// StateChallenged means a seed was issued and the provider's answer
	// is pending.
	StateChallenged
	// StateVerified means commitment and Merkle proof both checked out.
	StateVerified
	// StateFailed means timeout, commitment mismatch, or proof mismatch.
	// Terminal for the round; a new round may start afterwards.
	StateFailed
)

var stateNames = map[RoundState]string{
	StateIdle:       "Idle",
	StateCommitted:  "Committed",
	StateChallenged: "Challenged",
	StateVerified:   "Verified",
	StateFailed:     "Failed",
}

// String returns the state name.
func (s RoundState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(s))
}

// Result carries the outcome of one round with enough detail for external
// reliability accounting.
type Result struct {
	ContentID contentid.ContentID
	Provider  string
	Seed      []byte
	State     RoundState
	Err       error
}

type sessionKey struct {
	cid      contentid.ContentID
	provider string
}

// session is the verifier's chain state for one pair. The mutex enforces
// one round at a time.
type session struct {
	mu       sync.Mutex
	state    RoundState
	lastSeed []byte
	lastHash string
}

// Config configures the manager.
type Config struct {
	Transport transport.Client
	Tracker   *placement.Tracker
	Params    commitment.Params
	// ProviderTimeout bounds each provider's response.
	ProviderTimeout time.Duration
	Logger          *logrus.Logger
}

// Manager owns the challenge sessions and runs rounds.
type Manager struct {
	transport transport.Client
	tracker   *placement.Tracker
	params    commitment.Params
	timeout   time.Duration
	log       *logrus.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

// NewManager creates a manager.
func NewManager(config Config) (*Manager, error) {
	if config.Transport == nil || config.Tracker == nil {
		return nil, errors.New("challenge: transport and tracker are required")
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	return &Manager{
		transport: config.Transport,
		tracker:   config.Tracker,
		params:    config.Params,
		timeout:   config.ProviderTimeout,
		log:       config.Logger,
		sessions:  make(map[sessionKey]*session),
	}, nil
}

// Committed records the initial commitment for a pair at store time,
// seeding the chain state for the first challenge round.
func (m *Manager) Committed(cid contentid.ContentID, provider string, seed []byte, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionKey{cid: cid, provider: provider}] = &session{
		state:    StateCommitted,
		lastSeed: append([]byte(nil), seed...),
		lastHash: hash,
	}
}

// State returns the current round state for a pair.
func (m *Manager) State(cid contentid.ContentID, provider string) RoundState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionKey{cid: cid, provider: provider}]; ok {
		return sess.state
	}
	return StateIdle
}

// Forget drops all sessions for an item. Called on deletion.
func (m *Manager) Forget(cid contentid.ContentID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.sessions {
		if key.cid == cid {
			delete(m.sessions, key)
		}
	}
}

func (m *Manager) session(cid contentid.ContentID, provider string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionKey{cid: cid, provider: provider}]
}

// Challenge runs one round against a provider: issues a fresh seed,
// derives the challenged chunk index from it, and verifies the Merkle
// proof, the Pedersen commitment over the returned chunk, and the hash
// chain linkage. A response replayed from an earlier round fails the chain
// check because its hash is bound to the old seed.
func (m *Manager) Challenge(ctx context.Context, cid contentid.ContentID, provider string) Result {
	sess := m.session(cid, provider)
	if sess == nil {
		return Result{ContentID: cid, Provider: provider, State: StateFailed, Err: ErrNoSession}
	}

	if !sess.mu.TryLock() {
		return Result{ContentID: cid, Provider: provider, State: sess.state, Err: ErrRoundInProgress}
	}
	defer sess.mu.Unlock()

	record, err := m.tracker.Get(cid)
	if err != nil {
		return m.fail(sess, cid, provider, nil, err)
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return m.fail(sess, cid, provider, nil, fmt.Errorf("challenge: draw seed: %w", err))
	}
	index := merkle.IndexForSeed(seed, record.ChunkCount)

	sess.state = StateChallenged

	req := &protocol.Challenge{
		ChallengeHash:  string(record.CipherID),
		ChallengeIndex: index,
		ChunkSize:      record.ChunkSize,
		Curve:          m.params.Curve,
		G:              commitment.PointToHex(m.params.G),
		H:              commitment.PointToHex(m.params.H),
		Seed:           seed,
	}

	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.transport.Challenge(opCtx, provider, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, m.timeout)
		}
		return m.fail(sess, cid, provider, seed, err)
	}

	if err := m.verify(record, seed, index, provider, resp, sess.lastHash); err != nil {
		return m.fail(sess, cid, provider, seed, err)
	}

	// Round verified; the pair returns to Idle carrying the new chain
	// state for the next round.
	sess.lastSeed = seed
	sess.lastHash = resp.CommitmentHash
	sess.state = StateIdle

	m.log.WithFields(logrus.Fields{
		"cid":      cid.Short(),
		"provider": shortID(provider),
		"index":    index,
	}).Info("Challenge verified")

	return Result{ContentID: cid, Provider: provider, Seed: seed, State: StateVerified}
}

// verify checks everything the provider claims for a round.
func (m *Manager) verify(record *placement.Record, seed []byte, index int, provider string, resp *protocol.Challenge, lastHash string) error {
	if !protocol.Verify(provider, resp, resp.Signature) {
		return errors.New("challenge: invalid response signature")
	}

	if resp.MerkleRoot != record.MerkleRoot {
		return fmt.Errorf("%w: root mismatch", merkle.ErrProofMismatch)
	}
	root, err := hex.DecodeString(record.MerkleRoot)
	if err != nil {
		return fmt.Errorf("challenge: bad recorded root: %w", err)
	}
	leaf := merkle.LeafHash(resp.DataChunk)
	if !merkle.VerifyProof(root, leaf[:], index, record.ChunkCount, resp.MerkleProof) {
		return merkle.ErrProofMismatch
	}

	point, err := commitment.PointFromHex(resp.Commitment)
	if err != nil {
		return err
	}
	randomness, err := commitment.ScalarFromHex(resp.Randomness)
	if err != nil {
		return err
	}
	if !commitment.VerifyPoint(point, commitment.HashToScalar(resp.DataChunk), randomness, m.params) {
		return fmt.Errorf("%w: point mismatch", commitment.ErrInvalidCommitment)
	}

	if !commitment.VerifyChain(resp.CommitmentProof, seed, resp.CommitmentHash) {
		return fmt.Errorf("%w: chain hash not bound to round seed", commitment.ErrInvalidCommitment)
	}
	if resp.CommitmentHash == lastHash {
		return fmt.Errorf("%w: chain hash not advanced", commitment.ErrInvalidCommitment)
	}

	return nil
}

func (m *Manager) fail(sess *session, cid contentid.ContentID, provider string, seed []byte, err error) Result {
	sess.state = StateFailed

	m.log.WithFields(logrus.Fields{
		"cid":      cid.Short(),
		"provider": shortID(provider),
	}).Warnf("Challenge failed: %v", err)

	return Result{ContentID: cid, Provider: provider, Seed: seed, State: StateFailed, Err: err}
}

func shortID(id string) string {
	if len(id) < 12 {
		return id
	}
	return id[:12]
}
