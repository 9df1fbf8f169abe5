package placement

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arguslabs/argus-store/internal/transport"
	"github.com/arguslabs/argus-store/pkg/commitment"
	"github.com/arguslabs/argus-store/pkg/contentid"
	"github.com/arguslabs/argus-store/pkg/merkle"
	"github.com/arguslabs/argus-store/pkg/protocol"
	"github.com/sirupsen/logrus"
)

var (
	// ErrQuorumNotMet is returned when a store operation fails to reach
	// the configured redundancy threshold. Provider-level sub-failures
	// are attached to the message for diagnostics.
	ErrQuorumNotMet = errors.New("placement: quorum not met")
	// ErrDataUnavailable is returned when no provider produced valid
	// data for an item.
	ErrDataUnavailable = errors.New("placement: data unavailable")
)

// QuorumPolicy decides how many of the fanned-out store attempts must
// succeed for the operation to succeed as a whole. The policy is always
// explicit; there is no implicit default at call sites.
type QuorumPolicy int

const (
	// QuorumAll requires every targeted provider to acknowledge.
	QuorumAll QuorumPolicy = iota + 1
	// QuorumMajority requires more than half of the redundancy factor.
	QuorumMajority
	// QuorumAtLeastOne requires a single acknowledgment.
	QuorumAtLeastOne
)

var quorumNames = map[QuorumPolicy]string{
	QuorumAll:        "all",
	QuorumMajority:   "majority",
	QuorumAtLeastOne: "at-least-one",
}

// String returns the policy name.
func (q QuorumPolicy) String() string {
	if name, ok := quorumNames[q]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(q))
}

// ParseQuorumPolicy parses a configured policy name.
func ParseQuorumPolicy(name string) (QuorumPolicy, error) {
	for p, n := range quorumNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("placement: unknown quorum policy %q", name)
}

// Met reports whether successes out of redundancy satisfy the policy.
func (q QuorumPolicy) Met(successes, redundancy int) bool {
	switch q {
	case QuorumAll:
		return successes >= redundancy
	case QuorumMajority:
		return successes*2 > redundancy
	case QuorumAtLeastOne:
		return successes >= 1
	default:
		return false
	}
}

// Ack is one provider's verified store acknowledgment. The facade uses it
// to seed the challenge chain state for the provider.
type Ack struct {
	Provider       string
	Seed           []byte
	CommitmentHash string
}

// Config configures the coordinator.
type Config struct {
	Transport transport.Client
	Registry  transport.Registry
	Tracker   *Tracker
	Params    commitment.Params
	// ChunkSize fixes the Merkle geometry recorded for later challenges.
	ChunkSize int
	// ProviderTimeout bounds every provider round trip independently.
	ProviderTimeout time.Duration
	Quorum          QuorumPolicy
	Logger          *logrus.Logger
}

// Coordinator fans stores out to providers and retrieves copies back,
// verifying everything a provider claims.
type Coordinator struct {
	transport transport.Client
	registry  transport.Registry
	tracker   *Tracker
	params    commitment.Params
	chunkSize int
	timeout   time.Duration
	quorum    QuorumPolicy
	log       *logrus.Logger
}

// New creates a coordinator.
func New(config Config) (*Coordinator, error) {
	if config.Transport == nil || config.Registry == nil || config.Tracker == nil {
		return nil, errors.New("placement: transport, registry, and tracker are required")
	}
	if config.ChunkSize <= 0 {
		return nil, fmt.Errorf("placement: invalid chunk size %d", config.ChunkSize)
	}
	if _, ok := quorumNames[config.Quorum]; !ok {
		return nil, errors.New("placement: quorum policy must be set explicitly")
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	return &Coordinator{
		transport: config.Transport,
		registry:  config.Registry,
		tracker:   config.Tracker,
		params:    config.Params,
		chunkSize: config.ChunkSize,
		timeout:   config.ProviderTimeout,
		quorum:    config.Quorum,
		log:       config.Logger,
	}, nil
}

type storeResult struct {
	provider string
	ack      Ack
	err      error
}

// Store distributes ciphertext to redundancy distinct providers in
// parallel, each under its own timeout. It succeeds once the quorum policy
// is met; sub-failures are recorded in the returned record rather than
// failing the operation.
func (c *Coordinator) Store(ctx context.Context, itemID contentid.ContentID, ciphertext []byte, redundancy int) (*Record, []Ack, error) {
	if redundancy <= 0 {
		return nil, nil, fmt.Errorf("placement: invalid redundancy factor %d", redundancy)
	}
	if len(ciphertext) == 0 {
		return nil, nil, errors.New("placement: empty ciphertext")
	}

	chunks, err := merkle.Split(ciphertext, c.chunkSize)
	if err != nil {
		return nil, nil, err
	}
	tree, err := merkle.BuildTree(chunks)
	if err != nil {
		return nil, nil, err
	}

	targets := c.registry.Providers()
	if len(targets) > redundancy {
		targets = targets[:redundancy]
	}

	results := make(chan storeResult, len(targets))
	for _, target := range targets {
		go func(target string) {
			ack, err := c.storeOne(ctx, target, ciphertext)
			results <- storeResult{provider: target, ack: ack, err: err}
		}(target)
	}

	var acks []Ack
	failures := make(map[string]string)
	for range targets {
		r := <-results
		if r.err != nil {
			c.log.WithFields(logrus.Fields{
				"provider": shortID(r.provider),
				"cid":      itemID.Short(),
			}).Warnf("Store attempt failed: %v", r.err)
			failures[r.provider] = r.err.Error()
			continue
		}
		acks = append(acks, r.ack)
	}

	if !c.quorum.Met(len(acks), redundancy) {
		return nil, acks, fmt.Errorf("%w: policy %s, %d/%d acknowledged: %s",
			ErrQuorumNotMet, c.quorum, len(acks), redundancy, flattenFailures(failures))
	}

	providers := make([]string, 0, len(acks))
	for _, ack := range acks {
		providers = append(providers, ack.Provider)
	}

	now := time.Now()
	record := &Record{
		ContentID:  itemID,
		CipherID:   contentid.Identify(ciphertext),
		Providers:  providers,
		ChunkSize:  c.chunkSize,
		ChunkCount: len(chunks),
		MerkleRoot: tree.RootHex(),
		CreatedAt:  now,
		UpdatedAt:  now,
		Failures:   failures,
	}

	unlock := c.tracker.Lock(itemID)
	defer unlock()
	if err := c.tracker.Save(record); err != nil {
		return nil, acks, err
	}

	c.log.WithFields(logrus.Fields{
		"cid":       itemID.Short(),
		"providers": len(providers),
		"chunks":    len(chunks),
	}).Info("Placement recorded")

	return record, acks, nil
}

// storeOne sends the ciphertext to one provider and verifies the returned
// initial commitment before counting it as an acknowledgment.
func (c *Coordinator) storeOne(ctx context.Context, target string, ciphertext []byte) (Ack, error) {
	seed, err := newSeed()
	if err != nil {
		return Ack{}, err
	}

	req := &protocol.Store{
		EncryptedData: ciphertext,
		Curve:         c.params.Curve,
		G:             commitment.PointToHex(c.params.G),
		H:             commitment.PointToHex(c.params.H),
		Seed:          seed,
	}

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.transport.Store(opCtx, target, req)
	if err != nil {
		return Ack{}, err
	}

	if !protocol.Verify(target, resp, resp.Signature) {
		return Ack{}, errors.New("invalid response signature")
	}

	point, err := commitment.PointFromHex(resp.Commitment)
	if err != nil {
		return Ack{}, err
	}
	randomness, err := commitment.ScalarFromHex(resp.Randomness)
	if err != nil {
		return Ack{}, err
	}
	if !commitment.VerifyPoint(point, commitment.HashToScalar(ciphertext), randomness, c.params) {
		return Ack{}, fmt.Errorf("%w: commitment point mismatch", commitment.ErrInvalidCommitment)
	}

	wantHash := commitment.ChainHash(commitment.DataProof(ciphertext, nil), seed)
	if resp.CommitmentHash != wantHash {
		return Ack{}, fmt.Errorf("%w: commitment hash mismatch", commitment.ErrInvalidCommitment)
	}

	return Ack{Provider: target, Seed: seed, CommitmentHash: resp.CommitmentHash}, nil
}

// Retrieve fetches the ciphertext for an item, trying recorded providers
// in order until one returns bytes whose content id matches the record.
func (c *Coordinator) Retrieve(ctx context.Context, itemID contentid.ContentID) ([]byte, error) {
	record, err := c.tracker.Get(itemID)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, fmt.Errorf("%w: %s", ErrDataUnavailable, itemID.Short())
		}
		return nil, err
	}

	for _, target := range record.Providers {
		data, err := c.retrieveOne(ctx, target, record)
		if err != nil {
			c.log.WithFields(logrus.Fields{
				"provider": shortID(target),
				"cid":      itemID.Short(),
			}).Warnf("Retrieve attempt failed: %v", err)
			continue
		}
		return data, nil
	}

	return nil, fmt.Errorf("%w: %s: all %d providers exhausted", ErrDataUnavailable, itemID.Short(), len(record.Providers))
}

func (c *Coordinator) retrieveOne(ctx context.Context, target string, record *Record) ([]byte, error) {
	seed, err := newSeed()
	if err != nil {
		return nil, err
	}

	req := &protocol.Retrieve{
		DataHash: string(record.CipherID),
		Seed:     seed,
	}

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.transport.Retrieve(opCtx, target, req)
	if err != nil {
		return nil, err
	}

	if !protocol.Verify(target, resp, resp.Signature) {
		return nil, errors.New("invalid response signature")
	}
	if contentid.Identify(resp.Data) != record.CipherID {
		return nil, fmt.Errorf("%w: content id mismatch", ErrDataUnavailable)
	}
	if !commitment.VerifyChain(resp.CommitmentProof, seed, resp.CommitmentHash) {
		return nil, fmt.Errorf("%w: chain hash mismatch", commitment.ErrInvalidCommitment)
	}

	return resp.Data, nil
}

// Delete removes the placement record for an item.
func (c *Coordinator) Delete(itemID contentid.ContentID) error {
	unlock := c.tracker.Lock(itemID)
	defer unlock()
	return c.tracker.Delete(itemID)
}

// Tracker exposes the record tracker for read access by other components.
func (c *Coordinator) Tracker() *Tracker {
	return c.tracker
}

// Params returns the deployment group parameters.
func (c *Coordinator) Params() commitment.Params {
	return c.params
}

func newSeed() ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("placement: draw seed: %w", err)
	}
	return seed, nil
}

func shortID(id string) string {
	if len(id) < 12 {
		return id
	}
	return id[:12]
}

func flattenFailures(failures map[string]string) string {
	if len(failures) == 0 {
		return "no sub-failures"
	}
	parts := make([]string, 0, len(failures))
	for provider, msg := range failures {
		parts = append(parts, fmt.Sprintf("%s: %s", shortID(provider), msg))
	}
	return strings.Join(parts, "; ")
}
