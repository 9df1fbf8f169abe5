// Package argus coordinates storage of encrypted user data across a set of
// untrusted storage providers and produces cryptographic evidence that a
// provider still holds what it agreed to keep, without the verifier ever
// seeing plaintext.
//
// The handle owns the custodial encryption gateway, the placement
// coordinator, and the challenge manager. The message transport and the
// provider registry are external collaborators injected at construction.
package argus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arguslabs/argus-store/internal/challenge"
	"github.com/arguslabs/argus-store/internal/envelope"
	"github.com/arguslabs/argus-store/internal/keyvalstore"
	"github.com/arguslabs/argus-store/internal/placement"
	"github.com/arguslabs/argus-store/internal/transport"
	"github.com/arguslabs/argus-store/pkg/commitment"
	"github.com/arguslabs/argus-store/pkg/contentid"
	"github.com/arguslabs/argus-store/pkg/identity"
	"github.com/arguslabs/argus-store/pkg/logging"
	"github.com/sirupsen/logrus"
)

var (
	// ErrClosed is returned for operations on a closed handle.
	ErrClosed = errors.New("argus: handle closed")
)

// Argus is the verifier-side node handle.
type Argus struct {
	log    *logrus.Logger
	config Config

	identity    *identity.Identity
	store       *keyvalstore.Store
	gateway     *envelope.Gateway
	coordinator *placement.Coordinator
	challenges  *challenge.Manager
	scheduler   *challenge.Scheduler

	closed    atomic.Bool
	closeOnce sync.Once
}

// Dependencies are the external collaborators the node needs: the message
// transport, the provider registry, the signing identity, and the 32-byte
// custodial master key.
type Dependencies struct {
	Transport transport.Client
	Registry  transport.Registry
	Identity  *identity.Identity
	MasterKey []byte
}

// New constructs a node from config and its external collaborators.
func New(config Config, deps Dependencies) (*Argus, error) {
	config.applyDefaults()
	if config.Logger == nil {
		config.Logger = logging.New()
	}
	log := config.Logger

	if deps.Identity == nil {
		return nil, identity.ErrNoIdentity
	}

	store, err := keyvalstore.New(keyvalstore.StoreConfig{
		Path:          config.Path,
		MinimumFreeGB: config.MinimumFreeGB,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	gateway, err := envelope.NewGateway(deps.MasterKey, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	params, err := commitment.NewParams()
	if err != nil {
		store.Close()
		return nil, err
	}

	quorum, err := placement.ParseQuorumPolicy(config.Quorum)
	if err != nil {
		store.Close()
		return nil, err
	}

	tracker := placement.NewTracker(store.DB())

	coordinator, err := placement.New(placement.Config{
		Transport:       deps.Transport,
		Registry:        deps.Registry,
		Tracker:         tracker,
		Params:          params,
		ChunkSize:       config.ChunkSize,
		ProviderTimeout: config.providerTimeout(),
		Quorum:          quorum,
		Logger:          log,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	challenges, err := challenge.NewManager(challenge.Config{
		Transport:       deps.Transport,
		Tracker:         tracker,
		Params:          params,
		ProviderTimeout: config.providerTimeout(),
		Logger:          log,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &Argus{
		log:         log,
		config:      config,
		identity:    deps.Identity,
		store:       store,
		gateway:     gateway,
		coordinator: coordinator,
		challenges:  challenges,
		scheduler:   challenge.NewScheduler(challenges, tracker, log),
	}

	go a.garbageCollection()

	return a, nil
}

// StoreUserData ingests a user's already-encrypted payload: it derives the
// ContentID from the bytes as handed over, re-encrypts them under the
// custodial key, persists both payload descriptors, and places the
// custodial ciphertext on the configured number of providers. The returned
// ContentID is the user's retrieval key.
func (a *Argus) StoreUserData(ctx context.Context, encryptedData []byte, userPayload string) (contentid.ContentID, error) {
	if a.closed.Load() {
		return "", ErrClosed
	}
	if len(encryptedData) == 0 {
		return "", errors.New("argus: empty payload")
	}

	cid := contentid.Identify(encryptedData)

	env, err := a.gateway.Wrap(encryptedData, cid)
	if err != nil {
		return "", err
	}

	networkPayload, err := env.Payload.Marshal()
	if err != nil {
		return "", err
	}
	if err := a.store.Write(keyvalstore.PayloadKey("network", cid), networkPayload); err != nil {
		return "", fmt.Errorf("argus: persist network payload: %w", err)
	}
	if err := a.store.Write(keyvalstore.PayloadKey("user", cid), []byte(userPayload)); err != nil {
		return "", fmt.Errorf("argus: persist user payload: %w", err)
	}

	_, acks, err := a.coordinator.Store(ctx, cid, env.Ciphertext, a.config.Redundancy)
	if err != nil {
		return "", err
	}

	for _, ack := range acks {
		a.challenges.Committed(cid, ack.Provider, ack.Seed, ack.CommitmentHash)
	}

	a.log.WithFields(logrus.Fields{
		"cid":       cid.Short(),
		"providers": len(acks),
	}).Info("User data stored")

	return cid, nil
}

// RetrieveUserData fetches the custodial ciphertext back from the network,
// unwraps it, and returns the user's original encrypted bytes together
// with the user's own encryption payload. Only the user's key material can
// complete decryption from there.
func (a *Argus) RetrieveUserData(ctx context.Context, cid contentid.ContentID) ([]byte, string, error) {
	if a.closed.Load() {
		return nil, "", ErrClosed
	}

	ciphertext, err := a.coordinator.Retrieve(ctx, cid)
	if err != nil {
		return nil, "", err
	}

	rawPayload, err := a.store.Read(keyvalstore.PayloadKey("network", cid))
	if err != nil {
		return nil, "", fmt.Errorf("argus: load network payload: %w", err)
	}
	payload, err := envelope.UnmarshalPayload(rawPayload)
	if err != nil {
		return nil, "", err
	}

	encryptedData, err := a.gateway.Unwrap(envelope.Envelope{
		Ciphertext: ciphertext,
		Payload:    payload,
	}, cid)
	if err != nil {
		return nil, "", err
	}

	userPayload, err := a.store.Read(keyvalstore.PayloadKey("user", cid))
	if err != nil {
		return nil, "", fmt.Errorf("argus: load user payload: %w", err)
	}

	return encryptedData, string(userPayload), nil
}

// ChallengeAll runs one challenge round against every provider holding
// the item. Rounds against distinct providers run concurrently.
func (a *Argus) ChallengeAll(ctx context.Context, cid contentid.ContentID) ([]challenge.Result, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}

	record, err := a.coordinator.Tracker().Get(cid)
	if err != nil {
		return nil, err
	}

	results := make([]challenge.Result, len(record.Providers))
	var wg sync.WaitGroup
	for i, provider := range record.Providers {
		wg.Add(1)
		go func(i int, provider string) {
			defer wg.Done()
			results[i] = a.challenges.Challenge(ctx, cid, provider)
		}(i, provider)
	}
	wg.Wait()

	return results, nil
}

// DeleteData removes the placement record, the payload descriptors, and
// the challenge sessions for an item. Provider-side copies expire through
// the external reliability accounting, not from here.
func (a *Argus) DeleteData(cid contentid.ContentID) error {
	if a.closed.Load() {
		return ErrClosed
	}

	if err := a.coordinator.Delete(cid); err != nil {
		return err
	}
	a.challenges.Forget(cid)
	if err := a.store.Delete(keyvalstore.PayloadKey("network", cid)); err != nil {
		return err
	}
	return a.store.Delete(keyvalstore.PayloadKey("user", cid))
}

// RunScheduler drives periodic challenge rounds from an external tick
// source until the context is canceled.
func (a *Argus) RunScheduler(ctx context.Context, ticks <-chan time.Time) {
	a.scheduler.Run(ctx, ticks)
}

// Challenges exposes the challenge manager, mainly for state inspection.
func (a *Argus) Challenges() *challenge.Manager {
	return a.challenges
}

// Close releases the underlying store.
func (a *Argus) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		err = a.store.Close()
	})
	return err
}

func (a *Argus) garbageCollection() {
	ticker := time.NewTicker(a.config.gcInterval())
	defer ticker.Stop()
	for range ticker.C {
		if a.closed.Load() {
			return
		}
		if err := a.store.GarbageCollect(); err != nil {
			a.log.Warnf("Garbage collection: %v", err)
		}
	}
}
