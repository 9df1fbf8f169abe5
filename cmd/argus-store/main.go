// Command argus-store runs a local demonstration cluster: one verifier and
// a handful of in-process providers, wired over the loopback transport. It
// stores a payload, runs a challenge round against every copy, and
// retrieves the payload back.
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	argus "github.com/arguslabs/argus-store"
	"github.com/arguslabs/argus-store/internal/keyvalstore"
	"github.com/arguslabs/argus-store/internal/provider"
	"github.com/arguslabs/argus-store/internal/transport"
	"github.com/arguslabs/argus-store/pkg/identity"
	"github.com/arguslabs/argus-store/pkg/logging"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	providers := flag.Int("providers", 3, "number of in-process providers")
	flag.Parse()

	log := logging.New()

	if err := run(log, *configPath, *providers); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(log *logrus.Logger, configPath string, providerCount int) error {
	var config argus.Config
	if configPath != "" {
		loaded, err := argus.LoadConfig(configPath)
		if err != nil {
			return err
		}
		config = loaded
	}
	config.Logger = log
	if config.Quorum == "" {
		config.Quorum = "majority"
	}

	baseDir, err := os.MkdirTemp("", "argus-demo-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(baseDir)
	if config.Path == "" {
		config.Path = filepath.Join(baseDir, "verifier")
		if err := os.MkdirAll(config.Path, 0o755); err != nil {
			return err
		}
	}

	loopback := transport.NewLoopback()

	for i := 0; i < providerCount; i++ {
		dir := filepath.Join(baseDir, fmt.Sprintf("provider-%d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		store, err := keyvalstore.New(keyvalstore.StoreConfig{Path: dir, Logger: log})
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := identity.Generate()
		if err != nil {
			return err
		}
		node, err := provider.New(provider.Config{Identity: id, Store: store, Logger: log})
		if err != nil {
			return err
		}
		loopback.Register(node.ID(), node)
	}

	verifierID, err := identity.Generate()
	if err != nil {
		return err
	}
	masterKey := make([]byte, 32)
	if _, err := rand.Read(masterKey); err != nil {
		return err
	}

	node, err := argus.New(config, argus.Dependencies{
		Transport: loopback,
		Registry:  loopback,
		Identity:  verifierID,
		MasterKey: masterKey,
	})
	if err != nil {
		return err
	}
	defer node.Close()

	ctx := context.Background()

	payload := make([]byte, 64*1024)
	if _, err := rand.Read(payload); err != nil {
		return err
	}

	cid, err := node.StoreUserData(ctx, payload, `{"cipher":"user-held"}`)
	if err != nil {
		return err
	}
	log.Infof("stored payload as %s", cid.Short())

	results, err := node.ChallengeAll(ctx, cid)
	if err != nil {
		return err
	}
	for _, r := range results {
		log.Infof("challenge %s against %s: %s", cid.Short(), r.Provider[:12], r.State)
	}

	back, _, err := node.RetrieveUserData(ctx, cid)
	if err != nil {
		return err
	}
	log.Infof("retrieved %d bytes, intact=%v", len(back), bytes.Equal(back, payload))

	return nil
}
