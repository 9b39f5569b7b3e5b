// Command taco-node runs one threshold-access-control node: it unlocks its
// keystore, wires the crypto primitives and collaborator interfaces built
// under internal/, and serves the node's REST surface until terminated.
// Configuration comes entirely from the environment rather than flags —
// a node's operator is expected to template its environment the way a
// systemd unit or container spec would, not invoke a CLI interactively.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nucypher/taco/common"
	"github.com/nucypher/taco/common/constants"
	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/common/log"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/condchain"
	"github.com/nucypher/taco/internal/keystore"
	"github.com/nucypher/taco/internal/metrics"
	"github.com/nucypher/taco/internal/nodeservice"
	"github.com/nucypher/taco/internal/payment"
	"github.com/nucypher/taco/internal/peer"
	"github.com/nucypher/taco/internal/registry"
	"github.com/nucypher/taco/internal/transport"
)

// config is read once from the environment at startup.
type config struct {
	host           string
	port           int
	domain         string
	dataDir        string
	passphrase     []byte
	metricsAddr    string
	certPath       string
	keyPath        string
	chainEndpoints []condchain.ChainEndpoint
}

func configFromEnv() (*config, error) {
	c := &config{
		host:    getenv("TACO_HOST", "0.0.0.0"),
		domain:  getenv("TACO_DOMAIN", constants.DefaultDomain),
		dataDir: getenv("TACO_DATA_DIR", "./taco-data"),
	}
	port, err := strconv.Atoi(getenv("TACO_PORT", "9151"))
	if err != nil {
		return nil, fmt.Errorf("TACO_PORT: %w", err)
	}
	c.port = port

	c.passphrase = []byte(os.Getenv("TACO_KEYSTORE_PASSPHRASE"))
	if len(c.passphrase) == 0 {
		return nil, fmt.Errorf("TACO_KEYSTORE_PASSPHRASE must be set")
	}

	c.metricsAddr = os.Getenv("TACO_METRICS_ADDR")
	c.certPath = getenv("TACO_TLS_CERT", filepath.Join(c.dataDir, "node.pem"))
	c.keyPath = getenv("TACO_TLS_KEY", filepath.Join(c.dataDir, "node.key"))

	for _, pair := range splitNonEmpty(os.Getenv("TACO_CHAINS"), ",") {
		chain, url, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("TACO_CHAINS entry %q must be chain=url", pair)
		}
		c.chainEndpoints = append(c.chainEndpoints, condchain.ChainEndpoint{Chain: chain, URL: url})
	}
	return c, nil
}

func getenv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}

// unlockKeystore opens the keystore at dataDir, initializing it with a
// fresh seed on first run, and returns the node's long-term keypairs.
func unlockKeystore(sch *scheme.Scheme, dataDir string, passphrase []byte) (*keystore.Keystore, *key.SigningPair, *key.DecryptingPair, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, nil, err
	}
	ks, err := keystore.Open(filepath.Join(dataDir, "keystore.db"))
	if err != nil {
		return nil, nil, nil, err
	}
	signing, decrypting, err := ks.Unlock(sch, passphrase)
	if errs.Is(err, errs.CodeKeystoreLocked) {
		if err := ks.Initialize(passphrase); err != nil {
			_ = ks.Close()
			return nil, nil, nil, err
		}
		signing, decrypting, err = ks.Unlock(sch, passphrase)
	}
	if err != nil {
		_ = ks.Close()
		return nil, nil, nil, err
	}
	return ks, signing, decrypting, nil
}

func run() error {
	logger := log.DefaultLogger()
	cfg, err := configFromEnv()
	if err != nil {
		return err
	}

	sch := scheme.NewDefault()

	ks, signing, decrypting, err := unlockKeystore(sch, cfg.dataDir, cfg.passphrase)
	if err != nil {
		return fmt.Errorf("unlocking keystore: %w", err)
	}
	defer ks.Close()

	self, err := id.AddressFromVerifyingKey(signing.Public)
	if err != nil {
		return fmt.Errorf("deriving self address: %w", err)
	}

	directory, err := peer.New(sch, self, 1024, nil)
	if err != nil {
		return fmt.Errorf("building peer directory: %w", err)
	}
	if cached, err := ks.LoadPeerCache(sch); err == nil {
		for _, n := range cached {
			_ = directory.AddVerified(n)
		}
	}

	// payment.Ledger and registry.Registry are external collaborator
	// interfaces: a production deployment plugs in the chain-backed
	// implementations here. The in-memory stand-ins keep this entrypoint
	// runnable standalone, the same role internal/payment.InMemory and
	// internal/registry.InMemory already serve in the package test suites.
	ledger := payment.NewInMemory()
	operatorRegistry := registry.NewInMemory()

	backend := condchain.New(cfg.chainEndpoints, nil)

	svc := nodeservice.New(sch, signing, decrypting, ledger, backend, directory, nil, logger)

	meta := &key.NodeMetadata{
		Host:          cfg.host,
		Port:          cfg.port,
		VerifyingKey:  signing.Public,
		EncryptingKey: decrypting.Public,
		Domain:        cfg.domain,
		Timestamp:     time.Now(),
	}
	if err := meta.SelfSign(sch, signing); err != nil {
		return fmt.Errorf("self-signing node metadata: %w", err)
	}

	var chains []transport.EVMChain
	for _, e := range cfg.chainEndpoints {
		chains = append(chains, transport.EVMChain{Name: e.Chain})
	}

	server := transport.NewServer(sch, svc, func() ([]byte, error) {
		return transport.EncodeNodeMetadata(sch, meta)
	}, chains, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if cfg.metricsAddr != "" {
		if _, err := metrics.Start(logger, cfg.metricsAddr); err != nil {
			logger.Errorw("metrics server failed to start", "err", err)
		}
	}

	client := transport.NewClient(sch, 10*time.Second)
	go runLearningLoop(ctx, directory, client, operatorRegistry, logger)

	logger.Infow("taco-node starting",
		"version", common.GetAppVersion().String(),
		"address", meta.Address(),
		"domain", cfg.domain,
	)

	addr := fmt.Sprintf(":%d", cfg.port)
	err = transport.ListenAndServeTLS(ctx, addr, cfg.certPath, cfg.keyPath, cfg.host, server)
	if saveErr := ks.SavePeerCache(directory.Snapshot()); saveErr != nil {
		logger.Warnw("could not persist peer cache on shutdown", "err", saveErr)
	}
	return err
}

// runLearningLoop periodically gossips fleet-state checksums with one
// already-verified peer at a time (internal/peer.Directory.NextLearningPeer
// cycles deterministically through the verified set), ingests any nodes the
// peer announces back, and promotes pending sprouts once their operator
// bonding checks out against the staking registry. Runs until ctx is done.
func runLearningLoop(ctx context.Context, directory *peer.Directory, client *transport.Client, reg *registry.InMemory, logger log.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		peerNode, ok := directory.NextLearningPeer()
		if !ok {
			continue
		}
		peerAddr, err := id.AddressFromVerifyingKey(peerNode.VerifyingKey)
		if err != nil {
			continue
		}
		resp, err := client.ExchangeMetadata(ctx, peerNode, &nodeservice.MetadataRequest{FleetStateChecksum: directory.Checksum()})
		if err != nil {
			logger.Debugw("metadata exchange failed", "peer", peerNode.Address(), "err", err)
			directory.MarkSuspicious(peerAddr)
			continue
		}
		for _, n := range resp.KnownNodes {
			if err := directory.IngestAnnouncement(n); err != nil {
				logger.Debugw("dropped gossiped node metadata", "err", err)
			}
		}
		for _, sprout := range directory.Sprouts() {
			addr, err := id.AddressFromVerifyingKey(sprout.VerifyingKey)
			if err != nil {
				continue
			}
			if err := directory.VerifySprout(addr, reg); err != nil {
				logger.Debugw("sprout verification failed", "peer", sprout.Address(), "err", err)
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
