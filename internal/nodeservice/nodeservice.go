// Package nodeservice implements the node's three request handlers:
// reencrypt, decrypt and the node-metadata gossip exchange. It wires
// together every crypto primitive built so far (internal/pre,
// internal/dkgcrypto, internal/condition, internal/session) behind the
// fail-closed status-code contract the rest of the system depends on, in
// the same shape a beacon process wires its chain storage, DKG board and
// request logging behind one method set.
//
// Handlers here take and return plain Go request/response structs; wire
// encoding and HTTP/status-code binding belong to internal/transport.
package nodeservice

import (
	"sync"

	"github.com/drand/kyber"
	clock "github.com/jonboulle/clockwork"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/common/log"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/condition"
	"github.com/nucypher/taco/internal/dkgcrypto"
	"github.com/nucypher/taco/internal/payment"
	"github.com/nucypher/taco/internal/peer"
)

// Ritual is this node's local record of one DKG ritual it participates in:
// its own key share plus the ritual's aggregate public keys. Ritual setup
// itself (internal/dkgcrypto.GenerateRitual, run once per ritual by an
// external orchestration process) is out of this package's scope; Service
// only ever consumes an already-formed Ritual.
type Ritual struct {
	ID           uint32
	Threshold    int
	Participants int
	Share        *dkgcrypto.RitualKeyShare
	PublicKeys   *dkgcrypto.RitualPublicKeys
}

// Service holds everything one node needs to answer reencrypt, decrypt
// and node-metadata requests.
type Service struct {
	sch        *scheme.Scheme
	signing    *key.SigningPair
	decrypting *key.DecryptingPair
	payment    payment.Ledger
	backend    condition.Backend
	directory  *peer.Directory
	clock      clock.Clock
	log        log.Logger

	mu      sync.RWMutex
	rituals map[uint32]*Ritual
	revoked map[id.HRAC]bool
}

// New builds a node service. clk and logger may be nil, defaulting to the
// real clock and the package default logger respectively.
func New(
	sch *scheme.Scheme,
	signing *key.SigningPair,
	decrypting *key.DecryptingPair,
	ledger payment.Ledger,
	backend condition.Backend,
	directory *peer.Directory,
	clk clock.Clock,
	logger log.Logger,
) *Service {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Service{
		sch:        sch,
		signing:    signing,
		decrypting: decrypting,
		payment:    ledger,
		backend:    backend,
		directory:  directory,
		clock:      clk,
		log:        logger,
		rituals:    make(map[uint32]*Ritual),
		revoked:    make(map[id.HRAC]bool),
	}
}

// RegisterRitual makes r available to the decrypt handler. Called once by
// the process that completes ritual setup for this node.
func (s *Service) RegisterRitual(r *Ritual) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rituals[r.ID] = r
}

// Directory exposes the node's peer directory for diagnostics (the
// /status endpoint's known-node dump); nothing in the request-handling
// path needs external access to it.
func (s *Service) Directory() *peer.Directory {
	return s.directory
}

func (s *Service) ritual(ritualID uint32) (*Ritual, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rituals[ritualID]
	return r, ok
}

// RevocationCertificate is the publisher-signed instruction to stop
// honoring reencrypt requests for one hrac against this node. Revocation
// is best-effort: a recipient holding cfrags obtained before revocation
// may still decrypt with them, a limitation the protocol accepts rather
// than trying to invalidate cryptographic material already handed out.
type RevocationCertificate struct {
	HRAC      id.HRAC
	Signature []byte
}

func (c *RevocationCertificate) signedBytes() []byte {
	return c.HRAC[:]
}

// SignRevocationCertificate builds and signs a revocation certificate for
// hrac with the publisher's long-term signing key, for internal/policy's
// Revoke to dispatch to each node in the policy's cohort.
func SignRevocationCertificate(sch *scheme.Scheme, publisherKey kyber.Scalar, hrac id.HRAC) (*RevocationCertificate, error) {
	cert := &RevocationCertificate{HRAC: hrac}
	sig, err := sch.AuthScheme.Sign(publisherKey, cert.signedBytes())
	if err != nil {
		return nil, err
	}
	cert.Signature = sig
	return cert, nil
}

// Revoke verifies cert's signature against the policy's publisher
// verifying key and records the hrac as revoked, so subsequent Reencrypt
// calls against it are refused.
func (s *Service) Revoke(publisherVK kyber.Point, cert *RevocationCertificate) error {
	if err := s.sch.AuthScheme.Verify(publisherVK, cert.signedBytes(), cert.Signature); err != nil {
		return errs.Wrap(errs.CodeSignature, "revocation certificate signature invalid", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[cert.HRAC] = true
	return nil
}

func (s *Service) isRevoked(hrac id.HRAC) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revoked[hrac]
}
