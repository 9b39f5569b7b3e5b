package policy

import (
	"crypto/sha256"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/drand/kyber"
	clock "github.com/jonboulle/clockwork"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/common/log"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/payment"
	"github.com/nucypher/taco/internal/peer"
	"github.com/nucypher/taco/internal/pre"
	"github.com/nucypher/taco/internal/registry"
)

// Orchestrator is the Publisher-side actor: it derives policy keys from
// its own master secret, splits them into kfrags, selects a cohort and
// assembles a Treasure Map. It never stores a policy's one-time delegating
// scalar past the Grant call that generated it.
type Orchestrator struct {
	sch          *scheme.Scheme
	masterSecret []byte
	signing      *key.SigningPair
	directory    *peer.Directory
	registry     registry.Registry
	ledger       payment.Ledger
	client       NodeClient
	clock        clock.Clock
	log          log.Logger
}

// NewOrchestrator builds a Publisher-side orchestrator. masterSecret is the
// Publisher's long-term policy-derivation secret; the Orchestrator only
// holds it in memory and never persists it.
func NewOrchestrator(
	sch *scheme.Scheme,
	masterSecret []byte,
	signing *key.SigningPair,
	directory *peer.Directory,
	reg registry.Registry,
	ledger payment.Ledger,
	client NodeClient,
	clk clock.Clock,
	logger log.Logger,
) *Orchestrator {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Orchestrator{
		sch:          sch,
		masterSecret: masterSecret,
		signing:      signing,
		directory:    directory,
		registry:     reg,
		ledger:       ledger,
		client:       client,
		clock:        clk,
		log:          logger,
	}
}

func derivePolicyScalar(sch *scheme.Scheme, masterSecret, label []byte) (kyber.Scalar, error) {
	info := append([]byte("TACo/policy/label/"), label...)
	kdf := hkdf.New(sha256.New, masterSecret, nil, info)
	buf := make([]byte, 64)
	if _, err := io.ReadFull(kdf, buf); err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "policy key derivation failed", err)
	}
	return sch.PREGroup.Scalar().SetBytes(buf), nil
}

// GrantRequest is Grant's input.
type GrantRequest struct {
	RecipientVerifyingKey  kyber.Point
	RecipientEncryptingKey kyber.Point
	Label                  []byte
	Threshold              int
	Shares                 int
	Expiration             time.Time
	Cohort                 CohortStrategy
}

// Grant derives a fresh policy key from label, splits it into kfrags,
// selects a cohort of Shares nodes, encrypts each node's kfrag to that
// node's encrypting key (no node is contacted; the encrypted kfrags travel
// in the Treasure Map), assembles and encrypts the map to the recipient, and
// records payment for the resulting hrac.
func (o *Orchestrator) Grant(req *GrantRequest) (*Policy, error) {
	policySK, err := derivePolicyScalar(o.sch, o.masterSecret, req.Label)
	if err != nil {
		return nil, err
	}

	hrac, err := id.DeriveHRAC(o.signing.Public, req.RecipientVerifyingKey, req.Label)
	if err != nil {
		return nil, err
	}

	kfrags, policyPK, err := pre.GenerateKFrags(o.sch, policySK, req.RecipientEncryptingKey, o.signing.Key, o.signing.Public, req.Threshold, req.Shares)
	if err != nil {
		return nil, err
	}

	cohort, err := req.Cohort.selectCohort(o, 0, req.Shares)
	if err != nil {
		return nil, err
	}
	if len(cohort) != req.Shares {
		return nil, errs.New(errs.CodeNotEnoughNodes, "cohort selection did not yield the requested number of nodes")
	}

	destinations := make(map[id.Address]TreasureMapEntry, req.Shares)
	for i, node := range cohort {
		addr, err := id.AddressFromVerifyingKey(node.VerifyingKey)
		if err != nil {
			return nil, err
		}
		kfrag := kfrags[i].Unverified()
		kfragBytes, err := pre.MarshalKeyFrag(kfrag)
		if err != nil {
			return nil, err
		}
		encrypted, err := pre.Encrypt(o.sch, node.EncryptingKey, kfragBytes, nil)
		if err != nil {
			return nil, err
		}
		destinations[addr] = TreasureMapEntry{
			EncryptedKFrag: encrypted,
			KFragID:        kfrag.ID,
			U1:             kfrag.U1,
		}
	}
	if len(destinations) != req.Shares {
		return nil, errs.New(errs.CodeNotEnoughNodes, "cohort contains duplicate node addresses, yielding an undersized treasure map")
	}

	tm := &TreasureMap{
		HRAC:                hrac,
		Threshold:           req.Threshold,
		PolicyEncryptingKey: policyPK,
		Destinations:        destinations,
	}
	encryptedMap, err := EncryptTreasureMap(o.sch, req.RecipientEncryptingKey, tm)
	if err != nil {
		return nil, err
	}

	o.ledger.RecordPayment(hrac)

	o.log.Infow("policy granted", "hrac", hrac.String(), "threshold", req.Threshold, "shares", req.Shares)

	return &Policy{
		HRAC:                 hrac,
		PublicKey:            policyPK,
		EncryptedTreasureMap: encryptedMap,
		Expiration:           req.Expiration,
	}, nil
}
