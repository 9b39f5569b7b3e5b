package policy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/drand/kyber"
	clock "github.com/jonboulle/clockwork"
	"github.com/hashicorp/go-multierror"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/common/log"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/condition"
	"github.com/nucypher/taco/internal/nodeservice"
	"github.com/nucypher/taco/internal/peer"
	"github.com/nucypher/taco/internal/pre"
	"github.com/nucypher/taco/internal/registry"
)

// Retriever is the Recipient-side (Bob) actor: it decrypts a Treasure Map,
// fans reencrypt requests out to the assigned nodes in a deterministic
// shuffled order, and combines a threshold of verified cfrags per message
// kit, the same fan-out/collect shape a beacon process's round controller
// uses to gather signature shares from its peers.
type Retriever struct {
	sch        *scheme.Scheme
	signing    *key.SigningPair
	decrypting *key.DecryptingPair
	directory  *peer.Directory
	registry   registry.Registry
	client     NodeClient
	clock      clock.Clock
	log        log.Logger
}

func NewRetriever(
	sch *scheme.Scheme,
	signing *key.SigningPair,
	decrypting *key.DecryptingPair,
	directory *peer.Directory,
	reg registry.Registry,
	client NodeClient,
	clk clock.Clock,
	logger log.Logger,
) *Retriever {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Retriever{
		sch:        sch,
		signing:    signing,
		decrypting: decrypting,
		directory:  directory,
		registry:   reg,
		client:     client,
		clock:      clk,
		log:        logger,
	}
}

// RetrieveRequest groups one Retrieve call's inputs.
type RetrieveRequest struct {
	EncryptedTreasureMap  *EncryptedTreasureMap
	PublisherVerifyingKey kyber.Point
	MessageKits           []*pre.MessageKit
	Context               map[string]interface{}
}

// Retrieve decrypts req's Treasure Map and recovers the plaintext of every
// message kit in req.MessageKits, dispatching to the map's assigned nodes
// concurrently per kit. It returns one aggregate multierror.Error
// enumerating every per-node outcome once any message kit fails to reach
// threshold, rather than failing on the first bad node.
func (r *Retriever) Retrieve(ctx context.Context, req *RetrieveRequest) ([][]byte, error) {
	tm, err := DecryptTreasureMap(r.sch, r.decrypting.Key, req.EncryptedTreasureMap)
	if err != nil {
		return nil, err
	}

	plaintexts := make([][]byte, len(req.MessageKits))
	var combined *multierror.Error
	for i, mk := range req.MessageKits {
		pt, err := r.retrieveOne(ctx, tm, req.PublisherVerifyingKey, mk, req.Context)
		if err != nil {
			combined = multierror.Append(combined, fmt.Errorf("message kit %d: %w", i, err))
			continue
		}
		plaintexts[i] = pt
	}
	if err := combined.ErrorOrNil(); err != nil {
		return nil, err
	}
	return plaintexts, nil
}

type retrievalOutcome struct {
	addr id.Address
	frag pre.VerifiedCapsuleFrag
	err  error
}

// retrieveOne runs the concurrent retrieval loop for a single message kit:
// it dispatches a reencrypt request to every assigned node up front (the
// same push-and-collect shape a beacon round controller uses to gather its
// peers' partial signatures), cancelling outstanding requests as soon as
// threshold verified cfrags have arrived.
func (r *Retriever) retrieveOne(ctx context.Context, tm *TreasureMap, publisherVK kyber.Point, mk *pre.MessageKit, custom map[string]interface{}) ([]byte, error) {
	var condNode condition.Node
	if len(mk.Conditions) > 0 {
		if err := json.Unmarshal(mk.Conditions, &condNode); err != nil {
			return nil, errs.Wrap(errs.CodeMalformedRequest, "message kit conditions are malformed", err)
		}
	}

	order := deterministicOrder(tm, mk.Capsule)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan retrievalOutcome, len(order))
	var wg sync.WaitGroup
	for _, addr := range order {
		entry, ok := tm.Destinations[addr]
		if !ok {
			continue
		}
		node, ok := r.directory.Get(addr)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(addr id.Address, entry TreasureMapEntry, node *key.NodeMetadata) {
			defer wg.Done()
			results <- r.dispatchOne(reqCtx, tm, publisherVK, mk, condNode, custom, addr, entry, node)
		}(addr, entry, node)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var combined *multierror.Error
	pool := make([]pre.VerifiedCapsuleFrag, 0, tm.Threshold)
	for out := range results {
		if out.err != nil {
			if errs.Suspicious(out.err) {
				r.directory.MarkSuspicious(out.addr)
			}
			combined = multierror.Append(combined, fmt.Errorf("node %s: %w", out.addr, out.err))
			continue
		}
		pool = append(pool, out.frag)
		if len(pool) >= tm.Threshold {
			cancel() // remaining in-flight requests are no longer needed
			break
		}
	}

	if len(pool) < tm.Threshold {
		if err := combined.ErrorOrNil(); err != nil {
			return nil, err
		}
		return nil, &pre.NotEnoughFragments{Have: len(pool), Need: tm.Threshold}
	}

	return pre.DecryptReencrypted(r.sch, mk, pool, tm.Threshold)
}

func (r *Retriever) dispatchOne(
	ctx context.Context,
	tm *TreasureMap,
	publisherVK kyber.Point,
	mk *pre.MessageKit,
	condNode condition.Node,
	custom map[string]interface{},
	addr id.Address,
	entry TreasureMapEntry,
	node *key.NodeMetadata,
) retrievalOutcome {
	rreq := &nodeservice.ReencryptionRequest{
		HRAC:                  tm.HRAC,
		Capsules:              []pre.Capsule{mk.Capsule},
		Conditions:            []condition.Node{condNode},
		Context:               custom,
		BobVerifyingKey:       r.signing.Public,
		BobEncryptingKey:      r.decrypting.Public,
		PublisherVerifyingKey: publisherVK,
		PolicyPublicKey:       tm.PolicyEncryptingKey,
		EncryptedKFrag:        entry.EncryptedKFrag,
	}
	resp, err := r.client.Reencrypt(ctx, node, rreq)
	if err != nil {
		return retrievalOutcome{addr: addr, err: err}
	}
	if len(resp.CFrags) == 0 {
		return retrievalOutcome{addr: addr, err: errs.New(errs.CodeConditionFalse, "node declined to reencrypt: condition not satisfied")}
	}
	vfrag, err := pre.VerifyCapsuleFrag(r.sch, *resp.CFrags[0], mk.Capsule, entry.U1)
	if err != nil {
		return retrievalOutcome{addr: addr, err: err}
	}
	return retrievalOutcome{addr: addr, frag: vfrag}
}

// deterministicOrder returns the destinations of tm in a shuffled order
// seeded by (hrac, capsule hash), so repeated retrieval attempts for the
// same message kit converge on the same dispatch order instead of
// re-querying nodes in a fresh random sequence each time.
func deterministicOrder(tm *TreasureMap, capsule pre.Capsule) []id.Address {
	addrs := make([]id.Address, 0, len(tm.Destinations))
	for a := range tm.Destinations {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	eBuf, _ := capsule.E.MarshalBinary()
	capsuleHash := sha256.Sum256(eBuf)
	h := sha256.New()
	h.Write(tm.HRAC[:])
	h.Write(capsuleHash[:])
	digest := h.Sum(nil)

	var seed int64
	for i := 0; i < 8 && i < len(digest); i++ {
		seed ^= int64(digest[i]) << (8 * i)
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(addrs), func(i, j int) { addrs[i], addrs[j] = addrs[j], addrs[i] })
	return addrs
}
