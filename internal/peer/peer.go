// Package peer maintains the peer directory and fleet-state checksum: the
// verified set of reachable nodes a Recipient or another node can address,
// and the sprouts recently announced but not yet verified. It is the one
// piece of shared mutable state in the system; a single writer (the
// learning loop, or the endpoint handler that ingests a MetadataRequest)
// owns mutation, and readers only ever see consistent snapshots.
package peer

import (
	"bytes"
	"sort"
	"sync"
	"time"

	clock "github.com/jonboulle/clockwork"
	lru "github.com/hashicorp/golang-lru"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/crypto/scheme"
)

// OperatorRegistry resolves the operator verifying key bonded to a staking
// provider address. The real implementation lives outside the
// cryptographic core (internal/registry); this package only depends on the
// interface.
type OperatorRegistry interface {
	OperatorVerifyingKey(stakingProvider id.Address) (key.SigningPair, error)
}

// maxHistory bounds how many past fleet states are retained.
const maxHistory = 5

// FleetState is one observed snapshot of the verified set's checksum.
type FleetState struct {
	Checksum  []byte
	Timestamp time.Time
	Size      int
}

// Directory holds one node's view of the peer set.
type Directory struct {
	sch   *scheme.Scheme
	clock clock.Clock

	self id.Address

	mu         sync.RWMutex
	verified   map[id.Address]*key.NodeMetadata
	sprouts    map[id.Address]*key.NodeMetadata
	history    []FleetState
	suspicious *lru.Cache
	cursor     int // round-robin position for the learning loop
}

// New builds an empty Directory for a node whose own address is self (so
// self-announcements from peers are always rejected) and whose suspicious-
// node cache holds at most suspiciousCacheSize entries.
func New(sch *scheme.Scheme, self id.Address, suspiciousCacheSize int, clk clock.Clock) (*Directory, error) {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	cache, err := lru.New(suspiciousCacheSize)
	if err != nil {
		return nil, err
	}
	return &Directory{
		sch:        sch,
		clock:      clk,
		self:       self,
		verified:   make(map[id.Address]*key.NodeMetadata),
		sprouts:    make(map[id.Address]*key.NodeMetadata),
		suspicious: cache,
	}, nil
}

// Snapshot returns a copy of the verified set, safe for the caller to read
// without further synchronization.
func (d *Directory) Snapshot() []*key.NodeMetadata {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*key.NodeMetadata, 0, len(d.verified))
	for _, m := range d.verified {
		out = append(out, m)
	}
	return out
}

// Get looks up one verified node by address.
func (d *Directory) Get(addr id.Address) (*key.NodeMetadata, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.verified[addr]
	return m, ok
}

// Checksum computes H(sorted(verified metadata hashes)), the deterministic
// fleet-state checksum: two directories with the same checksum are known to
// hold the same verified set.
func (d *Directory) Checksum() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.checksumLocked()
}

func (d *Directory) checksumLocked() []byte {
	nodes := make([]*key.NodeMetadata, 0, len(d.verified))
	for _, m := range d.verified {
		nodes = append(nodes, m)
	}
	hashes := key.SortedHashes(d.sch, nodes)
	h := d.sch.IdentityHash()
	for _, hb := range hashes {
		h.Write(hb)
	}
	return h.Sum(nil)
}

// recordHistoryLocked archives the current checksum with a timestamp,
// bounding retained history to maxHistory entries.
func (d *Directory) recordHistoryLocked() {
	state := FleetState{
		Checksum:  d.checksumLocked(),
		Timestamp: d.clock.Now(),
		Size:      len(d.verified),
	}
	d.history = append(d.history, state)
	if len(d.history) > maxHistory {
		d.history = d.history[len(d.history)-maxHistory:]
	}
}

// History returns the bounded sequence of past fleet-state checksums, most
// recent last.
func (d *Directory) History() []FleetState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]FleetState, len(d.history))
	copy(out, d.history)
	return out
}

// AddVerified directly inserts a node that has already been fully verified
// (self-signature, operator-signature, and a successful liveness check),
// bypassing the sprout stage. Used to seed a directory (e.g. from a
// peer-cache file) or to promote a sprout after VerifySprout succeeds.
func (d *Directory) AddVerified(meta *key.NodeMetadata) error {
	addr, err := id.AddressFromVerifyingKey(meta.VerifyingKey)
	if err != nil {
		return err
	}
	if addr == d.self {
		return errs.New(errs.CodeMalformedRequest, "a node never accepts its own metadata from a peer")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.verified[addr]; ok && !meta.Timestamp.After(existing.Timestamp) {
		return nil // monotonic: older or equal timestamps are dropped
	}
	d.verified[addr] = meta
	delete(d.sprouts, addr)
	d.recordHistoryLocked()
	return nil
}

// IngestAnnouncement validates one gossiped node-metadata record's self
// signature and inserts it as a sprout pending operator-signature
// verification. Self-announcements and stale (non-monotonic) timestamps are
// silently dropped, matching the protocol's gossip semantics.
func (d *Directory) IngestAnnouncement(meta *key.NodeMetadata) error {
	if err := meta.VerifySelfSignature(d.sch); err != nil {
		return errs.Wrap(errs.CodeSignature, "node self-signature verification failed", err)
	}
	addr, err := id.AddressFromVerifyingKey(meta.VerifyingKey)
	if err != nil {
		return err
	}
	if addr == d.self {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.sprouts[addr]; ok && !meta.Timestamp.After(existing.Timestamp) {
		return nil
	}
	if existing, ok := d.verified[addr]; ok && !meta.Timestamp.After(existing.Timestamp) {
		return nil
	}
	d.sprouts[addr] = meta
	return nil
}

// Sprouts returns a copy of the not-yet-verified set.
func (d *Directory) Sprouts() []*key.NodeMetadata {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*key.NodeMetadata, 0, len(d.sprouts))
	for _, m := range d.sprouts {
		out = append(out, m)
	}
	return out
}

// VerifySprout checks a sprout's operator-signature chain against the
// external operator/staking registry and, on success, promotes it to
// verified. A node never enters the verified set without this check.
func (d *Directory) VerifySprout(addr id.Address, registry OperatorRegistry) error {
	d.mu.RLock()
	meta, ok := d.sprouts[addr]
	d.mu.RUnlock()
	if !ok {
		return errs.New(errs.CodeMalformedRequest, "no such sprout")
	}

	operator, err := registry.OperatorVerifyingKey(meta.StakingProviderAddress)
	if err != nil {
		return errs.Wrap(errs.CodeNodeNotBonded, "operator lookup failed", err)
	}
	vkBuf, err := meta.VerifyingKey.MarshalBinary()
	if err != nil {
		return err
	}
	if err := d.sch.AuthScheme.Verify(operator.Public, vkBuf, meta.OperatorSignature); err != nil {
		return errs.Wrap(errs.CodeSignature, "operator signature verification failed", err)
	}
	return d.AddVerified(meta)
}

// MarkSuspicious buckets addr as suspicious, e.g. after it returns an
// invalid cfrag or a forged signature. Suspicious nodes remain in the
// verified set (fleet-state reporting does not silently drop them) but
// orchestration (internal/policy) should deprioritize them.
func (d *Directory) MarkSuspicious(addr id.Address) {
	d.suspicious.Add(addr, d.clock.Now())
}

// IsSuspicious reports whether addr has been bucketed as suspicious.
func (d *Directory) IsSuspicious(addr id.Address) bool {
	_, ok := d.suspicious.Get(addr)
	return ok
}

// NextLearningPeer deterministically cycles through the verified set
// (sorted by address) for the background learning loop, advancing the
// internal cursor each call. Returns false if the verified set is empty.
func (d *Directory) NextLearningPeer() (*key.NodeMetadata, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.verified) == 0 {
		return nil, false
	}
	addrs := make([]id.Address, 0, len(d.verified))
	for a := range d.verified {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	chosen := addrs[d.cursor%len(addrs)]
	d.cursor++
	return d.verified[chosen], true
}
