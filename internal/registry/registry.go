// Package registry is the external staker/operator-bonding collaborator:
// resolving which operator key is bonded to a staking-provider address, and
// which staking providers are members of a given ritual's cohort. The real
// registry lives on-chain; this package is the narrow interface the
// cryptographic core consults, plus an in-memory stand-in for tests and
// single-process deployments.
package registry

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/drand/kyber"

	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/internal/session"
)

// Registry resolves operator bonding and ritual membership. internal/peer
// depends only on the OperatorVerifyingKey method (see peer.OperatorRegistry);
// internal/policy additionally consults stake weights during cohort
// selection, and ritual lookup/participants/session keys during
// threshold-decrypt dispatch. IsRitualMember has no caller in internal/policy.
type Registry interface {
	OperatorVerifyingKey(stakingProvider id.Address) (key.SigningPair, error)
	IsRitualMember(ritualID uint32, stakingProvider id.Address) bool

	// StakeWeight reports a staking provider's relative weight for
	// stake-weighted cohort sampling. A provider with no recorded stake
	// has weight zero and is never selected by weighted sampling.
	StakeWeight(stakingProvider id.Address) uint64

	// RitualByPublicKey resolves a ritual's id and threshold from its
	// aggregate public key, the lookup a ThresholdDecryptionRequest's ACP
	// names ("acp.public_key -> ritual_id").
	RitualByPublicKey(ritualPublicKey kyber.Point) (ritualID uint32, threshold int, err error)

	// RitualParticipants lists the staking providers bonded into a
	// ritual's cohort, for fanning a threshold-decrypt request out to all
	// of them in parallel.
	RitualParticipants(ritualID uint32) ([]id.Address, error)

	// RitualSessionPublicKey returns the per-ritual session public key a
	// participant published once its DKG share was set up, the key a
	// Recipient DHs against to reach that participant's decrypt endpoint.
	RitualSessionPublicKey(ritualID uint32, stakingProvider id.Address) (*session.StaticPublicKey, error)
}

// InMemory is a Registry backed by an explicit bond/membership table,
// standing in for the on-chain staking contract the core never queries
// directly.
type InMemory struct {
	mu          sync.RWMutex
	bonds       map[id.Address]key.SigningPair
	membership  map[uint32]map[id.Address]bool
	stakes      map[id.Address]uint64
	rituals     map[string]ritualRecord
	sessionKeys map[uint32]map[id.Address]*session.StaticPublicKey
}

type ritualRecord struct {
	id        uint32
	threshold int
}

// NewInMemory builds an empty registry.
func NewInMemory() *InMemory {
	return &InMemory{
		bonds:       make(map[id.Address]key.SigningPair),
		membership:  make(map[uint32]map[id.Address]bool),
		stakes:      make(map[id.Address]uint64),
		rituals:     make(map[string]ritualRecord),
		sessionKeys: make(map[uint32]map[id.Address]*session.StaticPublicKey),
	}
}

func ritualPublicKeyToken(pk kyber.Point) (string, error) {
	buf, err := pk.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// RegisterRitual records a completed ritual's id, threshold and public key,
// the chain-observed fact a Recipient later looks up by public key alone.
func (r *InMemory) RegisterRitual(ritualID uint32, threshold int, ritualPublicKey kyber.Point) error {
	token, err := ritualPublicKeyToken(ritualPublicKey)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rituals[token] = ritualRecord{id: ritualID, threshold: threshold}
	return nil
}

// SetRitualSessionPublicKey records the per-ritual session public key a
// participant published once its DKG share was ready.
func (r *InMemory) SetRitualSessionPublicKey(ritualID uint32, stakingProvider id.Address, pub *session.StaticPublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionKeys[ritualID] == nil {
		r.sessionKeys[ritualID] = make(map[id.Address]*session.StaticPublicKey)
	}
	r.sessionKeys[ritualID][stakingProvider] = pub
}

func (r *InMemory) RitualByPublicKey(ritualPublicKey kyber.Point) (uint32, int, error) {
	token, err := ritualPublicKeyToken(ritualPublicKey)
	if err != nil {
		return 0, 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.rituals[token]
	if !ok {
		return 0, 0, fmt.Errorf("registry: no ritual registered for this public key")
	}
	return rec.id, rec.threshold, nil
}

func (r *InMemory) RitualParticipants(ritualID uint32) ([]id.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.membership[ritualID]
	out := make([]id.Address, 0, len(members))
	for addr := range members {
		out = append(out, addr)
	}
	return out, nil
}

func (r *InMemory) RitualSessionPublicKey(ritualID uint32, stakingProvider id.Address) (*session.StaticPublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pub, ok := r.sessionKeys[ritualID][stakingProvider]
	if !ok {
		return nil, fmt.Errorf("registry: no session public key published for staking provider %s in ritual %d", stakingProvider, ritualID)
	}
	return pub, nil
}

// SetStakeWeight records stakingProvider's weight for weighted sampling.
func (r *InMemory) SetStakeWeight(stakingProvider id.Address, weight uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stakes[stakingProvider] = weight
}

func (r *InMemory) StakeWeight(stakingProvider id.Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stakes[stakingProvider]
}

// Bond records that operator's signing key is authorized to operate nodes
// on behalf of stakingProvider.
func (r *InMemory) Bond(stakingProvider id.Address, operator key.SigningPair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bonds[stakingProvider] = operator
}

// AddRitualMember records that stakingProvider is bonded into ritualID's
// cohort.
func (r *InMemory) AddRitualMember(ritualID uint32, stakingProvider id.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.membership[ritualID] == nil {
		r.membership[ritualID] = make(map[id.Address]bool)
	}
	r.membership[ritualID][stakingProvider] = true
}

func (r *InMemory) OperatorVerifyingKey(stakingProvider id.Address) (key.SigningPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.bonds[stakingProvider]
	if !ok {
		return key.SigningPair{}, &UnbondedError{StakingProvider: stakingProvider}
	}
	return op, nil
}

func (r *InMemory) IsRitualMember(ritualID uint32, stakingProvider id.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membership[ritualID][stakingProvider]
}

// UnbondedError is returned when no operator is bonded to a staking
// provider address.
type UnbondedError struct {
	StakingProvider id.Address
}

func (e *UnbondedError) Error() string {
	return "no operator bonded for staking provider " + e.StakingProvider.String()
}
