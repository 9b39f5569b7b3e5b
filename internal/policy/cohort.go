package policy

import (
	"math/rand"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
)

// Handpicked selects exactly the given node addresses, in order, failing
// if any is unknown to the verified directory.
type Handpicked struct {
	Addresses []id.Address
}

func (h Handpicked) selectCohort(o *Orchestrator, _ uint32, n int) ([]*key.NodeMetadata, error) {
	if len(h.Addresses) != n {
		return nil, errs.New(errs.CodeNotEnoughNodes, "handpicked cohort size does not match requested shares")
	}
	seen := make(map[id.Address]bool, n)
	out := make([]*key.NodeMetadata, 0, n)
	for _, addr := range h.Addresses {
		if seen[addr] {
			return nil, errs.New(errs.CodeMalformedRequest, "handpicked cohort contains duplicate address: "+addr.String())
		}
		seen[addr] = true
		meta, ok := o.directory.Get(addr)
		if !ok {
			return nil, errs.New(errs.CodeNotEnoughNodes, "handpicked node not found in verified directory: "+addr.String())
		}
		out = append(out, meta)
	}
	return out, nil
}

// StakeWeighted samples n distinct nodes from the verified directory,
// weighted by internal/registry's recorded stake, seeded deterministically
// by the policy's hrac so repeated selection for the same policy
// converges on the same cohort.
type StakeWeighted struct {
	HRAC id.HRAC
}

func (s StakeWeighted) selectCohort(o *Orchestrator, _ uint32, n int) ([]*key.NodeMetadata, error) {
	candidates := o.directory.Snapshot()
	weights := make([]uint64, len(candidates))
	var total uint64
	for i, c := range candidates {
		w := o.registry.StakeWeight(c.StakingProviderAddress)
		weights[i] = w
		total += w
	}
	if total == 0 || len(candidates) < n {
		return nil, errs.New(errs.CodeNotEnoughNodes, "not enough stake-weighted candidates to fill cohort")
	}

	rng := rand.New(rand.NewSource(seedFromHRAC(s.HRAC)))
	chosen := make(map[int]bool, n)
	out := make([]*key.NodeMetadata, 0, n)
	for len(out) < n {
		pick := weightedPick(rng, weights, chosen)
		if pick < 0 {
			return nil, errs.New(errs.CodeNotEnoughNodes, "not enough distinct stake-weighted candidates to fill cohort")
		}
		chosen[pick] = true
		out = append(out, candidates[pick])
	}
	return out, nil
}

func weightedPick(rng *rand.Rand, weights []uint64, excluded map[int]bool) int {
	var remaining uint64
	for i, w := range weights {
		if !excluded[i] {
			remaining += w
		}
	}
	if remaining == 0 {
		return -1
	}
	target := uint64(rng.Int63n(int64(remaining)))
	var acc uint64
	for i, w := range weights {
		if excluded[i] {
			continue
		}
		acc += w
		if target < acc {
			return i
		}
	}
	return -1
}

func seedFromHRAC(hrac id.HRAC) int64 {
	var seed int64
	for i, b := range hrac {
		seed ^= int64(b) << (8 * (i % 8))
	}
	return seed
}
