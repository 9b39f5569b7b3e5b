package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/internal/nodeservice"
)

// RevokeRequest names the policy and cohort a Publisher wants to stop
// honoring reencrypt requests for. Nodes is the same cohort Grant selected;
// the Orchestrator does not retain it across calls, so the caller must
// supply it again (typically from the Policy it stored after Grant).
type RevokeRequest struct {
	HRAC  id.HRAC
	Nodes []id.Address
}

// Revoke signs one revocation certificate for hrac and dispatches it to
// every node in the cohort in parallel. It is best-effort: a node already
// holding cfrags handed out before revocation may still let a recipient
// decrypt with them, an accepted limitation rather than one this method
// tries to paper over. The returned error, if any, aggregates one entry per
// node that could not be reached or refused the certificate.
func (o *Orchestrator) Revoke(ctx context.Context, req *RevokeRequest) error {
	cert, err := nodeservice.SignRevocationCertificate(o.sch, o.signing.Key, req.HRAC)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errsCh := make(chan error, len(req.Nodes))
	for _, addr := range req.Nodes {
		node, ok := o.directory.Get(addr)
		if !ok {
			errsCh <- fmt.Errorf("node %s: not found in verified directory", addr)
			continue
		}
		wg.Add(1)
		go func(addr id.Address, node *key.NodeMetadata) {
			defer wg.Done()
			if err := o.client.Revoke(ctx, node, o.signing.Public, cert); err != nil {
				errsCh <- fmt.Errorf("node %s: %w", addr, err)
			}
		}(addr, node)
	}
	wg.Wait()
	close(errsCh)

	var combined *multierror.Error
	for err := range errsCh {
		combined = multierror.Append(combined, err)
	}
	return combined.ErrorOrNil()
}
