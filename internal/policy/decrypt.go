package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/internal/dkgcrypto"
	"github.com/nucypher/taco/internal/nodeservice"
	"github.com/nucypher/taco/internal/session"
)

// ThresholdMessageKit is a ciphertext encrypted for a DKG ritual: the
// pairing-based KEM header plus the access-condition policy gating it.
// Building one is the Encryptor's job (outside this package's scope);
// ThresholdDecrypt only ever consumes an already-assembled kit.
type ThresholdMessageKit struct {
	CiphertextHeader *dkgcrypto.DkgCiphertext
	ACP              nodeservice.AccessConditionPolicy
}

type shareOutcome struct {
	addr  id.Address
	share *dkgcrypto.DecryptionShare
	err   error
}

// ThresholdDecrypt implements the recipient-side DKG decryption flow: look
// up the ritual from mk's ACP public key, dispatch a session-wrapped
// decryption request to every participant in parallel, and combine the
// first threshold of shares to arrive into the plaintext.
func (r *Retriever) ThresholdDecrypt(ctx context.Context, mk *ThresholdMessageKit, custom map[string]interface{}) ([]byte, error) {
	ritualID, threshold, err := r.registry.RitualByPublicKey(mk.ACP.RitualPublicKey)
	if err != nil {
		return nil, errs.Wrap(errs.CodeUnknownRitual, "ritual could not be resolved from the ciphertext's public key", err)
	}

	participants, err := r.registry.RitualParticipants(ritualID)
	if err != nil {
		return nil, errs.Wrap(errs.CodeUnknownRitual, "ritual participants could not be resolved", err)
	}
	if len(participants) == 0 {
		return nil, errs.New(errs.CodeUnknownRitual, fmt.Sprintf("ritual %d has no registered participants", ritualID))
	}

	ephemeral := session.NewEphemeralSecret(r.sch)
	ephemeralPub := ephemeral.Public(r.sch)

	request := &nodeservice.ThresholdDecryptionRequest{
		RitualID:         ritualID,
		Variant:          nodeservice.VariantSimple,
		CiphertextHeader: mk.CiphertextHeader,
		ACP:              mk.ACP,
		Context:          custom,
	}
	plaintextRequest, err := nodeservice.EncodeThresholdDecryptionRequest(request)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan shareOutcome, len(participants))
	var wg sync.WaitGroup
	for _, addr := range participants {
		wg.Add(1)
		go func(addr id.Address) {
			defer wg.Done()
			results <- r.dispatchDecrypt(reqCtx, addr, ritualID, ephemeralPub, ephemeral, plaintextRequest)
		}(addr)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var combined *multierror.Error
	shares := make([]*dkgcrypto.DecryptionShare, 0, threshold)
	for out := range results {
		if out.err != nil {
			if errs.Suspicious(out.err) {
				r.directory.MarkSuspicious(out.addr)
			}
			combined = multierror.Append(combined, fmt.Errorf("node %s: %w", out.addr, out.err))
			continue
		}
		shares = append(shares, out.share)
		if len(shares) >= threshold {
			cancel()
			break
		}
	}

	if len(shares) < threshold {
		if err := combined.ErrorOrNil(); err != nil {
			return nil, err
		}
		return nil, errs.New(errs.CodeNotEnoughFragments, "not enough decryption shares")
	}

	gt, err := dkgcrypto.CombineDecryptionShares(r.sch, shares, threshold)
	if err != nil {
		return nil, err
	}
	return dkgcrypto.DecryptWithSharedSecret(mk.CiphertextHeader, gt)
}

func (r *Retriever) dispatchDecrypt(
	ctx context.Context,
	addr id.Address,
	ritualID uint32,
	ephemeralPub *session.StaticPublicKey,
	ephemeral *session.StaticSecret,
	plaintextRequest []byte,
) shareOutcome {
	node, ok := r.directory.Get(addr)
	if !ok {
		return shareOutcome{addr: addr, err: errs.New(errs.CodeNodeNotBonded, "ritual participant not found in verified directory")}
	}
	nodeSessionPub, err := r.registry.RitualSessionPublicKey(ritualID, addr)
	if err != nil {
		return shareOutcome{addr: addr, err: err}
	}
	wrapper, err := session.NewWrapper(ephemeral, nodeSessionPub)
	if err != nil {
		return shareOutcome{addr: addr, err: err}
	}
	ciphertext, err := wrapper.WrapRequest(plaintextRequest)
	if err != nil {
		return shareOutcome{addr: addr, err: err}
	}
	envelope := &nodeservice.EncryptedThresholdDecryptionRequest{
		RitualID:               ritualID,
		RecipientSessionPublic: ephemeralPub,
		Ciphertext:             ciphertext,
	}
	respBytes, err := r.client.Decrypt(ctx, node, envelope)
	if err != nil {
		return shareOutcome{addr: addr, err: err}
	}
	plaintext, err := wrapper.UnwrapResponse(respBytes)
	if err != nil {
		return shareOutcome{addr: addr, err: err}
	}
	resp, err := nodeservice.DecodeThresholdDecryptionResponse(r.sch, plaintext)
	if err != nil {
		return shareOutcome{addr: addr, err: err}
	}
	return shareOutcome{addr: addr, share: resp.DecryptionShare}
}
