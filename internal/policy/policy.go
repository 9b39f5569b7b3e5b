// Package policy implements the Policy Protocol / Orchestration layer:
// the Publisher-side Grant that splits a policy key into fragments and
// distributes them in a Treasure Map, and the Recipient-side Retrieve
// and ThresholdDecrypt that dispatch requests to a cohort in parallel and
// combine a threshold of responses. Revoke lets a Publisher instruct a
// cohort to stop honoring a policy's reencrypt requests.
//
// This package never talks to the network directly: NodeClient is the
// external collaborator a concrete internal/transport client implements,
// the same "interface here, real implementation elsewhere" shape
// internal/payment and internal/registry already use for their
// collaborators.
package policy

import (
	"context"
	"time"

	"github.com/drand/kyber"

	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/internal/nodeservice"
	"github.com/nucypher/taco/internal/pre"
)

// EncryptedTreasureMap is a Treasure Map encrypted to its recipient's
// encrypting key, reusing internal/pre's generic MessageKit encryption
// rather than a bespoke wrapping format.
type EncryptedTreasureMap = pre.MessageKit

// NodeClient dispatches requests to one remote node. Implementations live
// in internal/transport; this package only depends on the interface.
type NodeClient interface {
	Reencrypt(ctx context.Context, node *key.NodeMetadata, req *nodeservice.ReencryptionRequest) (*nodeservice.ReencryptionResponse, error)
	Decrypt(ctx context.Context, node *key.NodeMetadata, envelope *nodeservice.EncryptedThresholdDecryptionRequest) ([]byte, error)
	Revoke(ctx context.Context, node *key.NodeMetadata, publisherVK kyber.Point, cert *nodeservice.RevocationCertificate) error
}

// Policy is what Grant returns to the Publisher: the artifacts a
// Recipient needs, handed over via an out-of-band side channel.
type Policy struct {
	HRAC                 id.HRAC
	PublicKey            kyber.Point // policy_key, for the Encryptor
	EncryptedTreasureMap *EncryptedTreasureMap
	Expiration           time.Time
}

// CohortStrategy selects which nodes a policy's shares are assigned to.
type CohortStrategy interface {
	selectCohort(o *Orchestrator, ritualHint uint32, n int) ([]*key.NodeMetadata, error)
}
