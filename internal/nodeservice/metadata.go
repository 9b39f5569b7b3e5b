package nodeservice

import (
	"bytes"
	"time"

	"github.com/nucypher/taco/common/key"
)

// MetadataRequest is the node_metadata exchange's input: the caller's
// known fleet-state checksum, plus any newly-learned node records it
// wants to gossip onward.
type MetadataRequest struct {
	FleetStateChecksum []byte
	AnnounceNodes      []*key.NodeMetadata
}

// MetadataResponse is this node's signed reply. KnownNodes is left empty
// when the caller's checksum already matches this node's, since there is
// nothing new to teach it.
type MetadataResponse struct {
	Timestamp  time.Time
	KnownNodes []*key.NodeMetadata
	Signature  []byte
}

// NodeMetadataExchange implements the node_metadata endpoint: ingest any
// announced sprouts, then reply with the node's full known-node list
// unless the caller's checksum shows it is already current.
func (s *Service) NodeMetadataExchange(req *MetadataRequest) (*MetadataResponse, error) {
	for _, announced := range req.AnnounceNodes {
		if err := s.directory.IngestAnnouncement(announced); err != nil {
			s.log.Debugw("dropped node announcement", "error", err)
		}
	}

	resp := &MetadataResponse{Timestamp: s.clock.Now()}
	if !bytes.Equal(req.FleetStateChecksum, s.directory.Checksum()) {
		resp.KnownNodes = s.directory.Snapshot()
	}

	sig, err := s.signing.Sign(s.sch, s.metadataSigningBytes(resp))
	if err != nil {
		return nil, err
	}
	resp.Signature = sig
	return resp, nil
}

func (s *Service) metadataSigningBytes(resp *MetadataResponse) []byte {
	h := s.sch.IdentityHash()
	ts := resp.Timestamp.UnixNano()
	tsBuf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		tsBuf[i] = byte(ts >> (8 * (7 - i)))
	}
	h.Write(tsBuf)
	for _, hashes := range key.SortedHashes(s.sch, resp.KnownNodes) {
		h.Write(hashes)
	}
	return h.Sum(nil)
}
