package peer_test

import (
	"errors"
	"testing"

	clock "github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/peer"
)

type fakeRegistry struct {
	operators map[id.Address]*key.SigningPair
}

func (f *fakeRegistry) OperatorVerifyingKey(staking id.Address) (key.SigningPair, error) {
	op, ok := f.operators[staking]
	if !ok {
		return key.SigningPair{}, errors.New("no operator bonded for staking provider")
	}
	return *op, nil
}

func newNode(t *testing.T, sch *scheme.Scheme, clk clock.Clock, operator *key.SigningPair) (*key.NodeMetadata, id.Address) {
	signing, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	decrypting, err := key.NewDecryptingPair(sch)
	require.NoError(t, err)
	addr, err := id.AddressFromVerifyingKey(signing.Public)
	require.NoError(t, err)

	meta := &key.NodeMetadata{
		Host:          "127.0.0.1",
		Port:          9151,
		VerifyingKey:  signing.Public,
		EncryptingKey: decrypting.Public,
		Timestamp:     clk.Now(),
		Domain:        "mainnet",
	}
	vkBuf, err := signing.Public.MarshalBinary()
	require.NoError(t, err)
	opSig, err := operator.Sign(sch, vkBuf)
	require.NoError(t, err)
	meta.OperatorSignature = opSig

	stakingAddr, err := id.AddressFromVerifyingKey(operator.Public)
	require.NoError(t, err)
	meta.StakingProviderAddress = stakingAddr

	require.NoError(t, meta.SelfSign(sch, signing))
	return meta, addr
}

func TestIngestAndVerifySproutPromotesToVerified(t *testing.T) {
	sch := scheme.NewDefault()
	clk := clock.NewFakeClock()
	self := id.Address{}

	operator, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	stakingAddr, err := id.AddressFromVerifyingKey(operator.Public)
	require.NoError(t, err)

	dir, err := peer.New(sch, self, 16, clk)
	require.NoError(t, err)

	meta, addr := newNode(t, sch, clk, operator)
	require.NoError(t, dir.IngestAnnouncement(meta))

	_, verified := dir.Get(addr)
	require.False(t, verified)
	require.Len(t, dir.Sprouts(), 1)

	registry := &fakeRegistry{operators: map[id.Address]*key.SigningPair{stakingAddr: operator}}
	require.NoError(t, dir.VerifySprout(addr, registry))

	got, ok := dir.Get(addr)
	require.True(t, ok)
	require.True(t, got.Equal(meta))
	require.Empty(t, dir.Sprouts())
}

func TestSelfAnnouncementIsNeverAccepted(t *testing.T) {
	sch := scheme.NewDefault()
	clk := clock.NewFakeClock()

	operator, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	meta, selfAddr := newNode(t, sch, clk, operator)

	dir, err := peer.New(sch, selfAddr, 16, clk)
	require.NoError(t, err)
	require.NoError(t, dir.IngestAnnouncement(meta))
	require.Empty(t, dir.Sprouts())
}

func TestReannouncingSameTimestampIsIdempotent(t *testing.T) {
	sch := scheme.NewDefault()
	clk := clock.NewFakeClock()
	operator, err := key.NewSigningPair(sch)
	require.NoError(t, err)

	dir, err := peer.New(sch, id.Address{}, 16, clk)
	require.NoError(t, err)

	meta, _ := newNode(t, sch, clk, operator)
	require.NoError(t, dir.IngestAnnouncement(meta))
	require.NoError(t, dir.IngestAnnouncement(meta))
	require.Len(t, dir.Sprouts(), 1)
}

func TestChecksumMatchesAcrossEquivalentDirectories(t *testing.T) {
	sch := scheme.NewDefault()
	clk := clock.NewFakeClock()
	operator, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	stakingAddr, err := id.AddressFromVerifyingKey(operator.Public)
	require.NoError(t, err)
	registry := &fakeRegistry{operators: map[id.Address]*key.SigningPair{stakingAddr: operator}}

	dirA, err := peer.New(sch, id.Address{1}, 16, clk)
	require.NoError(t, err)
	dirB, err := peer.New(sch, id.Address{2}, 16, clk)
	require.NoError(t, err)

	meta, addr := newNode(t, sch, clk, operator)
	require.NoError(t, dirA.IngestAnnouncement(meta))
	require.NoError(t, dirA.VerifySprout(addr, registry))
	require.NoError(t, dirB.IngestAnnouncement(meta))
	require.NoError(t, dirB.VerifySprout(addr, registry))

	require.Equal(t, dirA.Checksum(), dirB.Checksum())
}

func TestMarkSuspiciousIsObservable(t *testing.T) {
	sch := scheme.NewDefault()
	dir, err := peer.New(sch, id.Address{}, 16, clock.NewFakeClock())
	require.NoError(t, err)
	addr := id.Address{9}
	require.False(t, dir.IsSuspicious(addr))
	dir.MarkSuspicious(addr)
	require.True(t, dir.IsSuspicious(addr))
}

func TestNextLearningPeerCyclesDeterministically(t *testing.T) {
	sch := scheme.NewDefault()
	clk := clock.NewFakeClock()
	operator, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	stakingAddr, err := id.AddressFromVerifyingKey(operator.Public)
	require.NoError(t, err)
	registry := &fakeRegistry{operators: map[id.Address]*key.SigningPair{stakingAddr: operator}}

	dir, err := peer.New(sch, id.Address{}, 16, clk)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		meta, addr := newNode(t, sch, clk, operator)
		require.NoError(t, dir.IngestAnnouncement(meta))
		require.NoError(t, dir.VerifySprout(addr, registry))
	}

	first, ok := dir.NextLearningPeer()
	require.True(t, ok)
	second, ok := dir.NextLearningPeer()
	require.True(t, ok)
	require.NotEqual(t, first.VerifyingKey, second.VerifyingKey)
}
