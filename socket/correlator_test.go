package socket

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pnet "github.com/jinmuyano/processnet"
	"github.com/jinmuyano/processnet/packet"
)

func staticLister(entries ...Entry) Lister {
	return ListerFunc(func(context.Context) ([]Entry, error) {
		return entries, nil
	})
}

func frame(proto packet.Protocol, dir packet.Direction, src, dst uint16) packet.Frame {
	return packet.Frame{Protocol: proto, Direction: dir, SourcePort: src, DestinationPort: dst, ByteLength: 100}
}

func TestBuildPortMapSeedsEveryKey(t *testing.T) {
	c := NewCorrelator(staticLister(
		Entry{Protocol: packet.TCP, LocalPort: 443, PIDs: []uint32{7, 8}},
		Entry{Protocol: packet.UDP, LocalPort: 53, PIDs: []uint32{1}},
		Entry{Protocol: packet.TCP, LocalPort: 22, PIDs: []uint32{99}}, // not in the batch
		Entry{Protocol: packet.TCP, LocalPort: 8080},                    // no owner
	), zaptest.NewLogger(t))

	frames := []packet.Frame{
		frame(packet.TCP, packet.Upload, 443, 50000),
		frame(packet.UDP, packet.Download, 53, 53),
		frame(packet.TCP, packet.Download, 1234, 8080),
		frame(packet.UDP, packet.Upload, 443, 9), // same port, other protocol
	}

	got := c.BuildPortMap(context.Background(), frames)
	assert.Equal(t, map[packet.ProtocolPort]uint32{
		{Protocol: packet.TCP, LocalPort: 443}:  7,
		{Protocol: packet.UDP, LocalPort: 53}:   1,
		{Protocol: packet.TCP, LocalPort: 8080}: pnet.UnknownPID,
		{Protocol: packet.UDP, LocalPort: 443}:  pnet.UnknownPID,
	}, got)
}

func TestBuildPortMapFirstOwnerWins(t *testing.T) {
	c := NewCorrelator(staticLister(
		Entry{Protocol: packet.TCP, LocalPort: 80},
		Entry{Protocol: packet.TCP, LocalPort: 80, PIDs: []uint32{10}},
		Entry{Protocol: packet.TCP, LocalPort: 80, PIDs: []uint32{11}},
	), nil)

	got := c.BuildPortMap(context.Background(), []packet.Frame{frame(packet.TCP, packet.Upload, 80, 1)})
	assert.Equal(t, uint32(10), got[packet.ProtocolPort{Protocol: packet.TCP, LocalPort: 80}])
}

func TestBuildPortMapDegradesOnQueryFailure(t *testing.T) {
	c := NewCorrelator(ListerFunc(func(context.Context) ([]Entry, error) {
		return nil, errors.New("permission denied")
	}), zaptest.NewLogger(t))

	got := c.BuildPortMap(context.Background(), []packet.Frame{
		frame(packet.TCP, packet.Upload, 443, 1),
		frame(packet.UDP, packet.Download, 1, 53),
	})
	require.Len(t, got, 2)
	for _, pid := range got {
		assert.Equal(t, pnet.UnknownPID, pid)
	}
}

func TestBuildPortMapSkipsQueryForEmptyBatch(t *testing.T) {
	called := false
	c := NewCorrelator(ListerFunc(func(context.Context) ([]Entry, error) {
		called = true
		return nil, nil
	}), nil)

	got := c.BuildPortMap(context.Background(), nil)
	assert.Empty(t, got)
	assert.False(t, called)
}
