//go:build !linux

package netflow

import (
	"errors"

	"github.com/jinmuyano/processnet/netif"
)

func OpenAFPacket(netif.Interface, CaptureConfig) (Source, error) {
	return nil, errors.New("af_packet capture is only available on linux")
}
