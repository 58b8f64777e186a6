package session

import (
	"context"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/rtclient"
)

//go:generate mockgen -destination=mock_transport_test.go -package=session . Transport

// Transport is one room connection as the Orchestrator drives it.
// *rtclient.Session satisfies it.
type Transport interface {
	Connect(ctx context.Context, grant, url string) error
	Disconnect()
	Identity() domain.Identity
	SetMicrophone(enabled bool) error
	SetCamera(enabled bool) error
	SendData(payload []byte, to domain.Identity) error
}

var _ Transport = (*rtclient.Session)(nil)

// TransportFactory builds a fresh Transport for one connection attempt. The
// handler must receive every event the transport raises.
type TransportFactory func(handler func(rtclient.Event)) Transport

// RTClientFactory builds rtclient sessions with opts.
func RTClientFactory(opts rtclient.Options) TransportFactory {
	return func(handler func(rtclient.Event)) Transport {
		return rtclient.New(opts, handler)
	}
}
