package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// ApplyOfferAndCreateAnswer handles a client-initiated negotiation.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// CreateAndSetOffer starts a server-initiated renegotiation. It returns a nil
	// offer when a negotiation is already in flight; the request is then
	// remembered and reported by ApplyAnswer.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyAnswer completes a server-initiated renegotiation and reports whether
	// another one was requested meanwhile.
	ApplyAnswer(webrtc.SessionDescription) (renegotiate bool, err error)
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// AddLocalTrack attaches a local static RTP track to the underlying PeerConnection.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	RemoveLocalTrack(sender *webrtc.RTPSender) error
	// RequestKeyframe asks the remote publisher of ssrc for a new keyframe.
	RequestKeyframe(ssrc uint32) error
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
}
