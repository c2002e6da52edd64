package console

import (
	"context"

	"github.com/enesunal-m/rtconsole"
	"github.com/enesunal-m/rtconsole/wavtools"
)

// RemoteClient is the realtime conversation client. *rtconsole.Client
// satisfies it. The controller owns it exclusively while a session is live.
type RemoteClient interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SendUserMessageContent(ctx context.Context, content []rtconsole.ContentPart) error
	AppendInputAudio(ctx context.Context, samples []int16) error
	CreateResponse(ctx context.Context) error
	CancelResponse(ctx context.Context, itemID string, sampleCount int) error
	UpdateSession(ctx context.Context, s rtconsole.Session) error
	DeleteItem(ctx context.Context, itemID string) error
	On(name string, fn rtconsole.Handler) (unsubscribe func())
	Items() []rtconsole.Item
}

// CaptureDevice is a microphone. *wavtools.Recorder satisfies it.
// End must succeed on a device that was never begun.
type CaptureDevice interface {
	Begin(ctx context.Context) error
	Record(ctx context.Context, onFrame func(samples []int16)) error
	Pause(ctx context.Context) error
	End(ctx context.Context) error
	Frequencies(kind wavtools.AnalysisKind) wavtools.Spectrum
}

// PlaybackSink is a speaker. *wavtools.StreamPlayer satisfies it.
// Interrupt returns nil when nothing is playing.
type PlaybackSink interface {
	Connect(ctx context.Context) error
	Add16BitPCM(samples []int16, trackID string)
	Interrupt(ctx context.Context) (*rtconsole.TrackOffset, error)
	Frequencies(kind wavtools.AnalysisKind) wavtools.Spectrum
}

var (
	_ RemoteClient  = (*rtconsole.Client)(nil)
	_ CaptureDevice = (*wavtools.Recorder)(nil)
	_ PlaybackSink  = (*wavtools.StreamPlayer)(nil)
)
