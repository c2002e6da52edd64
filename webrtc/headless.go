package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	pion "github.com/pion/webrtc/v3"

	"github.com/enesunal-m/rtconsole"
)

// ErrPeerFailed is returned by HeadlessConnect when the peer connection fails.
var ErrPeerFailed = errors.New("webrtc: peer connection failed")

// HeadlessOptions configures HeadlessConnect.
type HeadlessOptions struct {
	// URL is the SDP exchange endpoint, see WebRTCURL.
	URL        string
	Model      string
	Secret     string
	IceServers []pion.ICEServer

	// OnEvent receives every server event from the data channel.
	OnEvent func(ev rtconsole.RealtimeEvent)
	// OnAudioRTP is called every 200 received audio packets with the running count.
	OnAudioRTP func(pkts uint64)

	HTTPClient *http.Client
	Logger     *rtconsole.Logger
}

func (o HeadlessOptions) validate() error {
	switch {
	case o.URL == "":
		return rtconsole.NewConfigError("URL", "", "cannot be empty")
	case o.Model == "":
		return rtconsole.NewConfigError("Model", "", "cannot be empty")
	case o.Secret == "":
		return rtconsole.NewConfigError("Secret", "", "cannot be empty")
	}
	return nil
}

// HeadlessConnect opens a receive-only WebRTC session and reports its
// data-channel events until ctx is done or the peer connection fails.
func HeadlessConnect(ctx context.Context, opt HeadlessOptions) error {
	if err := opt.validate(); err != nil {
		return err
	}
	logger := opt.Logger
	if logger == nil {
		logger = rtconsole.DefaultLogger
	}
	log := logger.WithContext(map[string]any{"component": "webrtc"})
	client := opt.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{ICEServers: opt.IceServers})
	if err != nil {
		return err
	}
	defer pc.Close()

	failed := make(chan struct{})
	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		log.Info("peer_state", map[string]any{"state": s.String()})
		if s == pion.PeerConnectionStateFailed {
			close(failed)
		}
	})

	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		return err
	}
	dc.OnMessage(func(m pion.DataChannelMessage) {
		ev, err := decodeEvent(m.Data)
		if err != nil {
			log.Warn("bad_event_json", map[string]any{"err": err, "bytes": len(m.Data)})
			return
		}
		if opt.OnEvent != nil {
			opt.OnEvent(ev)
		}
	})

	if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}
	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		var pkts uint64
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
			pkts++
			if opt.OnAudioRTP != nil && pkts%200 == 0 {
				opt.OnAudioRTP(pkts)
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}

	answer, err := exchangeSDP(ctx, client, opt, offer.SDP)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case <-failed:
		return ErrPeerFailed
	}
}

func exchangeSDP(ctx context.Context, client *http.Client, opt HeadlessOptions, offer string) (string, error) {
	u := fmt.Sprintf("%s?model=%s", opt.URL, url.QueryEscape(opt.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewBufferString(offer))
	if err != nil {
		return "", rtconsole.NewConnectionError(u, "sdp", err)
	}
	req.Header.Set("Authorization", "Bearer "+opt.Secret)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := client.Do(req)
	if err != nil {
		return "", rtconsole.NewConnectionError(u, "sdp", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", rtconsole.NewConnectionError(u, "sdp", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", rtconsole.NewConnectionError(u, "sdp", fmt.Errorf("status %d: %s", resp.StatusCode, string(b)))
	}
	return string(b), nil
}

// decodeEvent wraps a data-channel message as a server RealtimeEvent.
func decodeEvent(data []byte) (rtconsole.RealtimeEvent, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return rtconsole.RealtimeEvent{}, err
	}
	return rtconsole.RealtimeEvent{
		Time:   time.Now(),
		Source: rtconsole.SourceServer,
		Type:   env.Type,
		Raw:    append([]byte(nil), data...),
	}, nil
}
