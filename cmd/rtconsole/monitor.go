package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/enesunal-m/rtconsole"
	"github.com/enesunal-m/rtconsole/console"
	"github.com/enesunal-m/rtconsole/webrtc"
)

func runMonitor(ctx context.Context, cfg rtconsole.Config, logger *rtconsole.Logger, args []string) error {
	var (
		region   string
		voice    string
		duration time.Duration
	)
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	fs.StringVar(&region, "region", os.Getenv("AZURE_OPENAI_REGION"), "Azure region of the WebRTC endpoint")
	fs.StringVar(&voice, "voice", "verse", "assistant voice")
	fs.DurationVar(&duration, "duration", 0, "stop after this long, 0 runs until interrupted")
	fs.Parse(args)

	if cfg.APIVersion != "" && region == "" {
		return rtconsole.NewConfigError("region", "", "required for Azure")
	}
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	secret, err := webrtc.MintSessionSecret(ctx, nil, cfg, voice)
	if err != nil {
		return err
	}
	logger.Info("secret_minted", map[string]any{"session_id": secret.SessionID})

	log := &eventPrinter{out: os.Stdout}
	defer log.flush()
	err = webrtc.HeadlessConnect(ctx, webrtc.HeadlessOptions{
		URL:     webrtc.WebRTCURL(cfg, region),
		Model:   cfg.Deployment,
		Secret:  secret.Value,
		OnEvent: log.add,
		OnAudioRTP: func(pkts uint64) {
			logger.Debug("audio_rtp", map[string]any{"packets": pkts})
		},
		Logger: logger,
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// eventPrinter prints the collapsed event log, one record at a time once a
// different event type arrives.
type eventPrinter struct {
	mu  sync.Mutex
	out io.Writer
	log []console.EventRecord
}

func (p *eventPrinter) add(ev rtconsole.RealtimeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.log)
	p.log = console.Reduce(p.log, ev)
	if len(p.log) > n && n > 0 {
		fmt.Fprintln(p.out, p.log[n-1].String())
	}
}

func (p *eventPrinter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.log); n > 0 {
		fmt.Fprintln(p.out, p.log[n-1].String())
	}
}
