package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/enesunal-m/rtconsole"
	"github.com/enesunal-m/rtconsole/console"
	"github.com/enesunal-m/rtconsole/wavtools"
)

const consoleHelp = `commands:
  c            connect
  x            disconnect and clear
  r / s        start / stop push-to-talk recording
  t <text>     send a text message
  m ptt|vad    switch turn mode
  d <item_id>  delete a conversation item
  l            print the event log
  p            print the transcript
  q            quit`

func runConsole(ctx context.Context, cfg rtconsole.Config, logger *rtconsole.Logger, args []string) error {
	var (
		input        string
		inputRate    int
		mode         string
		greeting     string
		instructions string
		ffplayPath   string
		mute         bool
		timeout      time.Duration
	)
	fs := flag.NewFlagSet("console", flag.ExitOnError)
	fs.StringVar(&input, "input", "", "microphone stand-in: a .wav file or raw PCM16 mono file, re-read on every connect")
	fs.IntVar(&inputRate, "input-rate", rtconsole.DefaultFrequency, "sample rate of a raw PCM16 -input")
	fs.StringVar(&mode, "mode", "ptt", "turn mode: ptt or vad")
	fs.StringVar(&greeting, "greeting", console.DefaultGreeting, "first user message, empty to skip")
	fs.StringVar(&instructions, "instructions", "", "session instructions")
	fs.StringVar(&ffplayPath, "ffplay", "ffplay", "ffplay binary used for playback")
	fs.BoolVar(&mute, "mute", false, "do not play assistant audio")
	fs.DurationVar(&timeout, "connect-timeout", 15*time.Second, "connect timeout, 0 for none")
	fs.Parse(args)

	turnMode, err := console.ParseTurnMode(mode)
	if err != nil {
		return err
	}

	recOpts := []wavtools.RecorderOption{wavtools.WithRecorderLogger(logger)}
	if input != "" {
		recOpts = append(recOpts, wavtools.WithOpener(fileOpener(input, inputRate)))
	}
	recorder := wavtools.NewRecorder(recOpts...)

	playOpts := []wavtools.PlayerOption{wavtools.WithPlayerLogger(logger)}
	if !mute {
		speaker, err := startFFPlay(ffplayPath, rtconsole.DefaultFrequency)
		if err != nil {
			logger.Warn("speaker_unavailable", map[string]any{"err": err})
		} else {
			defer speaker.Close()
			playOpts = append(playOpts, wavtools.WithOutput(speaker))
		}
	}
	player := wavtools.NewStreamPlayer(playOpts...)
	defer player.Close()

	ctrl := console.New(rtconsole.New(cfg), recorder, player, console.Options{
		TurnMode:       turnMode,
		Greeting:       greeting,
		Instructions:   instructions,
		ConnectTimeout: timeout,
		Logger:         logger,
	})
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctrl.Disconnect(dctx)
	}()

	fmt.Println(consoleHelp)
	if err := ctrl.Connect(ctx); err != nil {
		fmt.Printf("connect failed: %v\n", err)
	} else {
		fmt.Printf("connected (%s)\n", ctrl.Snapshot().Mode)
	}

	go watchTranscript(ctx, ctrl, os.Stdout, 300*time.Millisecond)
	return commandLoop(ctx, ctrl, os.Stdin, os.Stdout)
}

// fileOpener opens path on every Begin so each session replays it in real time.
func fileOpener(path string, rate int) wavtools.Opener {
	return func(context.Context) (wavtools.Source, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(filepath.Ext(path), ".wav") {
			src, err := wavtools.NewWAVSource(f, true)
			if err != nil {
				f.Close()
				return nil, err
			}
			return src, nil
		}
		return wavtools.NewReaderSource(f, rate, true), nil
	}
}

// controls is the part of console.Controller the command loop drives.
type controls interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Reset(ctx context.Context) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	SetTurnMode(ctx context.Context, mode console.TurnMode) error
	SendText(ctx context.Context, text string) error
	DeleteItem(ctx context.Context, id string) error
	Snapshot() console.Snapshot
}

type command struct {
	name string
	arg  string
}

func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, false
	}
	name, arg, _ := strings.Cut(line, " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

var errQuit = errors.New("quit")

func execute(ctx context.Context, c controls, cmd command, out io.Writer) error {
	switch cmd.name {
	case "c", "connect":
		return c.Connect(ctx)
	case "x", "reset":
		return c.Reset(ctx)
	case "r", "record":
		return c.StartRecording(ctx)
	case "s", "stop":
		return c.StopRecording(ctx)
	case "t", "text":
		if cmd.arg == "" {
			return errors.New("usage: t <text>")
		}
		return c.SendText(ctx, cmd.arg)
	case "m", "mode":
		mode, err := console.ParseTurnMode(cmd.arg)
		if err != nil {
			return err
		}
		return c.SetTurnMode(ctx, mode)
	case "d", "delete":
		if cmd.arg == "" {
			return errors.New("usage: d <item_id>")
		}
		return c.DeleteItem(ctx, cmd.arg)
	case "l", "log":
		for _, rec := range c.Snapshot().Events {
			fmt.Fprintln(out, rec.String())
		}
		return nil
	case "p", "print":
		snap := c.Snapshot()
		fmt.Fprintf(out, "state=%s mode=%s session=%s\n", snap.State, snap.Mode, snap.SessionID)
		for _, line := range snap.Transcript {
			fmt.Fprintln(out, formatLine(line))
		}
		if snap.LastError != nil {
			fmt.Fprintf(out, "last error: %v\n", snap.LastError)
		}
		return nil
	case "q", "quit", "exit":
		return errQuit
	case "h", "help", "?":
		fmt.Fprintln(out, consoleHelp)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd.name)
}

func commandLoop(ctx context.Context, c controls, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, ok := parseCommand(line)
			if !ok {
				continue
			}
			err := execute(ctx, c, cmd, out)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

func formatLine(l console.TranscriptLine) string {
	mark := ""
	if l.Status != "" && l.Status != rtconsole.StatusCompleted {
		mark = " ..."
	}
	return fmt.Sprintf("[%s] %s: %s%s", l.ID, l.Role, l.Text, mark)
}

// watchTranscript prints transcript lines as they change.
func watchTranscript(ctx context.Context, c controls, out io.Writer, every time.Duration) {
	seen := map[string]string{}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		snap := c.Snapshot()
		if !snap.State.Live() {
			continue
		}
		for _, l := range snap.Transcript {
			s := formatLine(l)
			if seen[l.ID] == s || l.Status != rtconsole.StatusCompleted {
				continue
			}
			seen[l.ID] = s
			fmt.Fprintln(out, s)
		}
	}
}
