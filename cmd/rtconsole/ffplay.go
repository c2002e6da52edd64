package main

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// ffplay plays raw PCM16 mono written to it through an ffplay child process.
type ffplay struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	once  sync.Once
}

func startFFPlay(path string, sampleRate int) (*ffplay, error) {
	cmd := exec.Command(path,
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-fflags", "nobuffer",
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-i", "-",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	return &ffplay{cmd: cmd, stdin: stdin}, nil
}

func (f *ffplay) Write(p []byte) (int, error) { return f.stdin.Write(p) }

func (f *ffplay) Close() error {
	f.once.Do(func() {
		f.stdin.Close()
		f.cmd.Process.Kill()
		f.cmd.Wait()
	})
	return nil
}
