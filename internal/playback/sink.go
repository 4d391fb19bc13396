package playback

import (
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// Sink is where scheduled PCM ends up. Write hands off bytes for real-time
// playback; Flush discards anything not yet played (interruption path).
type Sink interface {
	Write(pcm []byte) error
	Flush()
	Close() error
}

// execSink pipes raw little-endian 16-bit PCM into an external player such
// as `ffplay -f s16le -ar 24000 -ch_layout mono -i -`. Flush restarts the
// process, dropping whatever it had buffered.
type execSink struct {
	cmd   []string
	mu    sync.Mutex
	proc  *exec.Cmd
	stdin io.WriteCloser
}

func NewExecSink(command string) (Sink, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("player command empty")
	}
	return &execSink{cmd: args}, nil
}

func (s *execSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		if err := s.startLocked(); err != nil {
			return err
		}
	}
	_, err := s.stdin.Write(pcm)
	return err
}

func (s *execSink) startLocked() error {
	cmd := exec.Command(s.cmd[0], s.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("player stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return fmt.Errorf("start player: %w", err)
	}
	go cmd.Wait()
	s.proc = cmd
	s.stdin = stdin
	return nil
}

func (s *execSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *execSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *execSink) stopLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
	if s.proc != nil && s.proc.Process != nil {
		_ = s.proc.Process.Kill()
	}
	s.proc = nil
}
