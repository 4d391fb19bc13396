package capture

import (
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/linguaflow/lingua-core/internal/audio/pcm"
)

// execSource runs an external recorder command that streams raw signed 16-bit
// little-endian mono PCM to stdout, for example:
//
//	arecord -q -f S16_LE -r 16000 -c 1 -t raw
type execSource struct {
	cmd []string

	mu     sync.Mutex
	proc   *exec.Cmd
	stdout io.ReadCloser
	done   chan struct{}
}

func NewExecSource(command string) (Source, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command empty")
	}
	return &execSource{cmd: args}, nil
}

func (e *execSource) Start(onSamples func([]float32)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proc != nil {
		return fmt.Errorf("capture command already started")
	}

	cmd := exec.Command(e.cmd[0], e.cmd[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture command stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start capture command: %w", err)
	}
	e.proc = cmd
	e.stdout = stdout
	e.done = make(chan struct{})

	go e.read(stdout, onSamples, e.done)
	return nil
}

func (e *execSource) read(r io.Reader, onSamples func([]float32), done chan struct{}) {
	defer close(done)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			onSamples(pcm.DecodeSamples(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (e *execSource) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proc == nil {
		return nil
	}
	e.stdout.Close()
	e.proc.Process.Kill()
	e.proc.Wait()
	<-e.done
	e.proc = nil
	e.stdout = nil
	e.done = nil
	return nil
}
