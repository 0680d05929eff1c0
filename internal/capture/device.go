package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Device abstracts the audio capture driver. Acquire requests access (and
// may block on a user grant), Start begins delivering encoded pieces until
// Stop releases the device. Encoding is the device's concern; the session
// only concatenates what it is given.
type Device interface {
	Acquire() error
	Start(onPiece func([]byte), onError func(error)) error
	Stop() error
	MediaType() string
}

const execDeviceReadSize = 32 * 1024

// ExecDevice drives an external capture command (arecord, ffmpeg, sox)
// that streams encoded audio on stdout.
type ExecDevice struct {
	command   string
	args      []string
	mediaType string

	mu   sync.Mutex
	cmd  *exec.Cmd
	out  io.ReadCloser
	done chan struct{}
}

// NewExecDevice creates a device over the given capture command.
func NewExecDevice(command string, args []string, mediaType string) *ExecDevice {
	return &ExecDevice{command: command, args: args, mediaType: mediaType}
}

// MediaType returns the media type the capture command produces.
func (d *ExecDevice) MediaType() string { return d.mediaType }

// Acquire verifies the capture command is available. A missing binary is
// the closest analogue of a missing device.
func (d *ExecDevice) Acquire() error {
	if strings.TrimSpace(d.command) == "" {
		return ErrDeviceNotFound
	}
	if _, err := exec.LookPath(d.command); err != nil {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, d.command)
	}
	return nil
}

// Start launches the capture command and streams its stdout in bounded
// pieces to onPiece. A command failure is reported once via onError.
func (d *ExecDevice) Start(onPiece func([]byte), onError func(error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil {
		return ErrDeviceBusy
	}

	cmd := exec.Command(d.command, d.args...)
	cmd.Stderr = io.Discard
	out, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, d.command)
		}
		return fmt.Errorf("start capture command: %w", err)
	}

	d.cmd = cmd
	d.out = out
	d.done = make(chan struct{})

	go func(cmd *exec.Cmd, out io.ReadCloser, done chan struct{}) {
		defer close(done)
		buf := make([]byte, execDeviceReadSize)
		for {
			n, err := out.Read(buf)
			if n > 0 {
				onPiece(buf[:n])
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
					onError(fmt.Errorf("capture stream: %w", err))
				}
				break
			}
		}
		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			// A kill from Stop is the expected shutdown path.
			if errors.As(err, &exitErr) && exitErr.ExitCode() == -1 {
				return
			}
			onError(fmt.Errorf("capture command exited: %w", err))
		}
	}(cmd, out, d.done)

	return nil
}

// Stop terminates the capture command and waits for the stream to drain.
func (d *ExecDevice) Stop() error {
	d.mu.Lock()
	cmd := d.cmd
	done := d.done
	d.cmd = nil
	d.out = nil
	d.done = nil
	d.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if done != nil {
		<-done
	}
	return nil
}
