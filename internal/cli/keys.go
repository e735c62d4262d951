package cli

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/rescale/rescale-files/internal/logging"
	"github.com/rescale/rescale-files/internal/transfer"
)

const keyHelp = "Keys: p pause/resume, c cancel current, r retry failed, d clear finished, q stop"

const keyCtrlC = 0x03

// keyControl holds the terminal state to restore when downloads stop.
type keyControl struct {
	fd    int
	state *term.State
}

// startKeys switches in to raw mode and applies key presses to q until the
// process exits. Returns nil when in is not a terminal.
func startKeys(in *os.File, q *transfer.Queue, out io.Writer, log *logging.Logger, quit func()) *keyControl {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		log.Debug().Err(err).Msg("key controls disabled")
		return nil
	}
	// Raw mode also turns off newline translation on the shared tty.
	if err := keepOutputProcessing(fd); err != nil {
		log.Debug().Err(err).Msg("could not restore output processing")
	}
	fmt.Fprintln(out, keyHelp)
	go readKeys(in, q, out, quit)
	return &keyControl{fd: fd, state: state}
}

// stop restores the terminal. Safe on nil.
func (k *keyControl) stop() {
	if k == nil {
		return
	}
	_ = term.Restore(k.fd, k.state)
}

// readKeys handles one byte at a time until r fails or quit is pressed.
// Ctrl+C arrives as a byte in raw mode, so it stops the run like SIGINT.
func readKeys(r io.Reader, q *transfer.Queue, out io.Writer, quit func()) {
	buf := make([]byte, 1)
	for {
		if _, err := r.Read(buf); err != nil {
			return
		}
		switch buf[0] {
		case keyCtrlC, 'q', 'Q':
			quit()
			return
		}
		if msg := handleKey(q, buf[0]); msg != "" {
			fmt.Fprintln(out, msg)
		}
	}
}

// handleKey applies one key binding to q and describes what it did.
// Keys that change nothing return "".
func handleKey(q *transfer.Queue, key byte) string {
	switch key {
	case 'p', 'P':
		active, ok := q.Active()
		if !ok {
			return ""
		}
		if active.Status == transfer.StatusPaused {
			if q.Resume(active.ID) == nil {
				return "Resumed " + active.Name
			}
			return ""
		}
		if q.Pause(active.ID) == nil {
			return "Paused " + active.Name
		}
	case 'c', 'C':
		active, ok := q.Active()
		if ok && q.Cancel(active.ID) == nil {
			return "Cancelling " + active.Name
		}
	case 'r', 'R':
		n := 0
		for _, s := range q.Tasks() {
			if s.Status == transfer.StatusFailed && q.Retry(s.ID) == nil {
				n++
			}
		}
		if n > 0 {
			return fmt.Sprintf("Retrying %d failed download(s)", n)
		}
	case 'd', 'D':
		if n := q.ClearDone(); n > 0 {
			return fmt.Sprintf("Cleared %d finished download(s)", n)
		}
	}
	return ""
}
