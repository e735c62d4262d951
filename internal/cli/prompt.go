package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/rescale/rescale-files/internal/config"
	rhttp "github.com/rescale/rescale-files/internal/http"
)

// prompter reads answers for interactive setup. in is shared so buffered
// input is not lost between questions.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// line asks a question and returns the trimmed answer, or def when empty.
func (p *prompter) line(question, def string) string {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}
	input, _ := p.in.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// required re-asks until a non-empty answer is given. Returns an error on EOF.
func (p *prompter) required(question string) (string, error) {
	for {
		fmt.Fprintf(p.out, "%s (required): ", question)
		input, err := p.in.ReadString('\n')
		input = strings.TrimSpace(input)
		if input != "" {
			return input, nil
		}
		if err != nil {
			return "", fmt.Errorf("no answer for %q: %w", question, err)
		}
		fmt.Fprintln(p.out, "  Error: a value is required")
	}
}

// number asks for a positive integer, falling back to def on bad input.
func (p *prompter) number(question string, def int) int {
	answer := p.line(question, strconv.Itoa(def))
	if v, err := strconv.Atoi(answer); err == nil && v > 0 {
		return v
	}
	fmt.Fprintf(p.out, "  Invalid number, using %d\n", def)
	return def
}

// yes asks a y/N question.
func (p *prompter) yes(question string) bool {
	answer := strings.ToLower(p.line(question+" [y/N]", ""))
	return answer == "y" || answer == "yes"
}

// readSecret reads a line from the terminal without echo. When stdin is not a
// terminal it reads a plain line instead.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		input, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && input == "" {
			return "", err
		}
		return strings.TrimSpace(input), nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// promptProxyPassword asks for the proxy password when an authenticating
// proxy is configured without one. The password is never saved, so this runs
// once per command on an interactive terminal.
func promptProxyPassword(cfg *config.Config) error {
	if !rhttp.NeedsProxyPassword(cfg) {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	pw, err := readSecret(fmt.Sprintf("Proxy password for %s@%s: ", cfg.ProxyUser, cfg.ProxyHost))
	if err != nil {
		return fmt.Errorf("failed to read proxy password: %w", err)
	}
	cfg.ProxyPassword = pw
	return nil
}
