package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// readSecret is a test seam for term.ReadPassword.
var readSecret = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}

// promptSecret reads a secret without echo when stdin is a terminal, and
// falls back to a plain line read otherwise (pipes, CI).
func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := readSecret()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
