package cli

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"
)

// readSecureInput reads user input with hidden display and context cancellation support.
// term.ReadPassword cannot be interrupted, hence the goroutine.
func readSecureInput(ctx context.Context, prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("cannot prompt for a password: stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		inputBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		resultCh <- result{value: string(inputBytes), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		if res.value == "" {
			return "", fmt.Errorf("password cannot be empty")
		}
		return res.value, nil
	}
}
