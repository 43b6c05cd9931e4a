package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

// Shared reader so consecutive prompts in one command never lose
// buffered input to each other.
var stdin = bufio.NewReader(os.Stdin)

// fail prints an error to stderr and exits
func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// promptLine shows a prompt and reads one trimmed line of input
func promptLine(prompt string) string {
	fmt.Print(prompt)
	line, err := stdin.ReadString('\n')
	if err != nil {
		fail("failed to read input: %v", err)
	}
	return strings.TrimSpace(line)
}

// promptSecret reads a password without echoing it
func promptSecret(prompt string) string {
	fmt.Print(prompt)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fail("failed to read password: %v", err)
	}
	return string(secret)
}

// promptNewPassword asks for a password twice and enforces the minimum
// length before anything touches the database
func promptNewPassword(label string) string {
	password := promptSecret(label + " (at least 8 characters): ")
	if len(password) < 8 {
		fail("password must be at least 8 characters")
	}
	if promptSecret("Repeat password: ") != password {
		fail("passwords do not match")
	}
	return password
}

// confirm asks a yes/no question and reports whether the user agreed
func confirm(question string) bool {
	answer := strings.ToLower(promptLine(question + " (yes/no): "))
	return answer == "yes" || answer == "y"
}
