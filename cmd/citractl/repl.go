package main

import (
	"bufio"
	"citra-rpc/client"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	historyFileName = ".citractl_history"
	historySize     = 500
	prompt          = "citra> "
)

// lineSource yields one input line per call and io.EOF when input ends.
type lineSource interface {
	GetLine(prompt string) (string, error)
	Close()
}

// lineEditor uses readline on a terminal and a plain scanner on pipes.
type lineEditor struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
}

func newLineEditor() *lineEditor {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return &lineEditor{scanner: bufio.NewScanner(os.Stdin)}
	}

	home, _ := os.UserHomeDir()
	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:            filepath.Join(home, historyFileName),
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline unavailable (%v), using basic input\n", err)
		return &lineEditor{scanner: bufio.NewScanner(os.Stdin)}
	}
	return &lineEditor{rl: rl}
}

func (le *lineEditor) GetLine(p string) (string, error) {
	if le.rl == nil {
		fmt.Print(p)
		if !le.scanner.Scan() {
			if err := le.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return le.scanner.Text(), nil
	}

	le.rl.SetPrompt(p)
	line, err := le.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) {
			return "", io.EOF
		}
		return "", err
	}
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

func (le *lineEditor) Close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}

// runREPL executes commands until EOF, "quit" or ctx is done. Command errors are
// printed and do not end the session.
func runREPL(ctx context.Context, c *client.Client, in lineSource, out io.Writer) error {
	defer in.Close()

	for ctx.Err() == nil {
		line, err := in.GetLine(prompt)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		words := strings.Fields(line)
		if len(words) == 0 || strings.HasPrefix(words[0], "#") {
			continue
		}
		switch words[0] {
		case "quit", "exit":
			return nil
		case "help", "?":
			fmt.Fprintln(out, errUsage.Error()[len("usage: "):])
			continue
		}

		if err := execute(ctx, c, words, out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return nil
}
