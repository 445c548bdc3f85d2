package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/punchchat/messaging"
)

// RunPlain is the line-oriented alternative to Run: every line read from
// in is sent, every received message is written to out. It returns nil at
// end of input or when ctx is cancelled.
func RunPlain(ctx context.Context, name string, in io.Reader, out io.Writer, uiToNet chan<- string, netToUI <-chan string) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	clock := messaging.DefaultTimeProvider{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("failed to read input: %w", err)
					}
				default:
				}
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			select {
			case uiToNet <- line:
			case <-ctx.Done():
				return nil
			}
			fmt.Fprintln(out, messaging.FormatLocal(name, line, clock.Now()))
		case msg, ok := <-netToUI:
			if !ok {
				logrus.WithField("function", "RunPlain").Info("Network closed")
				netToUI = nil
				continue
			}
			fmt.Fprintln(out, strings.ReplaceAll(msg, "\r\n", "\n"))
		}
	}
}
