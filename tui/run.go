package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/punchchat/messaging"
)

// Run shows the chat view until the user quits or ctx is cancelled.
// Both return nil.
func Run(ctx context.Context, name string, uiToNet chan<- string, netToUI <-chan string) error {
	model := NewModel(ctx, name, uiToNet, netToUI, messaging.DefaultTimeProvider{})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"name":     name,
	}).Debug("Starting terminal UI")

	if _, err := program.Run(); err != nil {
		if ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return fmt.Errorf("failed to run terminal UI: %w", err)
	}
	return nil
}
