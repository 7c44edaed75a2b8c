package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Lllllllleong/archivemergeflow/internal/models"
)

const barLength = 40

// ConsoleStore draws a single-line progress bar, ending the line once the run is
// terminal.
type ConsoleStore struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleStore writes to w, typically os.Stderr.
func NewConsoleStore(w io.Writer) *ConsoleStore {
	return &ConsoleStore{w: w}
}

// Save implements Store.
func (c *ConsoleStore) Save(_ context.Context, rec models.StatusRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	filled := barLength * rec.Percent / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barLength-filled)
	_, err := fmt.Fprintf(c.w, "\r%-48.48s [%s] [%s] %3d%%", rec.StatusText, rec.CurrentStep, bar, rec.Percent)
	if err == nil && (rec.Complete || rec.CurrentStep == models.StepError) {
		_, err = fmt.Fprintln(c.w)
	}
	return err
}
