package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ProgressIndicator renders a progress bar with ETA for sweeps
type ProgressIndicator struct {
	mu        sync.Mutex
	out       io.Writer
	name      string
	total     int
	current   int
	failed    int
	startTime time.Time
	now       func() time.Time
	config    ProgressConfig
}

// ProgressConfig configures progress indicator behavior
type ProgressConfig struct {
	ShowProgress bool
	ShowETA      bool
	// Interactive redraws one line; otherwise every update is a new line
	Interactive bool
}

// DefaultProgressConfig returns default progress indicator configuration
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{ShowProgress: true, ShowETA: true, Interactive: true}
}

// QuietProgressConfig returns minimal progress indicator configuration
func QuietProgressConfig() ProgressConfig {
	return ProgressConfig{}
}

// NewProgressIndicator creates a new progress indicator writing to out
func NewProgressIndicator(out io.Writer, name string, total int, config ProgressConfig) *ProgressIndicator {
	return &ProgressIndicator{
		out:       out,
		name:      name,
		total:     total,
		startTime: time.Now(),
		now:       time.Now,
		config:    config,
	}
}

// Observe records that done items have finished, the latest with ok
func (pi *ProgressIndicator) Observe(done int, ok bool, message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.current = done
	if !ok {
		pi.failed++
	}
	if pi.config.ShowProgress || pi.config.ShowETA {
		pi.print(message)
	}
}

// Finish completes the progress indicator
func (pi *ProgressIndicator) Finish() {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	duration := pi.now().Sub(pi.startTime).Round(time.Millisecond)
	prefix := ""
	if pi.config.Interactive {
		prefix = "\r\033[K"
	}
	fmt.Fprintf(pi.out, "%s%s completed (%d items, %d failed, %v)\n", prefix, pi.name, pi.total, pi.failed, duration)

	log.Info().
		Str("name", pi.name).
		Int("total", pi.total).
		Int("failed", pi.failed).
		Dur("duration", duration).
		Msg("Progress completed")
}

// Line returns the rendering for the current state without writing it
func (pi *ProgressIndicator) Line(message string) string {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.render(message)
}

func (pi *ProgressIndicator) print(message string) {
	line := pi.render(message)
	if pi.config.Interactive {
		fmt.Fprint(pi.out, "\r\033[K"+line)
		return
	}
	fmt.Fprintln(pi.out, line)
}

func (pi *ProgressIndicator) render(message string) string {
	var output strings.Builder
	output.WriteString(pi.name)

	if pi.config.ShowProgress && pi.total > 0 {
		percentage := float64(pi.current) / float64(pi.total) * 100
		barWidth := 20
		filled := barWidth * pi.current / pi.total

		output.WriteString(" [")
		output.WriteString(strings.Repeat("█", filled))
		output.WriteString(strings.Repeat("░", barWidth-filled))
		fmt.Fprintf(&output, "] %d/%d (%.1f%%)", pi.current, pi.total, percentage)
	} else if pi.total > 0 {
		fmt.Fprintf(&output, " (%d/%d)", pi.current, pi.total)
	}

	if pi.failed > 0 {
		fmt.Fprintf(&output, " %d failed", pi.failed)
	}

	if pi.config.ShowETA && pi.total > 0 && pi.current > 0 && pi.current < pi.total {
		elapsed := pi.now().Sub(pi.startTime)
		perItem := elapsed / time.Duration(pi.current)
		eta := perItem * time.Duration(pi.total-pi.current)
		if eta > time.Hour {
			fmt.Fprintf(&output, " ETA: %v", eta.Round(time.Minute))
		} else {
			fmt.Fprintf(&output, " ETA: %v", eta.Round(time.Second))
		}
	}

	if message != "" {
		output.WriteString(" - ")
		output.WriteString(message)
	}
	return output.String()
}
