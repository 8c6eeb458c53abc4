package sim

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrConfiguration matches every *ConfigurationError
	ErrConfiguration = errors.New("invalid configuration")
	// ErrDataAlignment matches every *DataAlignmentError
	ErrDataAlignment = errors.New("data alignment")
)

// ConfigurationError is fatal and raised before any simulation starts
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// DataAlignmentError reports a price/signal series that cannot be simulated
type DataAlignmentError struct {
	Symbol string
	Date   time.Time
	Reason string
}

func (e *DataAlignmentError) Error() string {
	if e.Date.IsZero() {
		return fmt.Sprintf("data alignment error for %s: %s", e.Symbol, e.Reason)
	}
	return fmt.Sprintf("data alignment error for %s at %s: %s", e.Symbol, e.Date.Format("2006-01-02"), e.Reason)
}

func (e *DataAlignmentError) Is(target error) bool { return target == ErrDataAlignment }
