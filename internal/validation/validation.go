// Package validation checks request bodies field by field, collecting every
// failure so a client sees all of them in one 422 response.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/looper/internal/model"
)

// MaxNameLength bounds synth, chain and take names in runes.
const MaxNameLength = 128

// Song bounds accepted by PATCH /api/song.
const (
	MaxLoopLength = 600.0
	MaxBeats      = 256
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateName checks an entity name: present, valid UTF-8, no null bytes
// and at most MaxNameLength runes. Only the first failure is reported.
func ValidateName(field, value string) *ValidationError {
	for _, check := range []func(string, string) *ValidationError{
		ValidateRequired,
		ValidateUTF8,
		ValidateNoNullBytes,
	} {
		if err := check(field, value); err != nil {
			return err
		}
	}
	return ValidateMaxLength(field, value, MaxNameLength)
}

// ValidateCreateTake checks the body of POST .../takes.
func ValidateCreateTake(name string, kind model.TakeKind) []ValidationError {
	var c Collector
	c.Add(ValidateName("name", name))
	c.Add(ValidateEnum("type", string(kind), []string{string(model.KindAudio), string(model.KindMidi)}))
	return c.Errors()
}

// ValidateSongPatch checks the body of PATCH /api/song. Both fields are
// required because the server recomputes the transport from the pair.
func ValidateSongPatch(p model.SongPatch) []ValidationError {
	var c Collector
	if loopLength, ok := p.LoopLength.Get(); !ok {
		c.Add(&ValidationError{Field: "loop_length", Message: "is required"})
	} else if loopLength <= 0 || loopLength > MaxLoopLength {
		c.Add(&ValidationError{
			Field:   "loop_length",
			Message: fmt.Sprintf("must be greater than 0 and at most %g", MaxLoopLength),
		})
	}
	if beats, ok := p.Beats.Get(); !ok {
		c.Add(&ValidationError{Field: "beats", Message: "is required"})
	} else {
		c.Add(ValidateRange("beats", beats, 1, MaxBeats))
	}
	return c.Errors()
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateRange returns an error if the value is outside [min, max].
func ValidateRange(field string, value, min, max int) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %d and %d", min, max),
		}
	}
	return nil
}
