package failureclassifier

import (
	"os"
	"strings"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"

	"gopkg.in/yaml.v3"
)

// BenignFilter recognizes failures that are known false positives
type BenignFilter interface {
	IsKnownBenignFailure(failure Failure) bool
}

// BenignPattern matches when the failure type contains Type, the message
// contains Message and the stack contains at least one of StackFrames.
// Empty fields are not checked.
type BenignPattern struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Message     string   `yaml:"message"`
	StackFrames []string `yaml:"stack_frames"`
}

func (p BenignPattern) Validate() error {
	if p.Type == "" && p.Message == "" && len(p.StackFrames) == 0 {
		return errors.NewValidationError("benign pattern matches every failure", nil).
			WithContext("name", p.Name)
	}
	return nil
}

func (p BenignPattern) Matches(failure Failure) bool {
	if !strings.Contains(failure.Type, p.Type) {
		return false
	}
	if !strings.Contains(failure.Message, p.Message) {
		return false
	}
	if len(p.StackFrames) == 0 {
		return true
	}
	for _, frame := range p.StackFrames {
		if strings.Contains(failure.Stack, frame) {
			return true
		}
	}
	return false
}

// DefaultBenignPatterns covers the ink renderer's cross-thread stroke access
// race, which is reported as a failure but leaves the canvas intact
func DefaultBenignPatterns() []BenignPattern {
	return []BenignPattern{
		{
			Name:    "ink-cross-thread-access",
			Type:    "CrossThreadAccessError",
			Message: "different thread owns it",
			StackFrames: []string{
				"ink.(*StrokeRenderer)",
				"ink.(*DynamicRenderer)",
				"ink.(*StrokeCollection)",
			},
		},
	}
}

type PatternFilter struct {
	patterns []BenignPattern
}

func NewPatternFilter(patterns []BenignPattern) (*PatternFilter, error) {
	for _, pattern := range patterns {
		if err := pattern.Validate(); err != nil {
			return nil, err
		}
	}
	copied := make([]BenignPattern, len(patterns))
	copy(copied, patterns)
	return &PatternFilter{patterns: copied}, nil
}

func NewDefaultPatternFilter() *PatternFilter {
	filter, _ := NewPatternFilter(DefaultBenignPatterns())
	return filter
}

type patternFile struct {
	BenignPatterns []BenignPattern `yaml:"benign_patterns"`
}

// LoadPatternFilterFromFile reads a YAML document with a benign_patterns list
func LoadPatternFilterFromFile(path string) (*PatternFilter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("failed to read benign pattern file", err).WithContext("path", path)
	}

	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.NewValidationError("failed to parse benign pattern file", err).WithContext("path", path)
	}
	return NewPatternFilter(file.BenignPatterns)
}

func (f *PatternFilter) Patterns() []BenignPattern {
	copied := make([]BenignPattern, len(f.patterns))
	copy(copied, f.patterns)
	return copied
}

func (f *PatternFilter) IsKnownBenignFailure(failure Failure) bool {
	for _, pattern := range f.patterns {
		if pattern.Matches(failure) {
			return true
		}
	}
	return false
}

// FilterFunc adapts a predicate to BenignFilter
type FilterFunc func(failure Failure) bool

func (f FilterFunc) IsKnownBenignFailure(failure Failure) bool { return f(failure) }
