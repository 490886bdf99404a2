package script

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"winmaint/internal/catalog"
)

// ErrBuilderIncomplete means a parser tried to complete a Builder before
// setting every required field. It points at a parser defect.
var ErrBuilderIncomplete = errors.New("script builder incomplete")

// ErrInvalid is returned for a script whose fields are present but
// inconsistent.
var ErrInvalid = errors.New("invalid script")

// IncompleteError names the first missing field.
type IncompleteError struct {
	Field string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("script builder incomplete: %s is not set", e.Field)
}

func (e *IncompleteError) Is(target error) bool {
	return target == ErrBuilderIncomplete
}

// Builder collects script fields while a document is being parsed.
type Builder struct {
	names         Localized
	descriptions  Localized
	category      *catalog.Category
	impact        *catalog.Impact
	safety        *catalog.SafetyLevel
	versions      *VersionRange
	executionTime *time.Duration
	actions       []Action
	source        string
	mutable       bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		names:        make(Localized),
		descriptions: make(Localized),
	}
}

func (b *Builder) Name(lang, text string) *Builder {
	b.names[lang] = text
	return b
}

func (b *Builder) Description(lang, text string) *Builder {
	b.descriptions[lang] = text
	return b
}

func (b *Builder) Category(c *catalog.Category) *Builder {
	b.category = c
	return b
}

func (b *Builder) Impact(i *catalog.Impact) *Builder {
	b.impact = i
	return b
}

func (b *Builder) SafetyLevel(s *catalog.SafetyLevel) *Builder {
	b.safety = s
	return b
}

func (b *Builder) Versions(r VersionRange) *Builder {
	b.versions = &r
	return b
}

func (b *Builder) ExecutionTime(d time.Duration) *Builder {
	b.executionTime = &d
	return b
}

// Action appends an action; declaration order is preserved.
func (b *Builder) Action(a Action) *Builder {
	b.actions = append(b.actions, a)
	return b
}

func (b *Builder) Source(src string, mutable bool) *Builder {
	b.source = src
	b.mutable = mutable
	return b
}

// Complete validates the collected fields and returns the script.
func (b *Builder) Complete() (*Script, error) {
	name := b.names[ReferenceLanguage]
	switch {
	case name == "":
		return nil, &IncompleteError{Field: "name (" + ReferenceLanguage + ")"}
	case b.category == nil:
		return nil, &IncompleteError{Field: "category"}
	case b.impact == nil:
		return nil, &IncompleteError{Field: "impact"}
	case b.safety == nil:
		return nil, &IncompleteError{Field: "safety level"}
	case b.versions == nil || b.versions.IsZero():
		return nil, &IncompleteError{Field: "version range"}
	case len(b.actions) == 0:
		return nil, &IncompleteError{Field: "actions"}
	}

	seen := make(map[Capability]bool, len(b.actions))
	actions := make([]Action, 0, len(b.actions))
	for _, a := range b.actions {
		if a.Capability == "" {
			return nil, fmt.Errorf("%w: %s: action without capability", ErrInvalid, name)
		}
		if seen[a.Capability] {
			return nil, fmt.Errorf("%w: %s: duplicate %s action", ErrInvalid, name, a.Capability)
		}
		seen[a.Capability] = true
		if a.Host == nil {
			return nil, fmt.Errorf("%w: %s: %s action has no host", ErrInvalid, name, a.Capability)
		}
		if a.Host.PreferredExtension() == "" {
			return nil, fmt.Errorf("%w: %s: host %s supports no file extension", ErrInvalid, name, a.Host.Name)
		}
		if len(a.SuccessExitCodes) == 0 {
			a.SuccessExitCodes = slices.Clone(DefaultSuccessExitCodes)
		} else {
			a.SuccessExitCodes = slices.Clone(a.SuccessExitCodes)
		}
		actions = append(actions, a)
	}

	s := &Script{
		InvariantName: name,
		Names:         maps.Clone(b.names),
		Descriptions:  maps.Clone(b.descriptions),
		Category:      b.category,
		Impact:        b.impact,
		SafetyLevel:   b.safety,
		Versions:      *b.versions,
		Actions:       actions,
		Source:        b.source,
		Mutable:       b.mutable,
	}
	if b.executionTime != nil {
		d := *b.executionTime
		s.ExecutionTime = &d
	}
	return s, nil
}
