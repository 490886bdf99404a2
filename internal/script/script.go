// Package script defines the validated, immutable in-memory representation
// of a maintenance script and the builder parsers use to assemble one.
package script

import (
	"slices"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"winmaint/internal/catalog"
)

// ReferenceLanguage is the language whose localized name becomes the
// script's invariant name.
const ReferenceLanguage = "en"

// Capability names one thing a script can do.
type Capability string

const (
	Execute Capability = "Execute"
	Detect  Capability = "Detect"
	Undo    Capability = "Undo"
)

// DefaultSuccessExitCodes is used when a document does not list any.
var DefaultSuccessExitCodes = []int{0}

// Action binds one capability of a script to a host and a code blob.
type Action struct {
	Capability       Capability
	Host             *catalog.Host
	Code             string
	SuccessExitCodes []int
	Order            int
}

// Accepts reports whether code counts as a successful exit.
func (a Action) Accepts(code int) bool {
	codes := a.SuccessExitCodes
	if len(codes) == 0 {
		codes = DefaultSuccessExitCodes
	}
	return slices.Contains(codes, code)
}

// Localized maps a language tag to text.
type Localized map[string]string

// Get returns the text for lang, falling back to the reference language.
func (l Localized) Get(lang string) string {
	if s, ok := l[lang]; ok {
		return s
	}
	return l[ReferenceLanguage]
}

// Languages returns the language tags in sorted order.
func (l Localized) Languages() []string {
	langs := make([]string, 0, len(l))
	for k := range l {
		langs = append(langs, k)
	}
	sort.Strings(langs)
	return langs
}

// Script is a validated script definition. Two scripts are the same script
// iff their invariant names match.
type Script struct {
	InvariantName string
	Names         Localized
	Descriptions  Localized
	Category      *catalog.Category
	Impact        *catalog.Impact
	SafetyLevel   *catalog.SafetyLevel
	Versions      VersionRange
	ExecutionTime *time.Duration

	// Actions are kept in declaration order.
	Actions []Action

	Source  string
	Mutable bool
}

// Equal compares identity only.
func (s *Script) Equal(other *Script) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.InvariantName == other.InvariantName
}

// Name returns the localized name for lang.
func (s *Script) Name(lang string) string {
	return s.Names.Get(lang)
}

// Action returns the action registered for a capability.
func (s *Script) Action(c Capability) (Action, bool) {
	for _, a := range s.Actions {
		if a.Capability == c {
			return a, true
		}
	}
	return Action{}, false
}

// Capabilities lists the capabilities in declaration order.
func (s *Script) Capabilities() []Capability {
	out := make([]Capability, 0, len(s.Actions))
	for _, a := range s.Actions {
		out = append(out, a.Capability)
	}
	return out
}

// OrderedActions returns the actions sorted by Order; ties keep declaration
// order.
func (s *Script) OrderedActions() []Action {
	out := slices.Clone(s.Actions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// AppliesTo reports whether the script targets the given OS version.
func (s *Script) AppliesTo(v *semver.Version) bool {
	return s.Versions.Contains(v)
}
