// Package codec reads and writes persisted script documents. Old documents
// stay loadable because every historical schema revision keeps its own
// parser and the chain tries them newest first.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"winmaint/internal/catalog"
	"winmaint/internal/script"
)

// ErrNoParsers is returned by an empty chain.
var ErrNoParsers = errors.New("deserialization chain has no parsers")

// Context carries what parsers need beyond the raw bytes.
type Context struct {
	Catalog *catalog.Catalog
	// DefaultVersions is substituted when a document has no version range.
	DefaultVersions script.VersionRange
	Source          string
	Mutable         bool
}

// ParseFunc turns one document into a script or reports why it cannot.
type ParseFunc func(data []byte, ctx Context) (*script.Script, error)

// Parser is one schema revision.
type Parser struct {
	Name  string
	Parse ParseFunc
}

// Chain is an ordered list of parsers, newest schema first.
type Chain []Parser

// DefaultChain knows every schema revision the tool has ever written.
func DefaultChain() Chain {
	return Chain{CurrentParser(), LegacyParser(), LuaHeaderParser()}
}

// Names lists the parser names in order.
func (c Chain) Names() []string {
	out := make([]string, len(c))
	for i, p := range c {
		out[i] = p.Name
	}
	return out
}

// Deserialize returns the result of the first parser that succeeds. When all
// of them fail the error is an *AggregateError with one attempt per parser.
func (c Chain) Deserialize(data []byte, ctx Context) (*script.Script, error) {
	if len(c) == 0 {
		return nil, ErrNoParsers
	}
	attempts := make([]Attempt, 0, len(c))
	for _, p := range c {
		s, err := p.Parse(data, ctx)
		if err == nil {
			return s, nil
		}
		attempts = append(attempts, Attempt{Parser: p.Name, Err: err})
	}
	return nil, &AggregateError{Source: ctx.Source, Raw: string(data), Attempts: attempts}
}

// DeserializeError reports malformed or incomplete data for one schema.
type DeserializeError struct {
	Format string
	Raw    string
	Err    error
}

func (e *DeserializeError) Error() string {
	return fmt.Sprintf("deserialize %s document: %v", e.Format, e.Err)
}

func (e *DeserializeError) Unwrap() error { return e.Err }

// Attempt records why one parser rejected the input.
type Attempt struct {
	Parser string
	Err    error
}

// AggregateError is returned when the chain is exhausted.
type AggregateError struct {
	Source   string
	Raw      string
	Attempts []Attempt
}

func (e *AggregateError) Error() string {
	var b strings.Builder
	b.WriteString("no known format matched")
	if e.Source != "" {
		b.WriteString(" for ")
		b.WriteString(e.Source)
	}
	for _, a := range e.Attempts {
		b.WriteString("; ")
		b.WriteString(a.Parser)
		b.WriteString(": ")
		b.WriteString(a.Err.Error())
	}
	return b.String()
}

func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

func failure(format string, data []byte, err error) error {
	return &DeserializeError{Format: format, Raw: string(data), Err: err}
}
