package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"winmaint/internal/script"
)

// FormatCurrent is the schema written by Serialize.
const FormatCurrent = "current"

type localizedEntry struct {
	Lang string `yaml:"lang"`
	Text string `yaml:"text"`
}

type currentDocument struct {
	Names         []localizedEntry `yaml:"names"`
	Descriptions  []localizedEntry `yaml:"descriptions,omitempty"`
	Category      string           `yaml:"category"`
	Safety        string           `yaml:"safety"`
	Impact        string           `yaml:"impact"`
	Versions      string           `yaml:"versions,omitempty"`
	ExecutionTime string           `yaml:"execution_time,omitempty"`
	Actions       yaml.Node        `yaml:"actions"`
}

type actionDocument struct {
	Host             string `yaml:"host"`
	Code             string `yaml:"code"`
	SuccessExitCodes string `yaml:"success_exit_codes,omitempty"`
	Order            int    `yaml:"order,omitempty"`
}

var actionKeys = []string{"host", "code", "success_exit_codes", "order"}

// CurrentParser parses the current schema: localized names, catalog
// references, a version range and an explicit actions block.
func CurrentParser() Parser {
	return Parser{Name: FormatCurrent, Parse: parseCurrent}
}

func parseCurrent(data []byte, ctx Context) (*script.Script, error) {
	var doc currentDocument
	if err := decodeStrict(data, &doc); err != nil {
		return nil, failure(FormatCurrent, data, err)
	}
	if doc.Actions.Kind == 0 {
		return nil, failure(FormatCurrent, data, errors.New("missing actions block"))
	}
	if doc.Actions.Kind != yaml.MappingNode {
		return nil, failure(FormatCurrent, data, fmt.Errorf("line %d: actions must be a mapping", doc.Actions.Line))
	}

	b := script.NewBuilder()
	if err := applyCommon(b, ctx, doc.Names, doc.Descriptions, doc.Category, doc.Impact); err != nil {
		return nil, failure(FormatCurrent, data, err)
	}

	safety, err := ctx.Catalog.SafetyLevel(doc.Safety)
	if err != nil {
		return nil, failure(FormatCurrent, data, err)
	}
	b.SafetyLevel(safety)

	versions := ctx.DefaultVersions
	if doc.Versions != "" {
		versions, err = script.ParseVersionRange(doc.Versions)
		if err != nil {
			return nil, failure(FormatCurrent, data, err)
		}
	}
	b.Versions(versions)

	if doc.ExecutionTime != "" {
		d, err := time.ParseDuration(doc.ExecutionTime)
		if err != nil {
			return nil, failure(FormatCurrent, data, fmt.Errorf("execution_time: %w", err))
		}
		b.ExecutionTime(d)
	}

	content := doc.Actions.Content
	for i := 0; i+1 < len(content); i += 2 {
		key, val := content[i], content[i+1]
		a, err := parseAction(ctx, script.Capability(key.Value), val)
		if err != nil {
			return nil, failure(FormatCurrent, data, err)
		}
		b.Action(a)
	}

	b.Source(ctx.Source, ctx.Mutable)
	s, err := b.Complete()
	if err != nil {
		return nil, failure(FormatCurrent, data, err)
	}
	return s, nil
}

func parseAction(ctx Context, capability script.Capability, node *yaml.Node) (script.Action, error) {
	if node.Kind != yaml.MappingNode {
		return script.Action{}, fmt.Errorf("line %d: action %s must be a mapping", node.Line, capability)
	}
	if err := checkKeys(node, actionKeys); err != nil {
		return script.Action{}, fmt.Errorf("action %s: %w", capability, err)
	}
	var ad actionDocument
	if err := node.Decode(&ad); err != nil {
		return script.Action{}, fmt.Errorf("action %s: %w", capability, err)
	}
	host, err := ctx.Catalog.Host(ad.Host)
	if err != nil {
		return script.Action{}, fmt.Errorf("action %s: %w", capability, err)
	}
	codes, err := parseExitCodes(ad.SuccessExitCodes)
	if err != nil {
		return script.Action{}, fmt.Errorf("action %s: %w", capability, err)
	}
	return script.Action{
		Capability:       capability,
		Host:             host,
		Code:             ad.Code,
		SuccessExitCodes: codes,
		Order:            ad.Order,
	}, nil
}

// Serialize writes s in the current schema.
func Serialize(s *script.Script) ([]byte, error) {
	doc := currentDocument{
		Names:        localizedEntries(s.Names),
		Descriptions: localizedEntries(s.Descriptions),
		Category:     s.Category.Name,
		Safety:       s.SafetyLevel.Name,
		Impact:       s.Impact.Name,
		Versions:     s.Versions.String(),
	}
	if s.ExecutionTime != nil {
		doc.ExecutionTime = s.ExecutionTime.String()
	}

	doc.Actions = yaml.Node{Kind: yaml.MappingNode}
	for _, a := range s.Actions {
		ad := actionDocument{
			Host:  a.Host.Name,
			Code:  a.Code,
			Order: a.Order,
		}
		if !isDefaultExitCodes(a.SuccessExitCodes) {
			ad.SuccessExitCodes = formatExitCodes(a.SuccessExitCodes)
		}
		val := &yaml.Node{}
		if err := val.Encode(ad); err != nil {
			return nil, fmt.Errorf("encode %s action: %w", a.Capability, err)
		}
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(a.Capability)}
		doc.Actions.Content = append(doc.Actions.Content, key, val)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode script %s: %w", s.InvariantName, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode script %s: %w", s.InvariantName, err)
	}
	return buf.Bytes(), nil
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty document")
		}
		return err
	}
	return nil
}

func checkKeys(node *yaml.Node, allowed []string) error {
	for i := 0; i < len(node.Content); i += 2 {
		k := node.Content[i]
		ok := false
		for _, a := range allowed {
			if k.Value == a {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("line %d: field %s not found", k.Line, k.Value)
		}
	}
	return nil
}

func applyCommon(b *script.Builder, ctx Context, names, descriptions []localizedEntry, category, impact string) error {
	if len(names) == 0 {
		return errors.New("at least one name is required")
	}
	for _, n := range names {
		if n.Lang == "" {
			return fmt.Errorf("name %q has no language", n.Text)
		}
		b.Name(n.Lang, n.Text)
	}
	for _, d := range descriptions {
		if d.Lang == "" {
			return fmt.Errorf("description %q has no language", d.Text)
		}
		b.Description(d.Lang, d.Text)
	}
	if ctx.Catalog == nil {
		return errors.New("no catalog to resolve references against")
	}
	cat, err := ctx.Catalog.Category(category)
	if err != nil {
		return err
	}
	imp, err := ctx.Catalog.Impact(impact)
	if err != nil {
		return err
	}
	b.Category(cat).Impact(imp)
	return nil
}

func localizedEntries(l script.Localized) []localizedEntry {
	out := make([]localizedEntry, 0, len(l))
	for _, lang := range l.Languages() {
		out = append(out, localizedEntry{Lang: lang, Text: l[lang]})
	}
	return out
}

func parseExitCodes(s string) ([]int, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return []int{0}, nil
	}
	codes := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("success_exit_codes: %q is not an integer", f)
		}
		codes = append(codes, n)
	}
	return codes, nil
}

func formatExitCodes(codes []int) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, " ")
}

func isDefaultExitCodes(codes []int) bool {
	return len(codes) == 0 || (len(codes) == 1 && codes[0] == 0)
}
