package codec

import (
	"errors"
	"fmt"
	"strings"

	"winmaint/internal/script"
)

// FormatLegacy is the pre-revision schema: one flat code block, one host and
// a yes/no recommendation instead of a safety level.
const FormatLegacy = "legacy"

type legacyDocument struct {
	Names        []localizedEntry `yaml:"names"`
	Descriptions []localizedEntry `yaml:"descriptions"`
	Category     string           `yaml:"category"`
	Impact       string           `yaml:"impact"`
	Recommended  string           `yaml:"recommended"`
	Host         string           `yaml:"host"`
	Code         string           `yaml:"code"`
}

// LegacyParser parses pre-revision documents into the current shape.
func LegacyParser() Parser {
	return Parser{Name: FormatLegacy, Parse: parseLegacy}
}

func parseLegacy(data []byte, ctx Context) (*script.Script, error) {
	var doc legacyDocument
	if err := decodeStrict(data, &doc); err != nil {
		return nil, failure(FormatLegacy, data, err)
	}
	if doc.Host == "" {
		return nil, failure(FormatLegacy, data, errors.New("missing host"))
	}

	b := script.NewBuilder()
	if err := applyCommon(b, ctx, doc.Names, doc.Descriptions, doc.Category, doc.Impact); err != nil {
		return nil, failure(FormatLegacy, data, err)
	}

	recommended, err := parseRecommendation(doc.Recommended)
	if err != nil {
		return nil, failure(FormatLegacy, data, err)
	}
	safety, err := ctx.Catalog.LegacySafety(recommended)
	if err != nil {
		return nil, failure(FormatLegacy, data, err)
	}
	host, err := ctx.Catalog.Host(doc.Host)
	if err != nil {
		return nil, failure(FormatLegacy, data, err)
	}

	b.SafetyLevel(safety).
		Versions(ctx.DefaultVersions).
		Action(script.Action{
			Capability: script.Execute,
			Host:       host,
			Code:       doc.Code,
		}).
		Source(ctx.Source, ctx.Mutable)

	s, err := b.Complete()
	if err != nil {
		return nil, failure(FormatLegacy, data, err)
	}
	return s, nil
}

func parseRecommendation(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true":
		return true, nil
	case "no", "false":
		return false, nil
	case "":
		return false, errors.New("missing recommended flag")
	default:
		return false, fmt.Errorf("recommended must be Yes or No, got %q", v)
	}
}
