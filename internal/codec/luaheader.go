package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"winmaint/internal/script"
)

// FormatLuaHeader is the oldest revision: a Lua file whose first line is a
// JSON metadata comment.
//
//	-- {"name":"Flush DNS","category":"Network","impact":"Low","recommended":true}
//	log("flushing")
const FormatLuaHeader = "lua-header"

const luaHeaderPrefix = "-- {"

type luaHeader struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	Impact      string `json:"impact"`
	Recommended bool   `json:"recommended"`
	Enabled     *bool  `json:"enabled,omitempty"` // ignored; scheduling flag of the old format
}

// LuaHeaderParser parses Lua files carrying a JSON header comment. The code
// becomes a single Execute action on the catalog's Lua engine host.
func LuaHeaderParser() Parser {
	return Parser{Name: FormatLuaHeader, Parse: parseLuaHeader}
}

func parseLuaHeader(data []byte, ctx Context) (*script.Script, error) {
	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], luaHeaderPrefix) {
		return nil, failure(FormatLuaHeader, data, errors.New("missing metadata header line"))
	}

	var meta luaHeader
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimPrefix(lines[0], "-- "))))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&meta); err != nil {
		return nil, failure(FormatLuaHeader, data, err)
	}

	// Lua code is everything after the header, without leading blank lines.
	code := lines[1:]
	for len(code) > 0 && strings.TrimSpace(code[0]) == "" {
		code = code[1:]
	}

	b := script.NewBuilder()
	var descriptions []localizedEntry
	if meta.Description != "" {
		descriptions = []localizedEntry{{Lang: script.ReferenceLanguage, Text: meta.Description}}
	}
	names := []localizedEntry{{Lang: script.ReferenceLanguage, Text: meta.Name}}
	if meta.Name == "" {
		names = nil
	}
	if err := applyCommon(b, ctx, names, descriptions, meta.Category, meta.Impact); err != nil {
		return nil, failure(FormatLuaHeader, data, err)
	}

	safety, err := ctx.Catalog.LegacySafety(meta.Recommended)
	if err != nil {
		return nil, failure(FormatLuaHeader, data, err)
	}
	host, err := ctx.Catalog.EngineHost("lua")
	if err != nil {
		return nil, failure(FormatLuaHeader, data, err)
	}

	b.SafetyLevel(safety).
		Versions(ctx.DefaultVersions).
		Action(script.Action{
			Capability: script.Execute,
			Host:       host,
			Code:       strings.Join(code, "\n"),
		}).
		Source(ctx.Source, ctx.Mutable)

	s, err := b.Complete()
	if err != nil {
		return nil, failure(FormatLuaHeader, data, err)
	}
	return s, nil
}
