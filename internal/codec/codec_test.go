package codec

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"winmaint/internal/catalog"
	"winmaint/internal/script"
)

func testContext(t *testing.T) Context {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	return Context{
		Catalog:         c,
		DefaultVersions: script.MustParseVersionRange(">=6.1"),
		Source:          "test.yaml",
		Mutable:         true,
	}
}

const currentDoc = `names:
  - lang: en
    text: Clear temp files
  - lang: de
    text: Temporäre Dateien löschen
descriptions:
  - lang: en
    text: Deletes files in the user temp directory.
category: Cleanup
safety: Safe
impact: Low
versions: ">=10.0"
execution_time: 45s
actions:
  Detect:
    host: PowerShell
    code: |
      if (Test-Path $env:TEMP) { exit 0 } else { exit 1 }
    order: 0
  Execute:
    host: Cmd
    code: del /q /s %TEMP%\*
    success_exit_codes: "0 1"
    order: 1
`

const legacyDoc = `names:
  - lang: en
    text: Flush DNS cache
category: Network
impact: Low
recommended: Yes
host: Cmd
code: ipconfig /flushdns
`

const luaHeaderDoc = `-- {"name":"Say hello","description":"Logs a greeting","category":"Maintenance","impact":"Low","recommended":false,"enabled":true}

log("hello")
return 0
`

func TestCurrentParser(t *testing.T) {
	ctx := testContext(t)
	s, err := DefaultChain().Deserialize([]byte(currentDoc), ctx)
	require.NoError(t, err)

	require.Equal(t, "Clear temp files", s.InvariantName)
	require.Equal(t, "Temporäre Dateien löschen", s.Name("de"))
	require.Equal(t, "Cleanup", s.Category.Name)
	require.Equal(t, "Safe", s.SafetyLevel.Name)
	require.Equal(t, ">=10.0", s.Versions.String())
	require.NotNil(t, s.ExecutionTime)
	require.Equal(t, 45*time.Second, *s.ExecutionTime)
	require.Equal(t, "test.yaml", s.Source)
	require.True(t, s.Mutable)

	require.Equal(t, []script.Capability{script.Detect, script.Execute}, s.Capabilities())
	exec, ok := s.Action(script.Execute)
	require.True(t, ok)
	require.Equal(t, "Cmd", exec.Host.Name)
	require.Equal(t, []int{0, 1}, exec.SuccessExitCodes)
	require.Equal(t, 1, exec.Order)

	detect, _ := s.Action(script.Detect)
	require.Equal(t, []int{0}, detect.SuccessExitCodes)
}

func TestCurrentParserDefaultsVersionRange(t *testing.T) {
	doc := strings.Replace(currentDoc, "versions: \">=10.0\"\n", "", 1)
	s, err := CurrentParser().Parse([]byte(doc), testContext(t))
	require.NoError(t, err)
	require.Equal(t, ">=6.1", s.Versions.String())
}

func TestLegacyRecommendationMapsToSafe(t *testing.T) {
	s, err := DefaultChain().Deserialize([]byte(legacyDoc), testContext(t))
	require.NoError(t, err)

	require.Equal(t, "Safe", s.SafetyLevel.Name)
	require.Len(t, s.Actions, 1)
	a, ok := s.Action(script.Execute)
	require.True(t, ok)
	require.Equal(t, "ipconfig /flushdns", a.Code)
	require.Equal(t, "Cmd", a.Host.Name)
	require.Equal(t, []int{0}, a.SuccessExitCodes)
	require.Equal(t, ">=6.1", s.Versions.String())
}

func TestLegacyNotRecommended(t *testing.T) {
	doc := strings.Replace(legacyDoc, "recommended: Yes", "recommended: No", 1)
	s, err := LegacyParser().Parse([]byte(doc), testContext(t))
	require.NoError(t, err)
	require.Equal(t, "Caution", s.SafetyLevel.Name)
}

func TestLuaHeaderParser(t *testing.T) {
	s, err := DefaultChain().Deserialize([]byte(luaHeaderDoc), testContext(t))
	require.NoError(t, err)

	require.Equal(t, "Say hello", s.InvariantName)
	require.Equal(t, "Logs a greeting", s.Descriptions.Get("en"))
	require.Equal(t, "Caution", s.SafetyLevel.Name)
	a, ok := s.Action(script.Execute)
	require.True(t, ok)
	require.Equal(t, "Lua", a.Host.Name)
	require.True(t, strings.HasPrefix(a.Code, `log("hello")`))
}

func TestChainAggregatesEveryFailure(t *testing.T) {
	chain := DefaultChain()
	_, err := chain.Deserialize([]byte("this: [is, not, a script"), testContext(t))
	require.Error(t, err)

	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Attempts, len(chain))
	for i, a := range agg.Attempts {
		require.Equal(t, chain[i].Name, a.Parser)
		var de *DeserializeError
		require.ErrorAs(t, a.Err, &de)
		require.Equal(t, a.Parser, de.Format)
	}
	require.Contains(t, err.Error(), "test.yaml")
}

func TestChainUnknownReference(t *testing.T) {
	doc := strings.Replace(currentDoc, "category: Cleanup", "category: Bogus", 1)
	_, err := DefaultChain().Deserialize([]byte(doc), testContext(t))
	require.ErrorIs(t, err, catalog.ErrUnknownReference)
}

func TestChainEmpty(t *testing.T) {
	_, err := Chain{}.Deserialize([]byte(currentDoc), testContext(t))
	require.True(t, errors.Is(err, ErrNoParsers))
}

func TestCurrentRejectsUnknownActionField(t *testing.T) {
	doc := strings.Replace(currentDoc, "    order: 0\n", "    order: 0\n    timeout: 5\n", 1)
	_, err := CurrentParser().Parse([]byte(doc), testContext(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "timeout")
}

func TestRoundTrip(t *testing.T) {
	ctx := testContext(t)
	for name, doc := range map[string]string{
		"current":    currentDoc,
		"legacy":     legacyDoc,
		"lua-header": luaHeaderDoc,
	} {
		t.Run(name, func(t *testing.T) {
			orig, err := DefaultChain().Deserialize([]byte(doc), ctx)
			require.NoError(t, err)

			data, err := Serialize(orig)
			require.NoError(t, err)

			got, err := CurrentParser().Parse(data, ctx)
			require.NoError(t, err, string(data))

			require.True(t, orig.Equal(got))
			require.Equal(t, orig.Names, got.Names)
			require.Equal(t, orig.Descriptions, got.Descriptions)
			require.Same(t, orig.Category, got.Category)
			require.Same(t, orig.Impact, got.Impact)
			require.Same(t, orig.SafetyLevel, got.SafetyLevel)
			require.Equal(t, orig.Versions.String(), got.Versions.String())
			require.Equal(t, orig.ExecutionTime, got.ExecutionTime)
			require.Equal(t, orig.Actions, got.Actions)
		})
	}
}
