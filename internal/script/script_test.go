package script

import (
	"errors"
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"

	"winmaint/internal/catalog"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	return c
}

func completeBuilder(t *testing.T) *Builder {
	t.Helper()
	c := testCatalog(t)
	cat, _ := c.Category("Cleanup")
	imp, _ := c.Impact("Low")
	safe, _ := c.SafetyLevel("Safe")
	cmd, _ := c.Host("Cmd")
	return NewBuilder().
		Name("en", "Clear temp files").
		Name("de", "Temporäre Dateien löschen").
		Category(cat).
		Impact(imp).
		SafetyLevel(safe).
		Versions(MustParseVersionRange(">=6.1")).
		Action(Action{Capability: Execute, Host: cmd, Code: "del /q %TEMP%\\*"})
}

func TestBuilderComplete(t *testing.T) {
	s, err := completeBuilder(t).Complete()
	require.NoError(t, err)
	require.Equal(t, "Clear temp files", s.InvariantName)
	require.Equal(t, "Temporäre Dateien löschen", s.Name("de"))
	require.Equal(t, "Clear temp files", s.Name("fr"))

	a, ok := s.Action(Execute)
	require.True(t, ok)
	require.Equal(t, []int{0}, a.SuccessExitCodes)
}

func TestBuilderIncomplete(t *testing.T) {
	_, err := NewBuilder().Name("en", "x").Complete()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBuilderIncomplete))

	var ie *IncompleteError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, "category", ie.Field)

	_, err = NewBuilder().Complete()
	require.ErrorIs(t, err, ErrBuilderIncomplete)
}

func TestBuilderRejectsDuplicateCapability(t *testing.T) {
	b := completeBuilder(t)
	cmd, _ := testCatalog(t).Host("Cmd")
	b.Action(Action{Capability: Execute, Host: cmd, Code: "echo"})
	_, err := b.Complete()
	require.ErrorIs(t, err, ErrInvalid)
}

func TestEqualIsIdentityOnly(t *testing.T) {
	a, err := completeBuilder(t).Complete()
	require.NoError(t, err)
	b, err := completeBuilder(t).Description("en", "different").Complete()
	require.NoError(t, err)
	require.True(t, a.Equal(b))

	c, err := completeBuilder(t).Name("en", "Other").Complete()
	require.NoError(t, err)
	require.False(t, a.Equal(c))
}

func TestOrderedActions(t *testing.T) {
	host, _ := testCatalog(t).Host("Cmd")
	s := &Script{Actions: []Action{
		{Capability: "B", Host: host, Order: 2},
		{Capability: "A", Host: host, Order: 1},
		{Capability: "C", Host: host, Order: 0},
		{Capability: "D", Host: host, Order: 1},
	}}
	var got []Capability
	for _, a := range s.OrderedActions() {
		got = append(got, a.Capability)
	}
	require.Equal(t, []Capability{"C", "A", "D", "B"}, got)
	require.Equal(t, Capability("B"), s.Actions[0].Capability, "original order must be untouched")
}

func TestActionAccepts(t *testing.T) {
	a := Action{SuccessExitCodes: []int{0, 3010}}
	require.True(t, a.Accepts(3010))
	require.False(t, a.Accepts(1))
	require.True(t, Action{}.Accepts(0))
}

func TestVersionRange(t *testing.T) {
	r, err := ParseVersionRange(">=10.0, <11")
	require.NoError(t, err)
	require.True(t, r.Contains(semver.MustParse("10.0.19045")))
	require.False(t, r.Contains(semver.MustParse("6.1.7601")))
	require.Equal(t, ">=10.0, <11", r.String())

	_, err = ParseVersionRange("not a range")
	require.Error(t, err)

	var zero VersionRange
	require.True(t, zero.Contains(semver.MustParse("1.0.0")))
}

func TestFileName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Clear Temp Files", "clear_temp_files"},
		{"Flush DNS cache!", "flush_dns_cache"},
		{"", "script"},
		{"  ../..\\evil  ", "evil"},
		{"UPPER", "upper"},
	}
	for _, tt := range tests {
		if got := FileName(tt.input); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFileNameNonASCII(t *testing.T) {
	a := FileName("Очистить кэш")
	b := FileName("Удалить журналы")
	require.NotEqual(t, a, b)
	require.Regexp(t, `^script_[0-9a-f]{8}$`, a)
	require.Equal(t, a, FileName("Очистить кэш"), "stable")

	require.Regexp(t, `^tempor_re_dateien_l_schen_[0-9a-f]{8}$`, FileName("Temporäre Dateien löschen"))

	long := FileName(strings.Repeat("ä", 10) + strings.Repeat("x", 200))
	require.LessOrEqual(t, len(long), maxFileNameLen)
}
