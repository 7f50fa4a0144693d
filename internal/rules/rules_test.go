package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sammwyy/mindns-go/internal/dnserr"
)

func TestParseLine_Deny(t *testing.T) {
	r, err := ParseLine("deny ads.example")
	assert.NoError(t, err)
	assert.Equal(t, Deny, r.Action)
	assert.Equal(t, Equal, r.Mode)
	assert.False(t, r.Negate)
	assert.Equal(t, "ads.example", r.Key)
	assert.Nil(t, r.Value)
}

func TestParseLine_AppendWithValue(t *testing.T) {
	r, err := ParseLine("apnd host.lan = 10.0.0.5")
	assert.NoError(t, err)
	assert.Equal(t, Append, r.Action)
	assert.Equal(t, "host.lan", r.Key)
	assert.Equal(t, "10.0.0.5", *r.Value)
}

func TestParseLine_WildcardModes(t *testing.T) {
	r, err := ParseLine("deny *.ads.example")
	assert.NoError(t, err)
	assert.Equal(t, EndsWith, r.Mode)
	assert.Equal(t, ".ads.example", r.Key)

	r, err = ParseLine("deny ads.example.*")
	assert.NoError(t, err)
	assert.Equal(t, StartsWith, r.Mode)
	assert.Equal(t, "ads.example.", r.Key)
}

func TestParseLine_LeadingWildcardWinsTieBreak(t *testing.T) {
	r, err := ParseLine("deny *ads.example*")
	assert.NoError(t, err)
	assert.Equal(t, EndsWith, r.Mode)
}

func TestParseLine_Negation(t *testing.T) {
	r, err := ParseLine("deny !*.corp.local")
	assert.NoError(t, err)
	assert.True(t, r.Negate)
	assert.Equal(t, EndsWith, r.Mode)
	assert.Equal(t, ".corp.local", r.Key)
}

func TestParseLine_UnknownAction(t *testing.T) {
	_, err := ParseLine("allow example.com")
	assert.ErrorIs(t, err, dnserr.ErrBadRule)
}

func TestParseLine_RejectsMissingEqualsSeparator(t *testing.T) {
	_, err := ParseLine("apnd host.lan 10.0.0.5")
	assert.ErrorIs(t, err, dnserr.ErrBadRule)
}

func TestParseLine_TooFewTokens(t *testing.T) {
	_, err := ParseLine("deny")
	assert.ErrorIs(t, err, dnserr.ErrBadRule)
}

func TestMatch_FirstMatchWins(t *testing.T) {
	rules := []Rule{
		{Action: Deny, Mode: Equal, Key: "a.test"},
		{Action: Append, Mode: Equal, Key: "a.test"},
	}
	r, ok := Match(rules, "a.test")
	assert.True(t, ok)
	assert.Equal(t, Deny, r.Action)
}

func TestMatch_NoneMatches(t *testing.T) {
	rules := []Rule{{Action: Deny, Mode: Equal, Key: "a.test"}}
	_, ok := Match(rules, "b.test")
	assert.False(t, ok)
}

func TestParseFile_SkipsCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site.rules")
	content := "# comment\n\n deny a.test\napnd b.test = 1.2.3.4\n"
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rules, err := ParseFile(path)
	assert.NoError(t, err)
	assert.Len(t, rules, 2)
	assert.Equal(t, "a.test", rules[0].Key)
	assert.Equal(t, "b.test", rules[1].Key)
}

func TestParseDir_RecursesAndFiltersByExtension(t *testing.T) {
	root := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(root, "top.rules"), []byte("deny top.test\n"), 0o644))
	assert.NoError(t, os.WriteFile(filepath.Join(root, "ignore.txt"), []byte("deny ignored.test\n"), 0o644))

	sub := filepath.Join(root, "nested")
	assert.NoError(t, os.Mkdir(sub, 0o755))
	assert.NoError(t, os.WriteFile(filepath.Join(sub, "sub.rules"), []byte("deny sub.test\n"), 0o644))

	rules, err := ParseDir(root)
	assert.NoError(t, err)
	assert.Len(t, rules, 2)
}
