// Package rules implements parsing and matching of mindns-go's pattern-based
// rule files: ordered deny/append rules matched against a query name.
package rules

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sammwyy/mindns-go/internal/dnserr"
)

// Action is what a matched rule tells the request handler to do.
type Action uint8

const (
	// Deny synthesizes an NXDOMAIN reply.
	Deny Action = iota
	// Append synthesizes a NOERROR reply with a single A record.
	Append
)

// Mode is how a rule's key is compared against a query name.
type Mode uint8

const (
	// Equal matches the name exactly.
	Equal Mode = iota
	// StartsWith matches names with key as a prefix (trailing '*' in source).
	StartsWith
	// EndsWith matches names with key as a suffix (leading '*' in source).
	EndsWith
)

// Rule is one parsed line of a rules file.
type Rule struct {
	Action Action
	Mode   Mode
	Negate bool
	Key    string
	Value  *string
}

// Matches reports whether name satisfies this rule's predicate, applying
// negation last.
func (r Rule) Matches(name string) bool {
	var matched bool
	switch r.Mode {
	case Equal:
		matched = name == r.Key
	case EndsWith:
		matched = strings.HasSuffix(name, r.Key)
	case StartsWith:
		matched = strings.HasPrefix(name, r.Key)
	}
	if r.Negate {
		matched = !matched
	}
	return matched
}

func isIgnorableLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

// ParseLine parses a single rule line: `action pattern [= value]`.
//
// Any tokens after the pattern must be a literal "=" followed by a value: a
// line whose third token is not "=", or that has "=" but no fourth token, is
// rejected rather than having its fourth token taken as a value regardless of
// the separator.
func ParseLine(raw string) (Rule, error) {
	tokens := strings.Fields(raw)
	if len(tokens) < 2 {
		return Rule{}, fmt.Errorf("%w: %q: expected at least action and pattern", dnserr.ErrBadRule, raw)
	}

	var action Action
	switch tokens[0] {
	case "deny":
		action = Deny
	case "apnd":
		action = Append
	default:
		return Rule{}, fmt.Errorf("%w: %q: unknown action %q", dnserr.ErrBadRule, raw, tokens[0])
	}

	rawKey := tokens[1]
	negate := strings.HasPrefix(rawKey, "!")
	rawKey = strings.TrimPrefix(rawKey, "!")

	var mode Mode
	switch {
	case strings.HasPrefix(rawKey, "*"):
		mode = EndsWith
	case strings.HasSuffix(rawKey, "*"):
		mode = StartsWith
	default:
		mode = Equal
	}
	key := strings.ReplaceAll(rawKey, "*", "")

	var value *string
	if len(tokens) > 2 {
		if len(tokens) < 4 || tokens[2] != "=" {
			return Rule{}, fmt.Errorf("%w: %q: expected \"=\" before value", dnserr.ErrBadRule, raw)
		}
		v := tokens[3]
		value = &v
	}

	return Rule{
		Action: action,
		Mode:   mode,
		Negate: negate,
		Key:    key,
		Value:  value,
	}, nil
}

// ParseFile reads and parses every non-comment, non-blank line of path.
func ParseFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rules: open %s: %w", path, err)
	}
	defer f.Close()

	var out []Rule
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if isIgnorableLine(line) {
			continue
		}
		rule, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("rules: %s:%d: %w", path, lineNo, err)
		}
		out = append(out, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("rules: scan %s: %w", path, err)
	}
	return out, nil
}

// ParseDir recurses into dirPath and loads every file ending in ".rules".
// os.ReadDir returns entries sorted by file name, so rules are loaded in
// lexical order within each directory, with each subdirectory loaded at its
// own place in that order.
func ParseDir(dirPath string) ([]Rule, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("rules: read dir %s: %w", dirPath, err)
	}

	var out []Rule
	for _, entry := range entries {
		path := filepath.Join(dirPath, entry.Name())
		if entry.IsDir() {
			sub, err := ParseDir(path)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		if strings.HasSuffix(entry.Name(), ".rules") {
			fileRules, err := ParseFile(path)
			if err != nil {
				return nil, err
			}
			out = append(out, fileRules...)
		}
	}
	return out, nil
}

// Match returns the first rule (in source order) whose predicate is true for
// name, or false if none matches.
func Match(rules []Rule, name string) (Rule, bool) {
	for _, r := range rules {
		if r.Matches(name) {
			return r, true
		}
	}
	return Rule{}, false
}
