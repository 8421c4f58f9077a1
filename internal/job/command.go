package job

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ToolDirectoryVar names the template variable holding the descriptor
// directory.
const ToolDirectoryVar = "__tool_directory__"

// Vars holds template values keyed by placeholder name.
type Vars map[string]string

// Set binds name and, if different, name with dashes removed, so that an
// argument declared as "-i" can be referenced as ${i}.
func (v Vars) Set(name, value string) {
	v[name] = value
	if simple := strings.ReplaceAll(name, "-", ""); simple != name && simple != "" {
		v[simple] = value
	}
}

// BuildCommand tokenizes template and expands placeholders in every token.
// Tokenizing before expansion keeps a value containing spaces or quotes as
// a single argument.
func BuildCommand(template string, vars Vars) ([]string, error) {
	tokens, err := Tokenize(template)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("build command: empty command template")
	}
	argv := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		arg, err := Expand(tok, vars)
		if err != nil {
			return nil, err
		}
		argv = append(argv, arg)
	}
	return argv, nil
}

// Expand replaces ${name} placeholders in s. The bare form
// $__tool_directory__ is also accepted. An unknown placeholder is an error.
func Expand(s string, vars Vars) (string, error) {
	s = strings.ReplaceAll(s, "$"+ToolDirectoryVar, "${"+ToolDirectoryVar+"}")

	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("expand %q: unterminated placeholder", s)
		}
		name := s[start+2 : start+end]
		value, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("expand %q: unresolved placeholder ${%s}", s, name)
		}
		b.WriteString(s[:start])
		b.WriteString(value)
		s = s[start+end+1:]
	}
}

// Tokenize splits a command line into words using POSIX shell quoting
// rules. Placeholders and backticks are left untouched, and an unquoted
// shell operator (; & | < >) is rejected since templates run without a
// shell.
func Tokenize(s string) ([]string, error) {
	p := shellwords.NewParser()
	p.ParseEnv = false
	p.ParseBacktick = false
	words, err := p.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("tokenize %q: %w", s, err)
	}
	if p.Position >= 0 {
		return nil, fmt.Errorf("tokenize %q: shell operator at offset %d", s, p.Position)
	}
	return words, nil
}
