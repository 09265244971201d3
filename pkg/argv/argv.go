// Package argv builds the argument vectors handed to the process executor.
package argv

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/pkg/errors"
)

// Builder produces the argument vector of a process. The first element is
// the program, the rest its arguments.
type Builder interface {
	Build() ([]string, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func() ([]string, error)

func (f BuilderFunc) Build() ([]string, error) { return f() }

// Static is a fixed argument vector.
type Static []string

func (s Static) Build() ([]string, error) {
	if len(s) == 0 {
		return nil, errors.New("argument vector is empty")
	}
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}

// FromLine splits a command line on whitespace. It does not interpret
// quotes; use Static or Template for arguments containing spaces.
func FromLine(line string) Static {
	return Static(strings.Fields(line))
}

// Template renders every argument as a text/template with the sprig
// function set, using Vars as data. Arguments that render to an empty
// string are dropped unless KeepEmpty is set.
type Template struct {
	Args      []string
	Vars      map[string]interface{}
	KeepEmpty bool
}

func (t *Template) Build() ([]string, error) {
	if len(t.Args) == 0 {
		return nil, errors.New("argument vector is empty")
	}
	out := make([]string, 0, len(t.Args))
	for i, arg := range t.Args {
		rendered, err := renderArg(fmt.Sprintf("arg%d", i), arg, t.Vars)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to expand argument %d (%q)", i, arg)
		}
		if rendered == "" && !t.KeepEmpty {
			continue
		}
		out = append(out, rendered)
	}
	if len(out) == 0 || out[0] == "" {
		return nil, errors.New("argument vector has no program after expansion")
	}
	return out, nil
}

func renderArg(name, text string, vars map[string]interface{}) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := template.New(name).Option("missingkey=error").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ParseVars turns "key=value" pairs into a variable map.
func ParseVars(pairs []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, errors.Errorf("invalid variable %q, expected key=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}
