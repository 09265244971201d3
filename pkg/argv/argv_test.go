package argv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	s := Static{"echo", "hello"}
	got, err := s.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hello"}, got)

	got[0] = "changed"
	again, _ := s.Build()
	assert.Equal(t, "echo", again[0], "Build must return a copy")

	_, err = Static{}.Build()
	assert.Error(t, err)
}

func TestFromLine(t *testing.T) {
	got, err := FromLine("  ls   -la /tmp ").Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"ls", "-la", "/tmp"}, got)

	_, err = FromLine("   ").Build()
	assert.Error(t, err)
}

func TestTemplate(t *testing.T) {
	tmpl := &Template{
		Args: []string{"{{ .tool }}", "--name={{ .name | upper }}", "{{ if .verbose }}-v{{ end }}", "{{ default \"out\" .dir }}"},
		Vars: map[string]interface{}{"tool": "convert", "name": "flow", "verbose": false, "dir": ""},
	}
	got, err := tmpl.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"convert", "--name=FLOW", "out"}, got)

	tmpl.KeepEmpty = true
	got, err = tmpl.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"convert", "--name=FLOW", "", "out"}, got)
}

func TestTemplate_MissingVariable(t *testing.T) {
	tmpl := &Template{Args: []string{"echo", "{{ .missing }}"}, Vars: map[string]interface{}{}}
	_, err := tmpl.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "argument 1")
}

func TestTemplate_EmptyProgram(t *testing.T) {
	tmpl := &Template{Args: []string{"{{ .prog }}"}, Vars: map[string]interface{}{"prog": ""}}
	_, err := tmpl.Build()
	assert.Error(t, err)
}

func TestParseVars(t *testing.T) {
	vars, err := ParseVars([]string{"a=1", "b=x=y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": "1", "b": "x=y"}, vars)

	_, err = ParseVars([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParseVars([]string{"=v"})
	assert.Error(t, err)
}
