package plugin

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"deskpilot/internal/domain"
	"deskpilot/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellDefinition(name, script string, params ...domain.ParameterSchema) Definition {
	return Definition{
		CapabilityDescriptor: domain.CapabilityDescriptor{
			Name:        name,
			Description: "test " + name,
			Parameters:  params,
		},
		Exec: ExecSpec{Command: "sh", Args: []string{"-c", script}},
	}
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
}

func TestExecCapability_RendersArguments(t *testing.T) {
	skipWithoutShell(t)
	def := shellDefinition("greet", `echo "{{.greeting}} {{.who}}" "$DESKPILOT_UNIT"`,
		domain.ParameterSchema{Name: "greeting", Kind: domain.KindString, Default: "hi"},
		domain.ParameterSchema{Name: "who", Kind: domain.KindString},
	)
	c, err := newExecCapability(def, t.TempDir(), []string{"DESKPILOT_UNIT=tools/greet"})
	require.NoError(t, err)

	res, err := c.Invoke(context.Background(), map[string]any{"who": "Ada"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi Ada tools/greet", res.Message)
	assert.Equal(t, 0, res.Data["exit_code"])

	res, err = c.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hi  tools/greet", res.Message)
}

func TestExecCapability_NonZeroExit(t *testing.T) {
	skipWithoutShell(t)
	c, err := newExecCapability(shellDefinition("fail", "echo oops; exit 3"), t.TempDir(), nil)
	require.NoError(t, err)

	res, err := c.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "oops", res.Error)
	assert.Equal(t, 3, res.Data["exit_code"])
}

func TestExecCapability_Timeout(t *testing.T) {
	skipWithoutShell(t)
	def := shellDefinition("slow", "sleep 5")
	def.Exec.Timeout = 1
	c, err := newExecCapability(def, t.TempDir(), nil)
	require.NoError(t, err)

	result := tool.SafeInvoke(context.Background(), c, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
}

func TestExecCapability_ValidationBeforeExecution(t *testing.T) {
	skipWithoutShell(t)
	def := shellDefinition("count", "echo {{.n}}",
		domain.ParameterSchema{Name: "n", Kind: domain.KindInteger, Required: true, Min: floatPtr(1), Max: floatPtr(10)},
	)
	c, err := newExecCapability(def, t.TempDir(), nil)
	require.NoError(t, err)

	result := tool.SafeInvoke(context.Background(), c, map[string]any{"n": 42})
	assert.False(t, result.Success)
	assert.Equal(t, "Parameter validation failed", result.Message)

	result = tool.SafeInvoke(context.Background(), c, map[string]any{"n": 7})
	assert.True(t, result.Success)
	assert.Equal(t, "7", result.Message)
}

func TestNewExecCapability_Rejects(t *testing.T) {
	_, err := newExecCapability(Definition{CapabilityDescriptor: domain.CapabilityDescriptor{Name: "x", Description: "x"}}, "", nil)
	assert.Error(t, err)

	def := shellDefinition("bad", "echo {{.unclosed")
	_, err = newExecCapability(def, "", nil)
	assert.Error(t, err)

	_, err = newExecCapability(shellDefinition("", "echo"), "", nil)
	assert.Error(t, err)
}

func TestParseDefinitions_KeepsGoodEntries(t *testing.T) {
	defs, errs, err := parseDefinitions([]byte(`capabilities:
  - name: ok
    description: fine
    exec: {command: echo}
  - name: [not, a, string]
    description: broken
`))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "ok", defs[0].Name)
	assert.Equal(t, "echo", defs[0].Exec.Command)
	require.Len(t, errs, 1)

	_, _, err = parseDefinitions([]byte("capabilities: {"))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrLoadFailure))
}

func floatPtr(f float64) *float64 { return &f }
