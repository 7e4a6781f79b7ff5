package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"deskpilot/internal/domain"
	"deskpilot/internal/tool"

	"gopkg.in/yaml.v3"
)

const (
	defaultExecTimeout = 30 * time.Second
	maxExecOutput      = 64 * 1024
)

// ExecSpec is the subprocess a declarative capability runs. Args and Env
// values are text/template strings evaluated against the parameters.
type ExecSpec struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`
	Timeout int               `yaml:"timeout,omitempty"` // seconds
}

// Definition is one capability entry of a declarative unit file.
type Definition struct {
	domain.CapabilityDescriptor `yaml:",inline"`

	Exec ExecSpec `yaml:"exec"`
}

type definitionFile struct {
	Capabilities []yaml.Node `yaml:"capabilities"`
}

// parseDefinitions decodes a unit file. Each entry decodes independently so a
// bad entry is reported without losing the others.
func parseDefinitions(data []byte) ([]Definition, []error, error) {
	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse capabilities: %w", err)
	}

	var defs []Definition
	var errs []error
	for i := range f.Capabilities {
		var d Definition
		if err := f.Capabilities[i].Decode(&d); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		defs = append(defs, d)
	}
	return defs, errs, nil
}

// ExecCapability runs an external program for each invocation.
type ExecCapability struct {
	desc    domain.CapabilityDescriptor
	spec    ExecSpec
	baseDir string
	args    []*template.Template
	env     map[string]*template.Template
	unitEnv []string
}

// newExecCapability compiles the argument templates of d. Relative commands
// and working directories resolve against baseDir.
func newExecCapability(d Definition, baseDir string, unitEnv []string) (*ExecCapability, error) {
	if err := tool.CheckDescriptor(d.CapabilityDescriptor); err != nil {
		return nil, err
	}
	if d.Category != "" {
		d.Category, _ = domain.ParseCategory(string(d.Category))
	}
	if strings.TrimSpace(d.Exec.Command) == "" {
		return nil, fmt.Errorf("tool %s: exec.command is required", d.Name)
	}

	c := &ExecCapability{
		desc:    d.CapabilityDescriptor,
		spec:    d.Exec,
		baseDir: baseDir,
		env:     make(map[string]*template.Template, len(d.Exec.Env)),
		unitEnv: unitEnv,
	}
	for i, a := range d.Exec.Args {
		t, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(a)
		if err != nil {
			return nil, fmt.Errorf("tool %s: arg %d: %w", d.Name, i, err)
		}
		c.args = append(c.args, t)
	}
	for k, v := range d.Exec.Env {
		t, err := template.New(k).Option("missingkey=error").Parse(v)
		if err != nil {
			return nil, fmt.Errorf("tool %s: env %s: %w", d.Name, k, err)
		}
		c.env[k] = t
	}
	return c, nil
}

func (c *ExecCapability) Describe() domain.CapabilityDescriptor {
	return c.desc
}

func (c *ExecCapability) Invoke(ctx context.Context, params map[string]any) (*domain.ToolResult, error) {
	data := c.templateData(params)

	args := make([]string, 0, len(c.args))
	for _, t := range c.args {
		s, err := render(t, data)
		if err != nil {
			return nil, err
		}
		args = append(args, s)
	}

	timeout := defaultExecTimeout
	if c.spec.Timeout > 0 {
		timeout = time.Duration(c.spec.Timeout) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.resolve(c.spec.Command), args...)
	cmd.Dir = c.baseDir
	if c.spec.Dir != "" {
		cmd.Dir = c.resolve(c.spec.Dir)
	}
	cmd.Env = append(os.Environ(), c.unitEnv...)
	for k, t := range c.env {
		v, err := render(t, data)
		if err != nil {
			return nil, err
		}
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()

	output := out.String()
	if len(output) > maxExecOutput {
		output = output[:maxExecOutput] + "\n... (output truncated)"
	}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out after %s", c.desc.Name, timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res := domain.Failed(fmt.Sprintf("%s exited with status %d", c.desc.Name, exitErr.ExitCode()), strings.TrimSpace(output))
			res.Data = map[string]any{"output": output, "exit_code": exitErr.ExitCode()}
			return res, nil
		}
		return nil, fmt.Errorf("start %s: %w", c.spec.Command, err)
	}

	return domain.OK(strings.TrimSpace(output), map[string]any{
		"output":    output,
		"exit_code": 0,
	}), nil
}

// templateData exposes every declared parameter, absent ones as "".
func (c *ExecCapability) templateData(params map[string]any) map[string]any {
	data := tool.WithDefaults(c.desc, params)
	for _, p := range c.desc.Parameters {
		if v, ok := data[p.Name]; !ok || v == nil {
			data[p.Name] = ""
		}
	}
	return data
}

func (c *ExecCapability) resolve(path string) string {
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return filepath.Join(c.baseDir, path)
	}
	return tool.ExpandHome(path)
}

func render(t *template.Template, data map[string]any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return b.String(), nil
}
