package tool

import (
	"context"
	"runtime"
	"testing"
)

func TestSysInfoTool_Describe(t *testing.T) {
	desc := NewSysInfoTool().Describe()
	if desc.Name != "get_system_information" {
		t.Errorf("Name: got %q", desc.Name)
	}
	if len(desc.Parameters) != 0 {
		t.Errorf("expected no parameters, got %d", len(desc.Parameters))
	}
}

func TestSysInfoTool_Invoke_ReturnsInfo(t *testing.T) {
	res, err := NewSysInfoTool().Invoke(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Data["os"] != runtime.GOOS {
		t.Errorf("os: got %v", res.Data["os"])
	}
	if res.Data["cpu_cores"] != runtime.NumCPU() {
		t.Errorf("cpu_cores: got %v", res.Data["cpu_cores"])
	}
	if res.Message == "" {
		t.Error("message should not be empty")
	}
}

func TestRound1(t *testing.T) {
	if got := round1(1.26); got != 1.3 {
		t.Errorf("round1(1.26) = %v", got)
	}
}
