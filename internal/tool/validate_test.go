package tool

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"deskpilot/internal/domain"
)

func rangedDescriptor() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "resize",
		Description: "resize an image",
		Parameters: []domain.ParameterSchema{
			{Name: "width", Kind: domain.KindInteger, Required: true, Min: floatPtr(1), Max: floatPtr(4096)},
			{Name: "format", Kind: domain.KindString, Choices: []any{"png", "jpg"}},
			{Name: "label", Kind: domain.KindString, Pattern: `[a-z]+`},
		},
	}
}

func ruleOf(t *testing.T, err error) string {
	t.Helper()
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !errors.Is(err, domain.ErrParameterInvalid) {
		t.Fatal("ValidationError should wrap ErrParameterInvalid")
	}
	return ve.Rule
}

func TestValidate_Valid(t *testing.T) {
	err := Validate(rangedDescriptor(), map[string]any{"width": 800, "format": "png", "label": "hero"})
	if err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidate_RequiredMissing(t *testing.T) {
	err := Validate(rangedDescriptor(), map[string]any{})
	if rule := ruleOf(t, err); rule != domain.RuleRequired {
		t.Fatalf("rule: got %q", rule)
	}
	err = Validate(rangedDescriptor(), map[string]any{"width": nil})
	if rule := ruleOf(t, err); rule != domain.RuleRequired {
		t.Fatalf("nil value should count as absent, got %q", rule)
	}
}

func TestValidate_TypeMismatch(t *testing.T) {
	err := Validate(rangedDescriptor(), map[string]any{"width": "wide"})
	if rule := ruleOf(t, err); rule != domain.RuleType {
		t.Fatalf("rule: got %q", rule)
	}
	err = Validate(rangedDescriptor(), map[string]any{"width": 1.5})
	if rule := ruleOf(t, err); rule != domain.RuleType {
		t.Fatalf("fractional integer: got %q", rule)
	}
}

func TestValidate_IntegralFloatAccepted(t *testing.T) {
	if err := Validate(rangedDescriptor(), map[string]any{"width": float64(640)}); err != nil {
		t.Fatalf("JSON numbers should validate as integers: %v", err)
	}
}

func TestValidate_Range(t *testing.T) {
	for _, w := range []int{0, 5000} {
		err := Validate(rangedDescriptor(), map[string]any{"width": w})
		if rule := ruleOf(t, err); rule != domain.RuleRange {
			t.Fatalf("width=%d: rule %q", w, rule)
		}
	}
	for _, w := range []int{1, 4096} {
		if err := Validate(rangedDescriptor(), map[string]any{"width": w}); err != nil {
			t.Fatalf("width=%d should pass: %v", w, err)
		}
	}
}

func TestValidate_Choices(t *testing.T) {
	err := Validate(rangedDescriptor(), map[string]any{"width": 10, "format": "gif"})
	if rule := ruleOf(t, err); rule != domain.RuleChoices {
		t.Fatalf("rule: got %q", rule)
	}
}

func TestValidate_Pattern(t *testing.T) {
	err := Validate(rangedDescriptor(), map[string]any{"width": 10, "label": "123"})
	if rule := ruleOf(t, err); rule != domain.RulePattern {
		t.Fatalf("rule: got %q", rule)
	}
}

func TestValidate_UnexpectedKeysBatch(t *testing.T) {
	err := Validate(rangedDescriptor(), map[string]any{"width": 10, "zeta": 1, "alpha": 2})
	if rule := ruleOf(t, err); rule != domain.RuleUnexpected {
		t.Fatalf("rule: got %q", rule)
	}
	if !strings.Contains(err.Error(), "alpha, zeta") {
		t.Fatalf("expected both keys sorted in message, got %q", err.Error())
	}
}

func TestValidate_FailFastOrder(t *testing.T) {
	// Missing required width is reported before the unexpected key.
	err := Validate(rangedDescriptor(), map[string]any{"bogus": true})
	if rule := ruleOf(t, err); rule != domain.RuleRequired {
		t.Fatalf("rule: got %q", rule)
	}
}

func TestValidateParameter_FileAndDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	fileParam := domain.ParameterSchema{Name: "f", Kind: domain.KindFile}
	dirParam := domain.ParameterSchema{Name: "d", Kind: domain.KindDirectory}

	if err := ValidateParameter(fileParam, file, true); err != nil {
		t.Fatalf("existing file: %v", err)
	}
	if rule := ruleOf(t, ValidateParameter(fileParam, dir, true)); rule != domain.RuleExists {
		t.Fatalf("directory as file: rule %q", rule)
	}
	if rule := ruleOf(t, ValidateParameter(fileParam, filepath.Join(dir, "missing"), true)); rule != domain.RuleExists {
		t.Fatalf("missing file: rule %q", rule)
	}
	if err := ValidateParameter(dirParam, dir, true); err != nil {
		t.Fatalf("existing dir: %v", err)
	}
	if rule := ruleOf(t, ValidateParameter(dirParam, file, true)); rule != domain.RuleExists {
		t.Fatalf("file as directory: rule %q", rule)
	}
}

func TestValidateParameter_URLAndEmail(t *testing.T) {
	u := domain.ParameterSchema{Name: "u", Kind: domain.KindURL}
	e := domain.ParameterSchema{Name: "e", Kind: domain.KindEmail}

	if err := ValidateParameter(u, "https://example.com/x", true); err != nil {
		t.Fatalf("valid url: %v", err)
	}
	if rule := ruleOf(t, ValidateParameter(u, "example.com", true)); rule != domain.RuleFormat {
		t.Fatalf("url without scheme: rule %q", rule)
	}
	if err := ValidateParameter(e, "me@example.org", true); err != nil {
		t.Fatalf("valid email: %v", err)
	}
	if rule := ruleOf(t, ValidateParameter(e, "not-an-email", true)); rule != domain.RuleFormat {
		t.Fatalf("bad email: rule %q", rule)
	}
}

func TestValidateParameter_ListAndMap(t *testing.T) {
	l := domain.ParameterSchema{Name: "l", Kind: domain.KindList}
	m := domain.ParameterSchema{Name: "m", Kind: domain.KindMap}
	if err := ValidateParameter(l, []any{"a"}, true); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := ValidateParameter(m, map[string]any{"a": 1}, true); err != nil {
		t.Fatalf("map: %v", err)
	}
	if rule := ruleOf(t, ValidateParameter(l, "a", true)); rule != domain.RuleType {
		t.Fatalf("string as list: rule %q", rule)
	}
}

func TestCheckDescriptor(t *testing.T) {
	if err := CheckDescriptor(domain.CapabilityDescriptor{Name: "x", Description: "y"}); err != nil {
		t.Fatalf("valid descriptor: %v", err)
	}
	if err := CheckDescriptor(domain.CapabilityDescriptor{Description: "y"}); err == nil {
		t.Fatal("expected error for missing name")
	}
	if err := CheckDescriptor(domain.CapabilityDescriptor{Name: "x"}); err == nil {
		t.Fatal("expected error for missing description")
	}
	dup := domain.CapabilityDescriptor{
		Name:        "x",
		Description: "y",
		Parameters: []domain.ParameterSchema{
			{Name: "p", Kind: domain.KindString},
			{Name: "p", Kind: domain.KindString},
		},
	}
	if err := CheckDescriptor(dup); err == nil {
		t.Fatal("expected error for duplicate parameter")
	}
	unknown := domain.CapabilityDescriptor{
		Name:        "x",
		Description: "y",
		Parameters:  []domain.ParameterSchema{{Name: "p", Kind: "blob"}},
	}
	if err := CheckDescriptor(unknown); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if err := CheckDescriptor(domain.CapabilityDescriptor{Name: "x", Description: "y", Category: "FILE_OPERATIONS"}); err != nil {
		t.Fatalf("upper-case category name should be accepted: %v", err)
	}
	if err := CheckDescriptor(domain.CapabilityDescriptor{Name: "x", Description: "y", Category: "frobnicate"}); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestWithDefaults(t *testing.T) {
	desc := domain.CapabilityDescriptor{
		Parameters: []domain.ParameterSchema{
			{Name: "path", Kind: domain.KindPath, Default: "."},
			{Name: "n", Kind: domain.KindInteger},
		},
	}
	in := map[string]any{"n": 3}
	out := WithDefaults(desc, in)
	if out["path"] != "." || out["n"] != 3 {
		t.Fatalf("unexpected params %v", out)
	}
	if _, ok := in["path"]; ok {
		t.Fatal("input map must not be modified")
	}
}
