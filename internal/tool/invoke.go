package tool

import (
	"context"
	"fmt"
	"time"

	"deskpilot/internal/domain"
)

// SafeInvoke validates params, runs c and always returns a result. Validation
// failures, returned errors and panics become failed results carrying the
// elapsed time.
func SafeInvoke(ctx context.Context, c domain.Capability, params map[string]any) (result *domain.ToolResult) {
	start := time.Now()
	desc := c.Describe()

	defer func() {
		if rec := recover(); rec != nil {
			result = domain.Failed("Tool execution failed", fmt.Sprintf("panic: %v", rec))
		}
		result.ExecutionTime = time.Since(start).Seconds()
	}()

	if err := Validate(desc, params); err != nil {
		return domain.Failed("Parameter validation failed", err.Error())
	}

	res, err := c.Invoke(ctx, WithDefaults(desc, params))
	if err != nil {
		return domain.Failed("Tool execution failed", fmt.Errorf("%w: %v", domain.ErrExecution, err).Error())
	}
	if res == nil {
		return domain.OK(fmt.Sprintf("%s completed", desc.Name), nil)
	}

	out := *res
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	return &out
}
