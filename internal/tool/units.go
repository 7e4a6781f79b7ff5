package tool

import "deskpilot/internal/domain"

// Built-in unit identifiers.
const (
	UnitSystem = "builtin/system"
	UnitFiles  = "builtin/files"
	UnitWeb    = "builtin/web"
)

// BuiltinConfig configures the compiled-in capability units.
type BuiltinConfig struct {
	Files          FileConfig
	Shell          ShellConfig
	ScreenshotDir  string
	SearchEndpoint string
	Browser        PageVisitor // optional
}

// BuiltinUnits returns the entry point of every compiled-in unit, keyed by id.
func BuiltinUnits(cfg BuiltinConfig) map[string]domain.UnitFactory {
	return map[string]domain.UnitFactory{
		UnitSystem: func() ([]domain.Capability, error) {
			return []domain.Capability{
				NewOpenApplicationTool(),
				NewScreenshotTool(cfg.ScreenshotDir),
				NewSysInfoTool(),
				NewRunCommandTool(cfg.Shell),
			}, nil
		},
		UnitFiles: func() ([]domain.Capability, error) {
			return []domain.Capability{
				NewListFilesTool(cfg.Files),
				NewReadFileTool(cfg.Files),
				NewWriteFileTool(cfg.Files),
				NewCopyFilesTool(cfg.Files),
				NewMoveFilesTool(cfg.Files),
				NewCreateZipTool(cfg.Files),
			}, nil
		},
		UnitWeb: func() ([]domain.Capability, error) {
			return []domain.Capability{
				NewWebSearchTool(cfg.SearchEndpoint),
				NewNavigateTool(cfg.Browser),
			}, nil
		},
	}
}
