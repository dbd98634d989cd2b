package config

import "strings"

// Viper keys used across the loader and the CLI flag bindings.
const (
	KeyDefaultPattern = "defaults.pattern"
	KeyMaxWorkers     = "defaults.max_workers"
	KeyRefreshRate    = "tui.refresh_rate"
	KeyStateDB        = "paths.state_db"
	KeyRetroDB        = "paths.retro_db"
	KeyRolesFile      = "paths.roles_file"
	KeyLogDir         = "paths.log_dir"
	KeyWorkerCommand  = "workers.command"
)

// envKeyReplacer maps nested viper keys to env var segments:
// defaults.max_workers -> ENSEMBLE_DEFAULTS_MAX_WORKERS.
var envKeyReplacer = strings.NewReplacer(".", "_")
