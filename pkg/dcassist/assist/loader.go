// Package assist – loader.go loads configuration from YAML files with
// credential resolution via environment variables and .env files.
package assist

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable references in config values:
//   - ${VAR_NAME}          - simple variable
//   - ${VAR_NAME:-default} - default value if not set
//   - ${VAR_NAME:?error}   - error message if not set
//   - $VAR_NAME            - bare variable (no default/error support)
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadConfigFromFile reads and parses a YAML configuration file.
// .env files are loaded first and environment references expanded before
// parsing. Returns an error if any ${VAR:?error} pattern has its variable
// unset.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	return cfg, nil
}

// ParseConfig parses YAML bytes into a Config, starting from defaults and
// overlaying values from the YAML.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("mapping config: %w", err)
	}

	// YAML unmarshal zeros absent fields. Merge the fields whose zero value
	// is a valid setting back from the defaults, so a partial section does
	// not silently disable the gateway or pin temperature to zero.
	defaults := DefaultConfig()
	if section, ok := raw["gateway"].(map[string]any); !ok {
		cfg.Gateway = defaults.Gateway
	} else if _, set := section["enabled"]; !set {
		cfg.Gateway.Enabled = defaults.Gateway.Enabled
	}
	if section, ok := raw["scheduler"].(map[string]any); !ok {
		cfg.Scheduler = defaults.Scheduler
	} else if _, set := section["enabled"]; !set {
		cfg.Scheduler.Enabled = defaults.Scheduler.Enabled
	}
	if section, ok := raw["proxy"].(map[string]any); !ok {
		cfg.Proxy = defaults.Proxy
	} else if _, set := section["temperature"]; !set {
		cfg.Proxy.Temperature = defaults.Proxy.Temperature
	}
	if section, ok := raw["sessions"].(map[string]any); !ok {
		cfg.Sessions = defaults.Sessions
	} else if _, set := section["max_sessions"]; !set {
		cfg.Sessions.MaxSessions = defaults.Sessions.MaxSessions
	}

	return cfg, nil
}

// SaveConfigToFile writes a Config as YAML to the given path. Secrets are
// replaced with environment variable references, and a .bak copy of the
// existing file is kept so an interrupted write never loses the old config.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.Proxy.APIKey = sanitizeSecret(cfg.Proxy.APIKey, "DCASSIST_API_KEY")
	sanitized.Telegram.BotToken = sanitizeSecret(cfg.Telegram.BotToken, "DCASSIST_TELEGRAM_TOKEN")
	sanitized.Gateway.AuthToken = sanitizeSecret(cfg.Gateway.AuthToken, "DCASSIST_GATEWAY_TOKEN")

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Make sure the marshaled YAML parses back before touching the file.
	var check map[string]any
	if err := yaml.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("config validation failed (refusing to write corrupt data): %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if existing, err := os.ReadFile(path); err == nil {
			_ = os.WriteFile(path+".bak", existing, 0o600)
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"dcassist.yaml",
		"dcassist.yml",
		"configs/config.yaml",
		"configs/dcassist.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// AuditSecrets checks for hardcoded secrets and logs warnings. Should be
// called on startup to alert the operator.
func AuditSecrets(cfg *Config, logger *slog.Logger) {
	if cfg.Proxy.APIKey != "" && !IsEnvReference(cfg.Proxy.APIKey) && looksLikeRealKey(cfg.Proxy.APIKey) {
		logger.Warn("proxy API key appears to be hardcoded in config. "+
			"Use environment variable DCASSIST_API_KEY instead.",
			"hint", "Set 'api_key: ${DCASSIST_API_KEY}' in config.yaml")
	}
	if cfg.Telegram.BotToken != "" && !IsEnvReference(cfg.Telegram.BotToken) && looksLikeRealKey(cfg.Telegram.BotToken) {
		logger.Warn("Telegram bot token appears to be hardcoded in config. "+
			"Use environment variable DCASSIST_TELEGRAM_TOKEN instead.",
			"hint", "Set 'bot_token: ${DCASSIST_TELEGRAM_TOKEN}' in config.yaml")
	}
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from standard locations. godotenv does NOT
// overwrite existing env vars.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR}, ${VAR:-default}, ${VAR:?error}, and $VAR
// references with their environment values. Unset variables without a
// modifier keep the placeholder; ${VAR:?error} produces an ERROR: marker
// that expandEnvVarsWithValidation turns into an error.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Groups: 1=varName, 2=modifier(-|?), 3=value, 4=bareVar
		sub := envVarPattern.FindStringSubmatch(match)

		var varName, modifier, modValue, bareVar string
		if len(sub) >= 2 {
			varName = sub[1]
		}
		if len(sub) >= 3 {
			modifier = sub[2]
		}
		if len(sub) >= 4 {
			modValue = sub[3]
		}
		if len(sub) >= 5 {
			bareVar = sub[4]
		}

		if bareVar != "" {
			if val, ok := os.LookupEnv(bareVar); ok {
				return val
			}
			return match
		}

		if varName != "" {
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			if modifier == "?" {
				msg := modValue
				if msg == "" {
					msg = "required environment variable not set"
				}
				return "ERROR:" + varName + ":" + msg
			}
			if modifier == "-" {
				return modValue
			}
			return match
		}

		return match
	})
}

// expandEnvVarsWithValidation is like expandEnvVars but returns an error if
// any ${VAR:?error} pattern has its variable unset.
func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	idx := strings.Index(result, "ERROR:")
	if idx == -1 {
		return result, nil
	}

	rest := result[idx+len("ERROR:"):]
	colon := strings.Index(rest, ":")
	if colon == -1 {
		return "", fmt.Errorf("config error: malformed error marker")
	}
	varName := rest[:colon]
	msg := strings.SplitN(rest[colon+1:], "\n", 2)[0]
	if msg == "" {
		msg = "required environment variable not set"
	}
	return "", fmt.Errorf("config error: %s - %s", varName, msg)
}

// resolveSecrets fills in config secrets from environment variables when
// the config value is empty or still a placeholder.
func resolveSecrets(cfg *Config) {
	if cfg.Proxy.APIKey == "" || IsEnvReference(cfg.Proxy.APIKey) {
		if key := os.Getenv("DCASSIST_API_KEY"); key != "" {
			cfg.Proxy.APIKey = key
		}
	}
	if cfg.Telegram.BotToken == "" || IsEnvReference(cfg.Telegram.BotToken) {
		if tok := os.Getenv("DCASSIST_TELEGRAM_TOKEN"); tok != "" {
			cfg.Telegram.BotToken = tok
		} else if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" {
			cfg.Telegram.BotToken = tok
		}
	}
	if cfg.Gateway.AuthToken == "" || IsEnvReference(cfg.Gateway.AuthToken) {
		if tok := os.Getenv("DCASSIST_GATEWAY_TOKEN"); tok != "" {
			cfg.Gateway.AuthToken = tok
		}
	}
}

// resolveRelativePaths converts relative storage paths to absolute paths
// based on the config file's directory, so the service works regardless of
// the working directory it is started from.
func resolveRelativePaths(cfg *Config, configPath string) {
	configDir := filepath.Dir(configPath)

	if cfg.Storage.Dir != "" {
		cfg.Storage.Dir = resolvePathFromConfig(cfg.Storage.Dir, configDir)
	}
	if cfg.Storage.Path != "" {
		cfg.Storage.Path = resolvePathFromConfig(cfg.Storage.Path, configDir)
	}
}

// resolvePathFromConfig makes a path absolute relative to the config
// directory, expanding a leading ~.
func resolvePathFromConfig(path, configDir string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}

	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(configDir, path)
}

// sanitizeSecret replaces a real secret with an env var reference for safe
// storage in config files.
func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	if os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	// The user explicitly put it in config; keep it.
	return value
}

// IsEnvReference checks if a string is an environment variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}

// looksLikeRealKey heuristically checks if a string looks like a real
// credential rather than a placeholder.
func looksLikeRealKey(s string) bool {
	if IsEnvReference(s) {
		return false
	}
	if strings.HasPrefix(s, "sk-") {
		return true
	}
	// Telegram bot tokens look like "123456:ABC-DEF...".
	if strings.Contains(s, ":") && len(s) > 30 {
		return true
	}
	return len(s) > 20
}

// checkFilePermissions warns if the config file is group/world-readable.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
