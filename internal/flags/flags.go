package flags

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const (
	// Env vars
	EnvVarConfigFile      = "MCPHERD_CONFIG_FILE"
	EnvVarSettingsFile    = "MCPHERD_SETTINGS_FILE"
	EnvVarLogPath         = "MCPHERD_LOG_PATH"
	EnvVarLogLevel        = "MCPHERD_LOG_LEVEL"
	EnvVarWorkspaceFolder = "MCPHERD_WORKSPACE_FOLDER"

	// Defaults
	DefaultConfigFile   = "mcpherd.json"
	DefaultSettingsFile = ".mcpherd.toml"
	DefaultLogPath      = ""
	DefaultLogLevel     = "info"

	// Flag names
	FlagNameConfigFile      = "config-file"
	FlagNameSettingsFile    = "settings-file"
	FlagNameLogPath         = "log-path"
	FlagNameLogLevel        = "log-level"
	FlagNameWorkspaceFolder = "workspace-folder"
)

var (
	ConfigFile      string
	SettingsFile    string
	LogPath         string
	LogLevel        string
	WorkspaceFolder string
)

func InitFlags(fs *pflag.FlagSet) {
	initConfigFile(fs)
	initLogger(fs)
	initWorkspaceFolder(fs)
}

func initConfigFile(fs *pflag.FlagSet) {
	if ConfigFile == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarConfigFile)); env != "" {
			ConfigFile = env
		} else {
			ConfigFile = DefaultConfigFile
		}
	}
	fs.StringVar(&ConfigFile, FlagNameConfigFile, ConfigFile, "path to the server config file")

	if SettingsFile == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarSettingsFile)); env != "" {
			SettingsFile = env
		} else {
			SettingsFile = DefaultSettingsFile
		}
	}
	fs.StringVar(&SettingsFile, FlagNameSettingsFile, SettingsFile, "path to the optional daemon settings file")
}

func initLogger(fs *pflag.FlagSet) {
	if LogPath == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarLogPath)); env != "" {
			LogPath = env
		} else {
			LogPath = DefaultLogPath
		}
	}
	fs.StringVar(&LogPath, FlagNameLogPath, LogPath, "path to generated log file")

	if LogLevel == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarLogLevel)); env != "" {
			LogLevel = env
		} else {
			LogLevel = DefaultLogLevel
		}
	}
	fs.StringVar(&LogLevel, FlagNameLogLevel, LogLevel, "log level: trace, debug, info, warn, error")
}

func initWorkspaceFolder(fs *pflag.FlagSet) {
	if WorkspaceFolder == "" {
		WorkspaceFolder = strings.TrimSpace(os.Getenv(EnvVarWorkspaceFolder))
	}
	fs.StringVar(
		&WorkspaceFolder,
		FlagNameWorkspaceFolder,
		WorkspaceFolder,
		"value substituted for ${workspaceFolder} in server configs (defaults to the config file's directory)",
	)
}
