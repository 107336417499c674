package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// --- Configuration & Environment ---

type Config struct {
	Token          string
	GuildID        string
	DatabasePath   string
	Silent         bool
	AudioCacheDir  string
	YtdlpPath      string
	YoutubeProxy   string
	ExtractTimeout time.Duration
	ExtractRate    float64
	ExtractBurst   int
	CommandPrefix  string
}

var GlobalConfig *Config

const (
	DefaultAudioCacheDir  = ".tracks"
	DefaultExtractTimeout = 5 * time.Minute
	DefaultExtractRate    = 2.0
	DefaultExtractBurst   = 4
	DefaultCommandPrefix  = "!"
)

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := configFromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func configFromEnv(getenv func(string) string) (*Config, error) {
	dbPath := getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(getenv("SILENT"))

	cacheDir := getenv("AUDIO_CACHE_DIR")
	if cacheDir == "" {
		cacheDir = DefaultAudioCacheDir
	}

	timeout := DefaultExtractTimeout
	if v := getenv("EXTRACT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid EXTRACT_TIMEOUT: %w", err)
		}
		timeout = d
	}

	rate := DefaultExtractRate
	if v := getenv("EXTRACT_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid EXTRACT_RATE: %w", err)
		}
		rate = r
	}

	prefix := strings.TrimSpace(getenv("COMMAND_PREFIX"))
	if prefix == "" {
		prefix = DefaultCommandPrefix
	}

	return &Config{
		Token:          getenv("DISCORD_TOKEN"),
		GuildID:        getenv("GUILD_ID"),
		DatabasePath:   dbPath,
		Silent:         silent,
		AudioCacheDir:  cacheDir,
		YtdlpPath:      getenv("YTDLP_PATH"),
		YoutubeProxy:   getenv("YOUTUBE_PROXY"),
		ExtractTimeout: timeout,
		ExtractRate:    rate,
		ExtractBurst:   DefaultExtractBurst,
		CommandPrefix:  prefix,
	}, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
	}
	if c.ExtractTimeout <= 0 {
		return fmt.Errorf("invalid EXTRACT_TIMEOUT: must be positive")
	}
	if c.ExtractRate <= 0 {
		return fmt.Errorf("invalid EXTRACT_RATE: must be positive")
	}
	return nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "jukebox"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") || strings.HasSuffix(projectName, ".test") {
			projectName = "jukebox"
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}
