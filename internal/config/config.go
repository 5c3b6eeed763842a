package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Embedding EmbeddingConfig
	Artifacts ArtifactsConfig
	Matching  MatchingConfig
}

type ServerConfig struct {
	Host string // defaults to 0.0.0.0
	Port int    // defaults to 8080
}

type DatabaseConfig struct {
	URL             string // PostgreSQL connection URL
	MaxOpenConns    int    // Maximum open connections (default 25)
	MaxIdleConns    int    // Maximum idle connections (default 5)
	MemberIndexPath string // Path to persist the member HNSW index (optional, rebuilt on startup if empty)
}

type EmbeddingConfig struct {
	URL string // face embedding service URL, defaults to http://localhost:8000
}

type ArtifactsConfig struct {
	Dir string // directory for face crops and enrollment photos (default ./data/faces)
}

// MatchingConfig holds face-match tuning values. Defaults come from the
// embedded defaults.yaml; the threshold can be overridden per request.
type MatchingConfig struct {
	Threshold     float64 `yaml:"threshold"`      // max L2 distance for a match (inclusive)
	MinThreshold  float64 `yaml:"min_threshold"`  // lower clamp for request-supplied thresholds
	MaxThreshold  float64 `yaml:"max_threshold"`  // upper clamp for request-supplied thresholds
	IdentifyLimit int     `yaml:"identify_limit"` // max candidates returned per face by /identify
}

// ClampThreshold returns t clamped to the configured [min, max] range,
// or the default threshold when t is not positive.
func (m *MatchingConfig) ClampThreshold(t float64) float64 {
	if t <= 0 {
		return m.Threshold
	}
	if t < m.MinThreshold {
		return m.MinThreshold
	}
	if t > m.MaxThreshold {
		return m.MaxThreshold
	}
	return t
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func Load() *Config {
	var matching MatchingConfig
	if err := yaml.Unmarshal(defaultsYAML, &matching); err != nil {
		// Embedded file, this should never happen in practice.
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	matching.Threshold = envFloat("MATCH_THRESHOLD", matching.Threshold)

	return &Config{
		Server: ServerConfig{
			Host: envString("SERVER_HOST", "0.0.0.0"),
			Port: envInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			MemberIndexPath: os.Getenv("MEMBER_INDEX_PATH"),
		},
		Embedding: EmbeddingConfig{
			URL: envString("EMBEDDING_URL", "http://localhost:8000"),
		},
		Artifacts: ArtifactsConfig{
			Dir: envString("ARTIFACTS_DIR", "./data/faces"),
		},
		Matching: matching,
	}
}
