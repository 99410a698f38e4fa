package ragcore

import (
	"os"
	"path/filepath"

	"github.com/mexar/ragcore/reasoning"
)

// Config holds all configuration for the ragcore engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.ragcore/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "ragcore". The file will be <DBName>.db inside the
	// storage directory (~/.ragcore/ or working dir).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.ragcore/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// ArtifactDir is the root directory for per-agent on-disk artifacts.
	// The engine does not read it and compilation creates no artifact
	// directory; agent deletion removes only the directory recorded on
	// the agent row via store.SetAgentArtifactDir, if any.
	ArtifactDir string `json:"artifact_dir" yaml:"artifact_dir"`

	// LLM providers.
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`
	Rerank    LLMConfig `json:"rerank" yaml:"rerank"` // optional: cross-encoder endpoint; empty degrades to placeholder scoring

	// Retrieval weights for RRF.
	WeightVector float64 `json:"weight_vector" yaml:"weight_vector"`
	WeightFTS    float64 `json:"weight_fts" yaml:"weight_fts"`

	// RRFK is the Reciprocal Rank Fusion constant. Defaults to 60 (the
	// standard value from the RRF literature) when zero.
	RRFK int `json:"rrf_k" yaml:"rrf_k"`

	// Chunking.
	MaxChunkTokens int `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`

	// Reasoning.
	QuickFaithfulness bool `json:"quick_faithfulness" yaml:"quick_faithfulness"` // skip per-claim LLM verification, use word-overlap heuristic

	// ConfidenceWeights controls how the final answer's confidence score
	// blends retrieval, rerank, and faithfulness signals. Zero value
	// resolves to reasoning.DefaultConfidenceWeights.
	ConfidenceWeights reasoning.ConfidenceWeights `json:"confidence_weights" yaml:"confidence_weights"`

	// StuckJobThreshold is the age in minutes past which an in-progress
	// compilation job counts as stuck. The value is only stored: no query
	// in this module reads it or flags stuck jobs, and the core does not
	// forcibly terminate them.
	StuckJobThreshold int `json:"stuck_job_threshold_minutes" yaml:"stuck_job_threshold_minutes"`

	// Embedding dimensions (must match model).
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.ragcore/ragcore.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "ragcore",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "bge-small-en-v1.5",
			BaseURL:  "http://localhost:11434",
		},
		WeightVector:      1.0,
		WeightFTS:         1.0,
		RRFK:              60,
		MaxChunkTokens:    400,
		StuckJobThreshold: 30,
		EmbeddingDim:      384,
		ConfidenceWeights: reasoning.DefaultConfidenceWeights(),
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "ragcore"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".ragcore")
		return filepath.Join(dir, name+".db")
	}
}

// resolveArtifactDir computes the root artifact directory, defaulting
// alongside the resolved database path.
func (c *Config) resolveArtifactDir() string {
	if c.ArtifactDir != "" {
		return c.ArtifactDir
	}
	return filepath.Join(filepath.Dir(c.resolveDBPath()), "artifacts")
}
