package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "trial-search/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// AIConfig holds shared settings for calls to the model API.
type AIConfig struct {
	// Model is the model identifier (e.g. "claude-3-5-haiku-latest").
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the model API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxTokens caps the model output length (default 4000).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Temperature is the sampling temperature. Tagging runs at 0 so the
	// same trial yields stable output.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// MaxAttempts is the total number of API call attempts for retryable
	// failures (default 5).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// MinRequestInterval is the minimum gap between consecutive API
	// requests, shared across all workers (default 1s). The upstream API
	// rate limit applies per account, not per connection.
	MinRequestInterval time.Duration `json:"min_request_interval" yaml:"min_request_interval"`

	// Timeout is the per-request timeout for model calls (default 120s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// TaggingConfig holds settings for the tagging stage.
type TaggingConfig struct {
	AIConfig `yaml:",inline"`

	// Concurrency is the number of trials tagged in flight at once (default 3).
	// The shared request interval caps real parallelism; this bound keeps
	// memory usage flat regardless of batch size.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// Version is the processing version recorded with each tagged trial.
	// Bump it after prompt or schema changes to force re-tagging.
	Version int `json:"version" yaml:"version"`

	// RetagOnParseError re-calls the model once when a response fails
	// validation, before recording the trial as failed.
	RetagOnParseError bool `json:"retag_on_parse_error" yaml:"retag_on_parse_error"`
}

// DownloadConfig holds settings for the download stage.
type DownloadConfig struct {
	HTTPConfig `yaml:",inline"`

	// DataDir is the base directory for downloaded data (contains raw/).
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Sample limits downloads to a small test slice instead of the full dump.
	Sample bool `json:"sample" yaml:"sample"`
}

// StoreConfig holds settings for the trial tag store.
type StoreConfig struct {
	// Path is the SQLite database file path (default "trials.db").
	Path string `json:"path" yaml:"path"`
}
