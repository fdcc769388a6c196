package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected so typos surface at startup instead of being
// silently ignored.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; sessions will not be able to generate replies")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; audio will not be transcribed")
	}

	// Orchestrator
	o := cfg.Orchestrator
	if o.Temperature < 0 || o.Temperature > 2 {
		errs = append(errs, fmt.Errorf("orchestrator.temperature %.2f is out of range [0.0, 2.0]", o.Temperature))
	}
	if o.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.max_tokens %d must not be negative", o.MaxTokens))
	}
	if o.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.sample_rate %d must not be negative", o.SampleRate))
	}
	if o.BaseThreshold < 0 || o.BaseThreshold > 1 {
		errs = append(errs, fmt.Errorf("orchestrator.base_threshold %.3f is out of range [0.0, 1.0]", o.BaseThreshold))
	}
	errs = append(errs, validatePauseBands(o)...)

	// Memory availability
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; conversation exchanges will not be persisted")
	}

	return errors.Join(errs...)
}

// validatePauseBands checks the ordering of any explicitly configured pause
// bands. Zero values fall back to defaults at runtime and are skipped here;
// the detector re-validates the effective values.
func validatePauseBands(o OrchestratorConfig) []error {
	var errs []error
	bands := []struct {
		name string
		ms   int
	}{
		{"short_pause_ms", o.ShortPauseMs},
		{"trigger_pause_ms", o.TriggerPauseMs},
		{"waiting_pause_ms", o.WaitingPauseMs},
		{"timeout_ms", o.TimeoutMs},
	}
	prev := -1
	prevName := ""
	for _, b := range bands {
		if b.ms < 0 {
			errs = append(errs, fmt.Errorf("orchestrator.%s %d must not be negative", b.name, b.ms))
			continue
		}
		if b.ms == 0 {
			continue
		}
		if prev >= 0 && b.ms <= prev {
			errs = append(errs, fmt.Errorf("orchestrator.%s %d must be above %s %d", b.name, b.ms, prevName, prev))
		}
		prev = b.ms
		prevName = b.name
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
