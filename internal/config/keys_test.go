package config

import (
	"errors"
	"testing"
)

func TestResolveAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		cfg        *Config
		wantKey    string
		wantSource KeySource
		wantErr    bool
	}{
		{
			name:       "environment wins",
			env:        "sk-ant-env",
			cfg:        &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-file"}},
			wantKey:    "sk-ant-env",
			wantSource: KeySourceEnv,
		},
		{
			name:       "config file",
			cfg:        &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-file"}},
			wantKey:    "sk-ant-file",
			wantSource: KeySourceConfig,
		},
		{
			name:       "unresolved reference",
			cfg:        &Config{Anthropic: AnthropicConfig{APIKey: "${CASCADE_MISSING_KEY}"}},
			wantSource: KeySourceNone,
			wantErr:    true,
		},
		{
			name:       "bedrock needs no key",
			cfg:        &Config{Bedrock: BedrockConfig{Enabled: true}},
			wantSource: KeySourceBedrock,
		},
		{
			name:       "nil config",
			wantSource: KeySourceNone,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ANTHROPIC_API_KEY", tt.env)

			key, source, err := ResolveAPIKey(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveAPIKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNoAPIKey) {
				t.Errorf("error = %v, want ErrNoAPIKey", err)
			}
			if key != tt.wantKey {
				t.Errorf("key = %q, want %q", key, tt.wantKey)
			}
			if source != tt.wantSource {
				t.Errorf("source = %q, want %q", source, tt.wantSource)
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-REDACTED", "sk-ant-...mnop"},
	}

	for _, tt := range tests {
		if got := MaskAPIKey(tt.key); got != tt.want {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
