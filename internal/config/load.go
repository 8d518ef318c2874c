package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

// Load populates the process environment before New() is read.
// Precedence: real env > AWS Secrets Manager > .env file > TOML config file.
func Load(ctx context.Context, envFile string) error {
	if err := loadAWSSecretsIntoEnv(ctx); err != nil {
		log.Warn().Err(err).Msg("Skipping AWS Secrets Manager load")
	}
	loadDotEnv(envFile)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadTOMLFile(path); err != nil {
			return fmt.Errorf("[config Load] %w", err)
		}
	}
	return nil
}

func loadDotEnv(envFile string) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Debug().Str("file", envFile).Msg(".env file not found, using system environment variables")
	}
}

func loadAWSSecretsIntoEnv(ctx context.Context) error {
	secretID := os.Getenv("AWS_SECRETS_MANAGER_SECRET_ID")
	if secretID == "" {
		return nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region := os.Getenv("AWS_SECRETS_MANAGER_REGION"); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("loading aws config: %w", err)
	}

	output, err := secretsmanager.NewFromConfig(cfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return fmt.Errorf("fetching secret %s: %w", secretID, err)
	}

	var payload string
	switch {
	case output.SecretString != nil:
		payload = *output.SecretString
	case len(output.SecretBinary) > 0:
		payload = string(output.SecretBinary)
	default:
		return fmt.Errorf("secret %s has no payload", secretID)
	}

	var kv map[string]any
	if err := json.Unmarshal([]byte(payload), &kv); err != nil {
		return fmt.Errorf("parsing secret %s as JSON: %w", secretID, err)
	}
	applied := applyToEnv(kv)
	log.Info().Int("count", applied).Str("secret", secretID).Msg("Loaded env vars from AWS Secrets Manager")
	return nil
}

// loadTOMLFile reads a flat TOML table of env var names; nested tables are flattened with "_".
//
//	MICROSOFT_CLIENT_ID = "..."
//	[session]
//	store = "redis"   # -> SESSION_STORE
func loadTOMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	applyToEnv(flatten("", raw))
	return nil
}

func flatten(prefix string, in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		key := strings.ToUpper(k)
		if prefix != "" {
			key = prefix + "_" + key
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// applyToEnv never overwrites values that are already set.
func applyToEnv(kv map[string]any) int {
	applied := 0
	for key, val := range kv {
		if os.Getenv(key) != "" {
			continue
		}
		var value string
		switch v := val.(type) {
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprint(p))
			}
			value = strings.Join(parts, " ")
		default:
			value = fmt.Sprint(v)
		}
		if err := os.Setenv(key, value); err != nil {
			continue
		}
		applied++
	}
	return applied
}
