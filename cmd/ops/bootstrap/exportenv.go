package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/joho/godotenv"
)

// ssmToEnvMapping maps inventory keys to the variables internal/config reads.
var ssmToEnvMapping = map[string]string{
	"database/url":                  "DATABASE_URL",
	"billing/stripe_secret_key":     "STRIPE_SECRET_KEY",
	"billing/stripe_webhook_secret": "STRIPE_WEBHOOK_SECRET",
	"billing/stripe_price_starter":  "STRIPE_PRICE_STARTER",
	"billing/stripe_price_family":   "STRIPE_PRICE_FAMILY",
	"auth/jwt_secret":               "AUTH_JWT_SECRET",
	"auth/service_role_key":         "SERVICE_ROLE_KEY",
}

// localDevDefaults fills the non-secret variables a local run needs.
var localDevDefaults = map[string]string{
	"APP_ENV":           "local",
	"APP_URL":           "http://localhost:5173",
	"LOG_LEVEL":         "debug",
	"PORT":              "8080",
	"DB_AUTO_MIGRATE":   "true",
	"AUTH_JWT_AUDIENCE": "authenticated",
	"METRICS_ENABLED":   "false",
}

// ExportEnvConfig controls ExportEnvFile.
type ExportEnvConfig struct {
	OutputPath  string
	Environment string
	SSM         *SSMManager
	Stderr      io.Writer

	// IncludeLocalDefaults appends localDevDefaults after the secrets.
	IncludeLocalDefaults bool
}

// ExportEnvFile reads every mapped parameter back from SSM and writes a
// dotenv file with 0600 permissions. Missing parameters are reported and
// left out; if none exist the export fails.
func ExportEnvFile(ctx context.Context, cfg ExportEnvConfig) error {
	if cfg.SSM == nil {
		return fmt.Errorf("export-env: SSM manager is required")
	}
	if cfg.Stderr == nil {
		cfg.Stderr = io.Discard
	}
	env := cfg.Environment
	if env == "" {
		env = cfg.SSM.env
	}

	keys := make([]string, 0, len(ssmToEnvMapping))
	for k := range ssmToEnvMapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	secrets := make(map[string]string, len(keys))
	var missing []string
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("export-env: %w", err)
		}

		path := cfg.SSM.SSMPath(key)
		value, err := cfg.SSM.GetParameterValue(ctx, path, true)
		if err != nil {
			var notFound *ssmtypes.ParameterNotFound
			if errors.As(err, &notFound) {
				missing = append(missing, path)
				fmt.Fprintf(cfg.Stderr, "  [MISSING] %s\n", path)
				continue
			}
			return fmt.Errorf("export-env: %w", err)
		}
		secrets[ssmToEnvMapping[key]] = value
		fmt.Fprintf(cfg.Stderr, "  [OK]      %s -> %s\n", path, ssmToEnvMapping[key])
	}

	if len(secrets) == 0 {
		return fmt.Errorf("export-env: no parameters found under %s", ssmPrefix(env))
	}

	body, err := renderEnvFile(env, secrets, cfg.IncludeLocalDefaults, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("export-env: %w", err)
	}
	if err := os.WriteFile(cfg.OutputPath, []byte(body), 0o600); err != nil {
		return fmt.Errorf("export-env: writing %s: %w", cfg.OutputPath, err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(cfg.OutputPath, 0o600); err != nil {
		return fmt.Errorf("export-env: chmod %s: %w", cfg.OutputPath, err)
	}

	fmt.Fprintf(cfg.Stderr, "\n  Wrote %d parameters to %s", len(secrets), cfg.OutputPath)
	if len(missing) > 0 {
		fmt.Fprintf(cfg.Stderr, " (%d missing)", len(missing))
	}
	fmt.Fprintln(cfg.Stderr)
	return nil
}

func renderEnvFile(env string, secrets map[string]string, withDefaults bool, now time.Time) (string, error) {
	var b strings.Builder
	b.WriteString("# Auto-generated by bootstrap --export-env\n")
	fmt.Fprintf(&b, "# Environment: %s\n", env)
	fmt.Fprintf(&b, "# Generated:   %s\n", now.Format(time.RFC3339))
	b.WriteString("# SECURITY WARNING: this file holds plaintext secrets. Do not commit it.\n\n")

	secretLines, err := godotenv.Marshal(secrets)
	if err != nil {
		return "", err
	}
	b.WriteString(secretLines)
	b.WriteString("\n")

	if withDefaults {
		defaults := make(map[string]string, len(localDevDefaults))
		for k, v := range localDevDefaults {
			if _, ok := secrets[k]; !ok {
				defaults[k] = v
			}
		}
		lines, err := godotenv.Marshal(defaults)
		if err != nil {
			return "", err
		}
		b.WriteString("\n# Local development defaults\n")
		b.WriteString(lines)
		b.WriteString("\n")
	}
	return b.String(), nil
}
