package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ValidationResult is a pass/fail flag plus a message for the operator.
type ValidationResult struct {
	Valid   bool
	Message string
}

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DatabaseConnector opens and immediately closes a connection to dsn.
type DatabaseConnector interface {
	Connect(ctx context.Context, dsn string) error
}

// PgxConnector verifies reachability and credentials with a real pgx
// connection.
type PgxConnector struct{}

func (c *PgxConnector) Connect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

const defaultStripeAPIBase = "https://api.stripe.com"

// Validator performs format checks and active probes against Stripe and
// Postgres.
type Validator struct {
	httpClient    HTTPClient
	dbConn        DatabaseConnector
	stripeAPIBase string
}

func NewValidator() *Validator {
	return NewValidatorWithDeps(&http.Client{Timeout: 10 * time.Second}, &PgxConnector{}, defaultStripeAPIBase)
}

func NewValidatorWithDeps(httpClient HTTPClient, dbConn DatabaseConnector, stripeAPIBase string) *Validator {
	if stripeAPIBase == "" {
		stripeAPIBase = defaultStripeAPIBase
	}
	return &Validator{
		httpClient:    httpClient,
		dbConn:        dbConn,
		stripeAPIBase: strings.TrimRight(stripeAPIBase, "/"),
	}
}

// validateTimeout is the outer bound for one active probe, covering DNS and
// TLS as well as the request itself.
const validateTimeout = 15 * time.Second

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Message: fmt.Sprintf(format, args...)}
}

// ValidateDatabaseURL requires a postgres:// URL with an explicit port and
// then connects to it.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return invalid("database URL must not be empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return invalid("invalid URL format: %v", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return invalid("expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme)
	}
	_, port, err := net.SplitHostPort(parsed.Host)
	if err != nil || port == "" {
		return invalid("database URL must include an explicit port (host %q)", parsed.Host)
	}
	if parsed.User == nil || parsed.User.Username() == "" {
		return invalid("database URL must include a user")
	}

	connCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := v.dbConn.Connect(connCtx, rawURL); err != nil {
		return invalid("connection failed: %v", err)
	}

	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("database connection verified (host=%s, port=%s)", parsed.Hostname(), port),
	}
}

var stripeKeyRegex = regexp.MustCompile(`^(sk|rk)_(test|live)_[0-9a-zA-Z]{24,}$`)

// ValidateStripeKey checks the key format and mode, then calls
// GET /v1/account to prove the key works. requireLive rejects test keys and
// its absence rejects live keys, so a dev stack can never charge real cards.
func (v *Validator) ValidateStripeKey(ctx context.Context, key string, requireLive bool) ValidationResult {
	key = strings.TrimSpace(key)
	if key == "" {
		return invalid("Stripe secret key must not be empty")
	}
	m := stripeKeyRegex.FindStringSubmatch(key)
	if m == nil {
		return invalid("Stripe secret key must match format sk_(test|live)_[alphanumeric 24+ chars]")
	}
	mode := m[2]
	if requireLive && mode != "live" {
		return invalid("production requires a live Stripe key, got a %s key", mode)
	}
	if !requireLive && mode == "live" {
		return invalid("non-production environments must use a test Stripe key")
	}

	probeCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, v.stripeAPIBase+"/v1/account", nil)
	if err != nil {
		return invalid("failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", "StoryMagic-Bootstrap/1.0")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return invalid("Stripe API probe failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return invalid("Stripe API returned 401 Unauthorized: key is invalid or revoked")
	case resp.StatusCode != http.StatusOK:
		return invalid("Stripe API returned HTTP %d: %s", resp.StatusCode, truncateBody(body, 200))
	}

	var account struct {
		ID              string `json:"id"`
		BusinessProfile struct {
			Name string `json:"name"`
		} `json:"business_profile"`
	}
	info := ""
	if err := json.Unmarshal(body, &account); err == nil && account.ID != "" {
		info = fmt.Sprintf(" (account: %s", account.ID)
		if account.BusinessProfile.Name != "" {
			info += ", name: " + account.BusinessProfile.Name
		}
		info += ")"
	}

	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("Stripe key verified [%s mode]%s", mode, info),
	}
}

// ValidateRegex is a format-only check for values that cannot be probed.
func (v *Validator) ValidateRegex(_ context.Context, input, pattern, fieldName string) ValidationResult {
	input = strings.TrimSpace(input)
	if input == "" {
		return invalid("%s must not be empty", fieldName)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return invalid("invalid regex pattern %q: %v", pattern, err)
	}
	if !re.MatchString(input) {
		return invalid("%s does not match expected format (pattern: %s)", fieldName, pattern)
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("%s format validated", fieldName)}
}

// ValidateMinLength guards HMAC secrets against short, guessable values.
func (v *Validator) ValidateMinLength(_ context.Context, input string, minLen int, fieldName string) ValidationResult {
	input = strings.TrimSpace(input)
	if len(input) < minLen {
		return invalid("%s must be at least %d characters (got %d)", fieldName, minLen, len(input))
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("%s length validated", fieldName)}
}

func truncateBody(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
