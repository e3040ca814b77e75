package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ParameterType selects the SSM storage type for a step.
type ParameterType int

const (
	ParamSecureString ParameterType = iota
	ParamString
)

// InputSource describes where a step's value comes from.
type InputSource int

const (
	SourcePrompt InputSource = iota
	SourceGenerated
)

// BootstrapStep is one parameter in the secret inventory.
type BootstrapStep struct {
	HumanLabel string

	// SSMCategoryKey is appended to /{env}/storymagic/.
	SSMCategoryKey string

	ParamType ParameterType
	Source    InputSource
	Prompt    string

	// ValidateFn checks operator input. Nil accepts anything non-empty.
	ValidateFn func(ctx context.Context, input string) ValidationResult

	// IsSecret disables terminal echo while the value is typed.
	IsSecret bool

	Phase string
}

const maxRetries = 5

var errSkipped = errors.New("parameter skipped by operator")

// BuildInventory returns the ordered steps for env. Production only accepts
// live Stripe keys; other environments only accept test keys.
func BuildInventory(v *Validator, env string) []BootstrapStep {
	return []BootstrapStep{
		{
			HumanLabel:     "Database URL",
			SSMCategoryKey: "database/url",
			ParamType:      ParamSecureString,
			Source:         SourcePrompt,
			Prompt: `1. Open the Supabase project > Settings > Database.
   2. Copy the connection string (postgres://...) and fill in the password.
   3. Paste it here:`,
			ValidateFn: v.ValidateDatabaseURL,
			IsSecret:   true,
			Phase:      "Database",
		},
		{
			HumanLabel:     "Stripe Secret Key",
			SSMCategoryKey: "billing/stripe_secret_key",
			ParamType:      ParamSecureString,
			Source:         SourcePrompt,
			Prompt: `1. Go to Stripe Dashboard > Developers > API Keys.
   2. Copy the Secret Key (sk_...).
   3. Paste it here:`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateStripeKey(ctx, input, env == "prod")
			},
			IsSecret: true,
			Phase:    "Stripe",
		},
		{
			HumanLabel:     "Stripe Webhook Signing Secret",
			SSMCategoryKey: "billing/stripe_webhook_secret",
			ParamType:      ParamSecureString,
			Source:         SourcePrompt,
			Prompt: `1. Go to Stripe Dashboard > Developers > Webhooks.
   2. Add an endpoint pointing at {API_URL}/webhooks/stripe for
      checkout.session.completed and customer.subscription.* events.
   3. Reveal the Signing Secret (whsec_...) and paste it here:`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateRegex(ctx, input, `^whsec_[0-9a-zA-Z]{16,}$`, "Stripe Webhook Secret")
			},
			IsSecret: true,
			Phase:    "Stripe",
		},
		{
			HumanLabel:     "Stripe Starter Price ID",
			SSMCategoryKey: "billing/stripe_price_starter",
			ParamType:      ParamString,
			Source:         SourcePrompt,
			Prompt:         `Paste the Price ID of the Starter plan (price_...):`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateRegex(ctx, input, `^price_[0-9a-zA-Z]{8,}$`, "Starter Price ID")
			},
			Phase: "Stripe",
		},
		{
			HumanLabel:     "Stripe Family Price ID",
			SSMCategoryKey: "billing/stripe_price_family",
			ParamType:      ParamString,
			Source:         SourcePrompt,
			Prompt:         `Paste the Price ID of the Family plan (price_...):`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateRegex(ctx, input, `^price_[0-9a-zA-Z]{8,}$`, "Family Price ID")
			},
			Phase: "Stripe",
		},
		{
			HumanLabel:     "Auth JWT Secret",
			SSMCategoryKey: "auth/jwt_secret",
			ParamType:      ParamSecureString,
			Source:         SourcePrompt,
			Prompt: `1. Open the Supabase project > Settings > API.
   2. Copy the JWT Secret used to sign user access tokens.
   3. Paste it here:`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateMinLength(ctx, input, 32, "JWT Secret")
			},
			IsSecret: true,
			Phase:    "Auth",
		},
		{
			HumanLabel:     "Service Role Key",
			SSMCategoryKey: "auth/service_role_key",
			ParamType:      ParamSecureString,
			Source:         SourceGenerated,
			Phase:          "Auth",
		},
	}
}

// stepAction is the outcome recorded for each step in the summary.
type stepAction string

const (
	actionWritten     stepAction = "written"
	actionSkipped     stepAction = "skipped"
	actionOverwritten stepAction = "overwritten"
	actionGenerated   stepAction = "generated"
)

type stepResult struct {
	Label  string
	Action stepAction
	Path   string
}

// BootstrapRunner drives the inventory against SSM.
type BootstrapRunner struct {
	SSM       *SSMManager
	Validator *Validator
	Env       string
	Stdin     io.Reader
	Stderr    io.Writer

	// scanner is shared so buffered read-ahead is never lost between prompts.
	scanner *bufio.Scanner

	inventoryOverride []BootstrapStep
}

func NewBootstrapRunner(bctx *BootstrapContext) *BootstrapRunner {
	return &BootstrapRunner{
		SSM:       NewSSMManager(bctx),
		Validator: NewValidator(),
		Env:       bctx.Environment,
		Stdin:     os.Stdin,
		Stderr:    os.Stderr,
	}
}

// Run processes every step in order and prints a summary. Existing
// parameters are never replaced without the operator choosing to.
func (r *BootstrapRunner) Run(ctx context.Context) error {
	inventory := r.inventoryOverride
	if inventory == nil {
		inventory = BuildInventory(r.Validator, r.Env)
	}

	var (
		phase   string
		results = make([]stepResult, 0, len(inventory))
	)
	for i, step := range inventory {
		if step.Phase != phase {
			phase = step.Phase
			r.printPhaseHeader(phase)
		}
		fmt.Fprintf(r.Stderr, "\n[%d/%d] %s\n", i+1, len(inventory), step.HumanLabel)

		res, err := r.processStep(ctx, step)
		if err != nil {
			return fmt.Errorf("step %q failed: %w", step.HumanLabel, err)
		}
		results = append(results, res)
	}

	r.printSummary(results)
	return nil
}

func (r *BootstrapRunner) processStep(ctx context.Context, step BootstrapStep) (stepResult, error) {
	path := r.SSM.SSMPath(step.SSMCategoryKey)
	res := stepResult{Label: step.HumanLabel, Path: path}

	exists, err := r.SSM.ParameterExists(ctx, path)
	if err != nil {
		return res, fmt.Errorf("checking existence of %s: %w", path, err)
	}
	if exists {
		fmt.Fprintf(r.Stderr, "  Parameter already exists: %s\n", path)
		choice, err := r.promptChoice("  [S]kip or [O]verwrite? ", "skip", "overwrite")
		if err != nil {
			return res, fmt.Errorf("reading skip/overwrite choice: %w", err)
		}
		if choice == "skip" {
			fmt.Fprintf(r.Stderr, "  Skipped.\n")
			res.Action = actionSkipped
			return res, nil
		}
	}

	var value string
	switch step.Source {
	case SourcePrompt:
		value, err = r.promptAndValidate(ctx, step)
		if errors.Is(err, errSkipped) {
			fmt.Fprintf(r.Stderr, "  Skipped.\n")
			res.Action = actionSkipped
			return res, nil
		}
		if err != nil {
			return res, err
		}
	case SourceGenerated:
		value, err = GenerateSecureToken()
		if err != nil {
			return res, fmt.Errorf("generating token for %s: %w", step.HumanLabel, err)
		}
		fmt.Fprintf(r.Stderr, "  Auto-generated (%d chars)\n", len(value))
	}

	if step.ParamType == ParamSecureString {
		err = r.SSM.PutSecret(ctx, path, value, exists)
	} else {
		err = r.SSM.PutString(ctx, path, value)
	}
	if err != nil {
		return res, fmt.Errorf("writing SSM parameter %s: %w", path, err)
	}

	switch {
	case exists:
		res.Action = actionOverwritten
	case step.Source == SourceGenerated:
		res.Action = actionGenerated
	default:
		res.Action = actionWritten
	}
	fmt.Fprintf(r.Stderr, "  Stored: %s\n", path)
	return res, nil
}

// promptAndValidate reads a value and retries validation failures up to
// maxRetries. Empty input asks whether to skip instead of burning a retry.
func (r *BootstrapRunner) promptAndValidate(ctx context.Context, step BootstrapStep) (string, error) {
	fmt.Fprintf(r.Stderr, "\n  %s\n\n", step.Prompt)

	for attempt := 1; attempt <= maxRetries; {
		var (
			input string
			err   error
		)
		if step.IsSecret {
			input, err = r.readSecretInput("  > ")
		} else {
			input, err = r.readInput("  > ")
		}
		if err != nil {
			return "", fmt.Errorf("reading input for %s: %w", step.HumanLabel, err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			choice, err := r.promptChoice("  No input received. [S]kip this parameter or [R]etry? ", "skip", "retry")
			if err != nil {
				return "", fmt.Errorf("reading skip/retry choice for %s: %w", step.HumanLabel, err)
			}
			if choice == "skip" {
				return "", errSkipped
			}
			continue
		}

		// Secrets are acknowledged by length only.
		if step.IsSecret {
			fmt.Fprintf(r.Stderr, "  Received %d chars.\n", len(input))
		}

		if step.ValidateFn == nil {
			return input, nil
		}
		vr := step.ValidateFn(ctx, input)
		if vr.Valid {
			fmt.Fprintf(r.Stderr, "  Validated: %s\n", vr.Message)
			return input, nil
		}

		fmt.Fprintf(r.Stderr, "  Validation failed: %s\n", vr.Message)
		if attempt < maxRetries {
			fmt.Fprintf(r.Stderr, "  Try again (%d/%d).\n", attempt, maxRetries)
		}
		attempt++
	}

	return "", fmt.Errorf("maximum retries (%d) exceeded for %s", maxRetries, step.HumanLabel)
}

// promptChoice loops until the operator picks one of options, accepting
// either the full word or its first letter.
func (r *BootstrapRunner) promptChoice(prompt string, options ...string) (string, error) {
	for {
		fmt.Fprint(r.Stderr, prompt)
		line, err := r.scanLine()
		if err != nil {
			return "", err
		}

		answer := strings.ToLower(strings.TrimSpace(line))
		for _, opt := range options {
			if answer == opt || (answer != "" && answer == opt[:1]) {
				return opt, nil
			}
		}
		fmt.Fprintf(r.Stderr, "  Please enter one of: %s.\n", strings.Join(options, ", "))
	}
}

func (r *BootstrapRunner) scanLine() (string, error) {
	if r.scanner == nil {
		r.scanner = bufio.NewScanner(r.Stdin)
	}
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *BootstrapRunner) readInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)
	return r.scanLine()
}

// readSecretInput disables echo when stdin is a terminal and falls back to
// line reading for piped input.
func (r *BootstrapRunner) readSecretInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)

	if f, ok := r.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(r.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret input: %w", err)
		}
		return string(secret), nil
	}
	return r.scanLine()
}

func (r *BootstrapRunner) printPhaseHeader(phase string) {
	fmt.Fprintf(r.Stderr, "\n============================================================\n")
	fmt.Fprintf(r.Stderr, "  Phase: %s\n", phase)
	fmt.Fprintf(r.Stderr, "============================================================\n")
}

func (r *BootstrapRunner) printSummary(results []stepResult) {
	counts := make(map[stepAction]int)

	fmt.Fprintf(r.Stderr, "\n============================================================\n")
	fmt.Fprintf(r.Stderr, "  Bootstrap Summary\n")
	fmt.Fprintf(r.Stderr, "============================================================\n")
	for _, res := range results {
		counts[res.Action]++
		status := "[" + strings.ToUpper(string(res.Action)) + "]"
		fmt.Fprintf(r.Stderr, "  %-13s %s\n", status, res.Label)
	}
	fmt.Fprintf(r.Stderr, "------------------------------------------------------------\n")
	fmt.Fprintf(r.Stderr, "  Total: %d parameters\n", len(results))
	fmt.Fprintf(r.Stderr, "  Written: %d | Generated: %d | Overwritten: %d | Skipped: %d\n",
		counts[actionWritten], counts[actionGenerated], counts[actionOverwritten], counts[actionSkipped])
	fmt.Fprintf(r.Stderr, "============================================================\n\n")
	fmt.Fprintf(r.Stderr, "  Next step: point the service at these parameters, e.g.\n")
	fmt.Fprintf(r.Stderr, "  STRIPE_SECRET_KEY_SSM_PARAM=%sbilling/stripe_secret_key\n\n", ssmPrefix(r.Env))
}
