package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"eval_harness/internal/eval"
)

// Effective is the merged per-call configuration handed to an adapter.
// Recognized fields are typed and canonicalized; everything else passes
// through verbatim in Extra for the adapter to interpret.
type Effective struct {
	Vendor       string
	APIKey       string
	BaseURL      string
	Organization string

	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Seed        *int

	Timeout     time.Duration
	Delay       time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	Persist     bool

	Extra map[string]any
}

// Defaults are the compiled-in values at the bottom of the precedence order.
type Defaults struct {
	Timeout     time.Duration
	Delay       time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

// DefaultDefaults returns the stock retry/timeout policy.
func DefaultDefaults() Defaults {
	return Defaults{
		Timeout:     60 * time.Second,
		Delay:       0,
		MaxRetries:  3, // 4 attempts total
		BackoffBase: 5 * time.Second,
	}
}

// Resolver merges provider config blocks, the process environment and
// test-level overrides into one Effective per call.
//
// Precedence, highest first: override field, provider config field,
// environment variable, compiled-in default.
type Resolver struct {
	Defaults Defaults

	// RequiresKey reports whether a vendor needs an api_key. Nil means
	// every vendor needs one.
	RequiresKey func(vendor string) bool

	// Getenv defaults to os.Getenv; injectable for tests.
	Getenv func(string) string

	// ReadFile resolves file:// values; defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
}

// aliases maps accepted spellings to canonical field names.
var aliases = map[string]string{
	"apikey":       "api_key",
	"api_key":      "api_key",
	"base_url":     "base_url",
	"baseurl":      "base_url",
	"api_base_url": "base_url",
	"apibaseurl":   "base_url",
	"api_host":     "base_url",
	"apihost":      "base_url",
	"org":          "organization",
	"organization": "organization",
	"temperature":  "temperature",
	"top_p":        "top_p",
	"topp":         "top_p",
	"max_tokens":   "max_tokens",
	"maxtokens":    "max_tokens",
	"seed":         "seed",
	"timeout":      "timeout",
	"delay":        "delay",
	"max_retries":  "max_retries",
	"maxretries":   "max_retries",
	"backoff_base": "backoff_base",
	"backoffbase":  "backoff_base",
	"persist":      "persist",
}

// Resolve builds the effective configuration for one call.
// block is the provider's config block (may be nil); overrides are
// test-level fields (may be nil).
func (r *Resolver) Resolve(vendor string, block, overrides map[string]any) (*Effective, *eval.Error) {
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	merged := make(map[string]any)
	extra := make(map[string]any)

	// Lowest of the two explicit layers first so overrides win.
	for _, layer := range []map[string]any{block, overrides} {
		for key, value := range layer {
			if canonical, ok := aliases[strings.ToLower(key)]; ok {
				merged[canonical] = value
			} else {
				extra[key] = value
			}
		}
	}

	// Environment fills the gaps below explicit config. Order matters when
	// two variables map to the same field: BASE_URL beats API_BASE_URL.
	prefix := strings.ToUpper(vendor)
	for _, envVar := range []struct {
		name      string
		canonical string
	}{
		{prefix + "_API_KEY", "api_key"},
		{prefix + "_BASE_URL", "base_url"},
		{prefix + "_API_BASE_URL", "base_url"},
		{prefix + "_ORGANIZATION", "organization"},
	} {
		if _, set := merged[envVar.canonical]; set {
			continue
		}
		if val := getenv(envVar.name); val != "" {
			merged[envVar.canonical] = val
		}
	}

	eff := &Effective{
		Vendor:      vendor,
		Timeout:     r.Defaults.Timeout,
		Delay:       r.Defaults.Delay,
		MaxRetries:  r.Defaults.MaxRetries,
		BackoffBase: r.Defaults.BackoffBase,
		Extra:       extra,
	}

	for canonical, value := range merged {
		if err := r.apply(eff, canonical, value); err != nil {
			return nil, err
		}
	}

	if err := r.resolveFileRefs(eff); err != nil {
		return nil, err
	}

	needsKey := r.RequiresKey == nil || r.RequiresKey(vendor)
	if needsKey && eff.APIKey == "" {
		return nil, eval.NewConfigError("api_key",
			"no API key for vendor %q: set %s_API_KEY or the api_key config field", vendor, prefix)
	}
	return eff, nil
}

func (r *Resolver) apply(eff *Effective, canonical string, value any) *eval.Error {
	switch canonical {
	case "api_key":
		return applyString(&eff.APIKey, canonical, value)
	case "base_url":
		return applyString(&eff.BaseURL, canonical, value)
	case "organization":
		return applyString(&eff.Organization, canonical, value)
	case "temperature":
		return applyFloatPtr(&eff.Temperature, canonical, value)
	case "top_p":
		return applyFloatPtr(&eff.TopP, canonical, value)
	case "max_tokens":
		return applyIntPtr(&eff.MaxTokens, canonical, value)
	case "seed":
		return applyIntPtr(&eff.Seed, canonical, value)
	case "timeout":
		return applyDuration(&eff.Timeout, canonical, value)
	case "delay":
		return applyDuration(&eff.Delay, canonical, value)
	case "backoff_base":
		return applyDuration(&eff.BackoffBase, canonical, value)
	case "max_retries":
		var n *int
		if err := applyIntPtr(&n, canonical, value); err != nil {
			return err
		}
		if *n < 0 {
			return eval.NewConfigError(canonical, "must not be negative, got %d", *n)
		}
		eff.MaxRetries = *n
		return nil
	case "persist":
		b, ok := value.(bool)
		if !ok {
			return eval.NewConfigError(canonical, "expected bool, got %T", value)
		}
		eff.Persist = b
		return nil
	}
	return nil
}

// resolveFileRefs substitutes file://path values with the file contents.
func (r *Resolver) resolveFileRefs(eff *Effective) *eval.Error {
	readFile := r.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	deref := func(field string, value *string) *eval.Error {
		if !strings.HasPrefix(*value, "file://") {
			return nil
		}
		path := strings.TrimPrefix(*value, "file://")
		data, err := readFile(path)
		if err != nil {
			return eval.NewConfigError(field, "cannot read %s: %v", path, err)
		}
		*value = strings.TrimSpace(string(data))
		return nil
	}
	if err := deref("api_key", &eff.APIKey); err != nil {
		return err
	}
	for key, value := range eff.Extra {
		if s, ok := value.(string); ok && strings.HasPrefix(s, "file://") {
			path := strings.TrimPrefix(s, "file://")
			data, err := readFile(path)
			if err != nil {
				return eval.NewConfigError(key, "cannot read %s: %v", path, err)
			}
			eff.Extra[key] = strings.TrimSpace(string(data))
		}
	}
	return nil
}

func applyString(dst *string, field string, value any) *eval.Error {
	s, ok := value.(string)
	if !ok {
		return eval.NewConfigError(field, "expected string, got %T", value)
	}
	*dst = s
	return nil
}

func applyFloatPtr(dst **float64, field string, value any) *eval.Error {
	switch v := value.(type) {
	case float64:
		*dst = &v
	case int:
		f := float64(v)
		*dst = &f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return eval.NewConfigError(field, "invalid number %q", v)
		}
		*dst = &f
	default:
		return eval.NewConfigError(field, "expected number, got %T", value)
	}
	return nil
}

func applyIntPtr(dst **int, field string, value any) *eval.Error {
	switch v := value.(type) {
	case int:
		*dst = &v
	case float64:
		n := int(v)
		if float64(n) != v {
			return eval.NewConfigError(field, "expected integer, got %v", v)
		}
		*dst = &n
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return eval.NewConfigError(field, "invalid integer %q", v)
		}
		*dst = &n
	default:
		return eval.NewConfigError(field, "expected integer, got %T", value)
	}
	return nil
}

// applyDuration accepts Go duration strings ("30s") or bare numbers,
// which are read as milliseconds.
func applyDuration(dst *time.Duration, field string, value any) *eval.Error {
	switch v := value.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return eval.NewConfigError(field, "invalid duration %q", v)
		}
		*dst = d
	case int:
		*dst = time.Duration(v) * time.Millisecond
	case float64:
		*dst = time.Duration(v) * time.Millisecond
	default:
		return eval.NewConfigError(field, "expected duration, got %T", value)
	}
	if *dst < 0 {
		return eval.NewConfigError(field, "must not be negative, got %v", fmt.Sprint(value))
	}
	return nil
}
