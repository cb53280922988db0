// Package redact detects and masks secrets in recorded bytes before
// persistence. Built-in patterns never fail; only a malformed
// user-supplied custom pattern produces a redaction-error.
package redact

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/tapedeck-dev/tapedeck/internal/tapeerr"
)

// Category names a secret pattern for the <REDACTED:CATEGORY> placeholder.
type Category string

const (
	CategoryBearerToken    Category = "BEARER_TOKEN"
	CategoryAWSAccessKeyID Category = "AWS_ACCESS_KEY_ID"
	CategoryAWSSecretKey   Category = "AWS_SECRET_ACCESS_KEY"
	CategoryPEMKey         Category = "PRIVATE_KEY"
)

// placeholderRe matches an already-redacted value, so re-scanning redacted
// output never reports a fresh finding.
var placeholderRe = regexp.MustCompile(`^<REDACTED:[A-Z0-9_]+>$`)

// kvAssignment captures key, separator, optional quote, and value
// separately so a replacement can keep the "key=" prefix and quoting
// intact instead of swallowing the whole assignment.
var kvAssignment = regexp.MustCompile(`(?i)(password|passwd|token|secret|apikey|api_key|access_key|private_key)(\s*[:=]\s*)(["']?)([^\s"']{4,})(["']?)`)

var awsSecretKV = regexp.MustCompile(`(?i)(aws_secret_access_key)(\s*[:=]\s*)(["']?)([A-Za-z0-9/+=]{40})(["']?)`)

// Pattern is one detection rule: Regex finds candidates, Category names the
// finding. A kv-shaped pattern's Category is derived per-match from the
// captured key name instead of being fixed.
type Pattern struct {
	Category Category
	Regex    *regexp.Regexp
	kv       bool // true: category comes from capture group 1 (uppercased)
}

var builtins = []Pattern{
	{CategoryBearerToken, regexp.MustCompile(`\bBearer\s+[A-Za-z0-9._~+/-]{8,}=*`), false},
	{"", kvAssignment, true},
	{CategoryAWSAccessKeyID, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), false},
	{CategoryAWSSecretKey, awsSecretKV, true},
	{CategoryPEMKey, regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`), false},
}

// Disabled reports whether CC_REDACT=0 is set in the environment. Nothing
// in this module consults it: Engine applies the built-in patterns whether
// or not it is set, and recording does not check it.
func Disabled() bool {
	return os.Getenv("CC_REDACT") == "0"
}

// Engine applies built-in plus optional custom patterns.
type Engine struct {
	patterns []Pattern
}

// New constructs an Engine with the built-ins plus any custom patterns.
// A malformed custom pattern produces a redaction-error immediately; it is
// never deferred to call time.
func New(custom map[Category]string) (*Engine, error) {
	patterns := make([]Pattern, len(builtins), len(builtins)+len(custom))
	copy(patterns, builtins)
	for cat, expr := range custom {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, tapeerr.New(tapeerr.RedactionError, fmt.Sprintf("custom pattern %q is malformed: %v", cat, err)).WithCause(err)
		}
		patterns = append(patterns, Pattern{Category: cat, Regex: re, kv: false})
	}
	return &Engine{patterns: patterns}, nil
}

// kvValueAlreadyRedacted reports whether a kv-shaped match's captured value
// is already a <REDACTED:...> placeholder.
func kvValueAlreadyRedacted(re *regexp.Regexp, match []byte) bool {
	sub := re.FindSubmatch(match)
	if sub == nil || len(sub) < 5 {
		return false
	}
	return placeholderRe.Match(sub[4])
}

// Redact replaces each match with <REDACTED:CATEGORY>. A key/value match
// keeps its key, separator and quotes; punctuation directly after an
// unquoted value counts as part of the value and is replaced with it. It
// never fails.
func (e *Engine) Redact(b []byte) []byte {
	out := b
	for _, p := range e.patterns {
		re := p.Regex
		cat := p.Category
		kv := p.kv
		out = re.ReplaceAllFunc(out, func(match []byte) []byte {
			if kv {
				sub := re.FindSubmatch(match)
				if sub == nil {
					return match
				}
				key, sep, quote, value := sub[1], sub[2], sub[3], sub[4]
				if placeholderRe.Match(value) {
					return match // idempotent: already redacted
				}
				mcat := strings.ToUpper(string(key))
				out := append(append([]byte{}, key...), sep...)
				out = append(out, quote...)
				out = append(out, []byte(fmt.Sprintf("<REDACTED:%s>", mcat))...)
				out = append(out, quote...)
				return out
			}
			return []byte(fmt.Sprintf("<REDACTED:%s>", cat))
		})
	}
	return out
}

// Scan reports which categories are still present, without mutation. Used
// by the tape-validation tool to prove redaction soundness. For a kv-shaped
// rule (whose category depends on the matched key) it reports the specific
// uppercased key name, matching what Redact would have used, and skips
// values that are already <REDACTED:...> placeholders.
func (e *Engine) Scan(b []byte) map[string]bool {
	found := make(map[string]bool)
	for _, p := range e.patterns {
		re := p.Regex
		for _, m := range re.FindAll(b, -1) {
			if p.kv {
				if kvValueAlreadyRedacted(re, m) {
					continue
				}
				sub := re.FindSubmatch(m)
				found[strings.ToUpper(string(sub[1]))] = true
				continue
			}
			found[string(p.Category)] = true
		}
	}
	return found
}

// Default is the built-in-only engine, safe to share across goroutines
// since regexp.Regexp is read-only after compile.
var Default = &Engine{patterns: builtins}
