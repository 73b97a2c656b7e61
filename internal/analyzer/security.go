package analyzer

import (
	"regexp"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
)

// securityRule matches one added line against a known-bad construct.
type securityRule struct {
	id         string
	severity   string
	message    string
	suggestion string
	pattern    *regexp.Regexp
	// exclude suppresses a match, e.g. reading a secret from the env
	exclude *regexp.Regexp
}

var securityRules = []securityRule{
	{
		id:         "security/hardcoded-secret",
		severity:   config.SeverityError,
		message:    "possible hardcoded credential",
		suggestion: "load secrets from the environment or a secret store",
		pattern:    regexp.MustCompile(`(?i)\b(password|passwd|secret|api_?key|auth_?token|private_?key|access_?key)\b\s*[:=]\s*["'][^"']{4,}["']`),
		exclude:    regexp.MustCompile(`(?i)(os\.getenv|os\.environ|getenv\(|process\.env|example|placeholder|changeme|\$\{)`),
	},
	{
		id:         "security/weak-hash",
		severity:   config.SeverityWarning,
		message:    "weak hash algorithm (md5/sha1)",
		suggestion: "use sha256 or stronger for anything security sensitive",
		pattern:    regexp.MustCompile(`(?i)(hashlib\.(md5|sha1)\b|crypto/(md5|sha1)|createHash\(["'](md5|sha1)["']\)|MessageDigest\.getInstance\(["'](MD5|SHA-?1)["']\))`),
	},
	{
		id:         "security/command-injection",
		severity:   config.SeverityError,
		message:    "shell command built from dynamic input",
		suggestion: "pass arguments as a list instead of interpolating into a shell string",
		pattern:    regexp.MustCompile(`(os\.system\(.*[+%]|subprocess\.\w+\(.*shell\s*=\s*True|exec\.Command\(\s*["'](sh|bash)["']\s*,\s*["']-c["'].*[+%]|child_process\.exec\(.*[+\x60])`),
	},
	{
		id:       "security/eval-usage",
		severity: config.SeverityError,
		message:  "eval/exec on dynamic data",
		pattern:  regexp.MustCompile(`(?:^|[^\w.])(eval|exec)\s*\(`),
		exclude:  regexp.MustCompile(`(exec\.Command|\.exec\(|executor|execute)`),
	},
	{
		id:         "security/sql-concat",
		severity:   config.SeverityError,
		message:    "SQL statement built by string concatenation",
		suggestion: "use parameterized queries",
		pattern:    regexp.MustCompile(`(?i)["'](SELECT\s|INSERT\s+INTO|UPDATE\s+\w+\s+SET|DELETE\s+FROM)[^"']*["']\s*(\+|%)|(?i)f["'](SELECT\s|INSERT\s+INTO|UPDATE\s|DELETE\s+FROM)[^"']*\{`),
	},
	{
		id:       "security/insecure-tls",
		severity: config.SeverityError,
		message:  "TLS certificate verification disabled",
		pattern:  regexp.MustCompile(`(InsecureSkipVerify\s*:\s*true|verify\s*=\s*False|rejectUnauthorized\s*:\s*false|CURLOPT_SSL_VERIFYPEER,\s*0)`),
	},
}

// checkSecurity runs the security rules over the added lines of one file.
func checkSecurity(fc *FileChange, rules *config.Rules) []Finding {
	var findings []Finding
	for _, line := range fc.Added {
		for _, rule := range securityRules {
			if !rule.pattern.MatchString(line.Text) {
				continue
			}
			if rule.exclude != nil && rule.exclude.MatchString(line.Text) {
				continue
			}
			findings = emit(findings, rules, Finding{
				RuleID:     rule.id,
				Category:   CategorySecurity,
				Severity:   rule.severity,
				File:       fc.Path,
				Line:       line.Number,
				Message:    rule.message,
				Suggestion: rule.suggestion,
			})
		}
	}
	return findings
}
