package analyzer

import (
	"testing"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
)

func TestSecurityRules(t *testing.T) {
	tests := []struct {
		name string
		line string
		rule string
	}{
		{"hardcoded password", `password = "hunter22"`, "security/hardcoded-secret"},
		{"hardcoded api key", `API_KEY: "sk-abcdef0123456789"`, "security/hardcoded-secret"},
		{"weak hash python", `digest = hashlib.md5(data).hexdigest()`, "security/weak-hash"},
		{"weak hash node", `crypto.createHash("sha1")`, "security/weak-hash"},
		{"weak hash java", `MessageDigest.getInstance("MD5")`, "security/weak-hash"},
		{"command injection concat", `os.system("rm -rf " + path)`, "security/command-injection"},
		{"command injection shell", `subprocess.run(cmd, shell=True)`, "security/command-injection"},
		{"eval", `result = eval(user_input)`, "security/eval-usage"},
		{"sql concat", `cursor.execute("SELECT * FROM users WHERE id = " + user_id)`, "security/sql-concat"},
		{"sql fstring", `query = f"SELECT * FROM users WHERE id = {user_id}"`, "security/sql-concat"},
		{"insecure tls go", `TLSClientConfig: &tls.Config{InsecureSkipVerify: true},`, "security/insecure-tls"},
		{"insecure tls python", `requests.get(url, verify=False)`, "security/insecure-tls"},
	}
	rules := config.DefaultRules()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := fileWithLines("app.py", tt.line)
			findings := checkSecurity(fc, rules)
			if findRule(findings, tt.rule) == nil {
				t.Errorf("expected %s for %q, got %+v", tt.rule, tt.line, findings)
			}
		})
	}
}

func TestSecurityNoFalsePositives(t *testing.T) {
	lines := []string{
		`password = os.getenv("DB_PASSWORD")`,
		`token := os.Getenv("GITHUB_TOKEN")`,
		`cmd := exec.Command("git", "fetch", remote)`,
		`rows, err := db.Query("SELECT id FROM repos WHERE owner = ?", owner)`,
		`h := sha256.New()`,
	}
	rules := config.DefaultRules()
	for _, line := range lines {
		fc := fileWithLines("app.go", line)
		if findings := checkSecurity(fc, rules); len(findings) != 0 {
			t.Errorf("unexpected findings for %q: %+v", line, findings)
		}
	}
}

func TestSecuritySeverities(t *testing.T) {
	fc := fileWithLines("app.py",
		`password = "hunter22"`,
		`digest = hashlib.md5(data).hexdigest()`,
	)
	findings := checkSecurity(fc, config.DefaultRules())

	if f := findRule(findings, "security/hardcoded-secret"); f == nil || f.Severity != config.SeverityError {
		t.Errorf("expected error severity for hardcoded secret, got %+v", f)
	}
	if f := findRule(findings, "security/weak-hash"); f == nil || f.Severity != config.SeverityWarning {
		t.Errorf("expected warning severity for weak hash, got %+v", f)
	}
}
