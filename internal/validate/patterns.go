package validate

import "regexp"

// blockedPattern is one entry in the dangerous-pattern table. The table is
// data, not control flow, so classes can be tested and extended independently.
type blockedPattern struct {
	class string
	re    *regexp.Regexp
}

// Pattern class names cited in rejection reasons.
const (
	ClassFilesystemDestructive = "filesystem_destructive"
	ClassSQLDestructive        = "sql_destructive"
	ClassCodeExecution         = "code_execution"
	ClassPrivilegedShell       = "privileged_shell"
	ClassMassCommunication     = "mass_communication"
)

// blockedPatterns is screened against the serialized parameters and execution
// steps of every proposal, regardless of intent.
var blockedPatterns = []blockedPattern{
	// Destructive filesystem commands.
	{ClassFilesystemDestructive, regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)\b`)},
	{ClassFilesystemDestructive, regexp.MustCompile(`(?i)\brm\s+-r\b`)},
	{ClassFilesystemDestructive, regexp.MustCompile(`(?i)\bmkfs(\.\w+)?\b`)},
	{ClassFilesystemDestructive, regexp.MustCompile(`(?i)\bformat\s+[a-z]:`)},
	{ClassFilesystemDestructive, regexp.MustCompile(`(?i)\bdd\s+if=.*\bof=/dev/`)},
	// Destructive SQL statements.
	{ClassSQLDestructive, regexp.MustCompile(`(?i)\bdrop\s+(table|database|schema)\b`)},
	{ClassSQLDestructive, regexp.MustCompile(`(?i)\btruncate\s+table\b`)},
	{ClassSQLDestructive, regexp.MustCompile(`(?i)\bdelete\s+from\s+\w+\s*;?\s*$`)},
	// Dynamic code execution.
	{ClassCodeExecution, regexp.MustCompile(`(?i)\beval\s*\(`)},
	{ClassCodeExecution, regexp.MustCompile(`(?i)\bexec\s*\(`)},
	{ClassCodeExecution, regexp.MustCompile(`(?i)\bos\.system\s*\(`)},
	{ClassCodeExecution, regexp.MustCompile(`(?i)\bsubprocess\.(run|call|popen)\b`)},
	// Privileged shell invocation.
	{ClassPrivilegedShell, regexp.MustCompile(`(?i)\bsudo\s+`)},
	{ClassPrivilegedShell, regexp.MustCompile(`(?i)\bsu\s+-\b`)},
	{ClassPrivilegedShell, regexp.MustCompile(`(?i)\bdoas\s+`)},
	// Mass-communication keywords.
	{ClassMassCommunication, regexp.MustCompile(`(?i)\bbroadcast\b`)},
	{ClassMassCommunication, regexp.MustCompile(`(?i)\bbulk\s+(sms|message|mail|send)\b`)},
	{ClassMassCommunication, regexp.MustCompile(`(?i)\bmass[\s-]?(message|messaging|text|mail)\b`)},
}
