package security

import "regexp"

// Rule is one denylist entry: a compiled pattern and the human-readable
// reason surfaced to the caller in the security_denied error.
// The denylist is data, not logic, so it can grow without touching Check.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Reason  string
}

// defaultRules covers the three categories spec.md §4.2 names explicitly:
// process elevation, package-manager installs on the host, and recursive
// deletes on root-ish paths. Patterns match anywhere in the command string
// (word-boundary guarded) so a denied fragment embedded in a longer
// pipeline is still caught.
var defaultRules = []Rule{
	{
		Name:    "sudo",
		Pattern: regexp.MustCompile(`(?i)\bsudo\b`),
		Reason:  "process elevation via sudo is not permitted",
	},
	{
		Name:    "su",
		Pattern: regexp.MustCompile(`(?i)(^|[;&|]\s*)su(\s|$)`),
		Reason:  "process elevation via su is not permitted",
	},
	{
		Name:    "doas",
		Pattern: regexp.MustCompile(`(?i)\bdoas\b`),
		Reason:  "process elevation via doas is not permitted",
	},
	{
		Name:    "apt_install",
		Pattern: regexp.MustCompile(`(?i)\b(apt|apt-get|dpkg)\b.*\b(install|-i)\b`),
		Reason:  "host package manager installs are not permitted",
	},
	{
		Name:    "yum_install",
		Pattern: regexp.MustCompile(`(?i)\b(yum|dnf|rpm)\b.*\binstall\b`),
		Reason:  "host package manager installs are not permitted",
	},
	{
		Name:    "brew_install",
		Pattern: regexp.MustCompile(`(?i)\bbrew\b.*\binstall\b`),
		Reason:  "host package manager installs are not permitted",
	},
	{
		Name:    "pip_system_install",
		Pattern: regexp.MustCompile(`(?i)\bpip[0-9]?\b.*\binstall\b.*(--user|--target|--system)`),
		Reason:  "host-scoped Python package installs are not permitted",
	},
	{
		Name:    "npm_global_install",
		Pattern: regexp.MustCompile(`(?i)\bnpm\b.*\binstall\b.*(-g|--global)`),
		Reason:  "host-scoped npm global installs are not permitted",
	},
	{
		Name:    "recursive_delete_root",
		Pattern: regexp.MustCompile(`(?i)\brm\b\s+(-\w*[rf]\w*\s+)+(-\w*[rf]\w*\s*)*(/|/\*|~|~/\*|\$HOME\b)\s*$`),
		Reason:  "recursive delete of a root-ish path is not permitted",
	},
	{
		Name:    "recursive_delete_root_flag_order",
		Pattern: regexp.MustCompile(`(?i)\brm\b\s+(-\w*[rf]\w*\s+)+(/|/\*|~|~/\*)\b`),
		Reason:  "recursive delete of a root-ish path is not permitted",
	},
	{
		Name:    "fork_bomb",
		Pattern: regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
		Reason:  "fork bombs are not permitted",
	},
	{
		Name:    "disk_wipe",
		Pattern: regexp.MustCompile(`(?i)\b(mkfs|dd)\b.*\b(of=/dev/|if=/dev/)`),
		Reason:  "direct block device access is not permitted",
	},
	{
		Name:    "chmod_root",
		Pattern: regexp.MustCompile(`(?i)\bchmod\b\s+(-R\s+)?[0-7]{3,4}\s+/\s*$`),
		Reason:  "recursive permission changes on a root-ish path are not permitted",
	},
}
