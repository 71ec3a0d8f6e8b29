package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrCommandBlocked indicates a command rejected by the deny list.
var ErrCommandBlocked = errors.New("command blocked by security policy")

// MaxCommandLength bounds the raw command string (DoS protection).
const MaxCommandLength = 10000

// deniedWords are standalone program or builtin names that are never
// allowed, matched token-wise so "su" does not block "sunset.txt".
var deniedWords = []string{
	"sudo", "su", "doas",
	"shutdown", "reboot", "halt", "poweroff",
	"mkfs", "fdisk", "parted",
	"passwd", "useradd", "userdel", "usermod",
	"iptables", "nft",
	"insmod", "rmmod", "modprobe",
}

// deniedPhrases are matched as whitespace-normalized, case-insensitive
// substrings of the whole command line.
var deniedPhrases = []string{
	"rm -rf /",
	"rm -fr /",
	"format c:",
	"del /s /q",
	"chmod 777",
	"chmod -r 777",
	"chown root",
	"dd if=",
	":(){ :|:& };:",
}

// deniedPatterns catch obfuscated variants that the word and phrase
// checks miss. All are applied case-insensitively.
var deniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)\s+/`),
	regexp.MustCompile(`(?i)mkfs(\.\w+)?\b`),
	regexp.MustCompile(`(?i)>\s*/dev/`),
	regexp.MustCompile(`(?i)>\s*/proc/`),
	regexp.MustCompile(`(?i)>\s*/sys/`),
	regexp.MustCompile(`(?i)\bdd\s+if=`),
	regexp.MustCompile(`(?i)\b(curl|wget)\b[^|;&]*\|\s*(ba|z|da)?sh\b`),
	regexp.MustCompile("`"),
	regexp.MustCompile(`\$\(`),
}

// CommandValidator rejects commands matching a deny list of words,
// phrases, and patterns. Matching is conservative: a false positive
// blocks a legitimate command, a false negative runs a hostile one, so
// ties break toward blocking (fail closed).
type CommandValidator struct {
	words    map[string]struct{}
	phrases  []string
	patterns []*regexp.Regexp
}

// NewCommandValidator builds a validator from the built-in deny list
// plus extra phrases from configuration. Extras are matched the same
// way as built-in phrases: normalized, case-insensitive substrings.
func NewCommandValidator(extraPhrases []string) *CommandValidator {
	words := make(map[string]struct{}, len(deniedWords))
	for _, w := range deniedWords {
		words[w] = struct{}{}
	}

	phrases := make([]string, 0, len(deniedPhrases)+len(extraPhrases))
	for _, p := range deniedPhrases {
		phrases = append(phrases, normalize(p))
	}
	for _, p := range extraPhrases {
		if p = normalize(p); p != "" {
			phrases = append(phrases, p)
		}
	}

	return &CommandValidator{
		words:    words,
		phrases:  phrases,
		patterns: deniedPatterns,
	}
}

// Check validates a full command line. It returns nil if the command
// may run, or an error wrapping ErrCommandBlocked naming the matched
// rule. The raw string and a whitespace-normalized form are both
// checked so extra spacing cannot defeat phrase matching.
func (v *CommandValidator) Check(command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("%w: empty command", ErrCommandBlocked)
	}
	if len(command) > MaxCommandLength {
		return fmt.Errorf("%w: command exceeds %d bytes", ErrCommandBlocked, MaxCommandLength)
	}
	if strings.ContainsRune(command, 0) {
		return fmt.Errorf("%w: command contains NUL byte", ErrCommandBlocked)
	}

	norm := normalize(command)

	for _, tok := range strings.Fields(norm) {
		if _, ok := v.words[tok]; ok {
			return fmt.Errorf("%w: %q", ErrCommandBlocked, tok)
		}
	}

	for _, phrase := range v.phrases {
		if strings.Contains(norm, phrase) {
			return fmt.Errorf("%w: matches %q", ErrCommandBlocked, phrase)
		}
	}

	for _, re := range v.patterns {
		if re.MatchString(command) || re.MatchString(norm) {
			return fmt.Errorf("%w: matches pattern %q", ErrCommandBlocked, re.String())
		}
	}

	return nil
}

// normalize lowercases and collapses runs of whitespace to single
// spaces so "rm   -rf  /" matches the "rm -rf /" phrase.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
