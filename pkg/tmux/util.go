package tmux

import "strings"

const maxSessionNameLen = 50

// SanitizeForTmuxSession turns arbitrary text into a tmux-safe name:
// lowercase ASCII letters, digits, '-' and '_', with runs of anything
// else collapsed into a single '-'.
func SanitizeForTmuxSession(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			if r == '-' {
				if dash {
					continue
				}
				dash = true
			} else {
				dash = false
			}
			b.WriteRune(r)
			continue
		}
		if !dash {
			b.WriteByte('-')
			dash = true
		}
	}

	name := strings.Trim(b.String(), "-")
	if len(name) > maxSessionNameLen {
		name = strings.TrimRight(name[:maxSessionNameLen], "-")
	}
	if name == "" {
		name = "session"
	}
	return name
}
