package session

import "fmt"

// MaxNameLen caps session names; they become directory names under
// ~/.hearth/sessions, so the accepted alphabet is deliberately narrow
// and case is forced lowercase to keep paths portable.
const MaxNameLen = 64

// ValidateName checks that name is usable as a session directory name:
// 1 to MaxNameLen bytes, each one of [a-z0-9_-].
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("session name %q exceeds %d characters", name, MaxNameLen)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return fmt.Errorf("session name %q: character %q not allowed, use [a-z0-9_-]", name, c)
		}
	}
	return nil
}
