// Package circles models safe circles, the trusted contact groups alerts are
// fanned out to.
package circles

import (
	"crypto/rand"
	"strings"
)

// CodeLength is the length of a generated join code.
const CodeLength = 6

// codeAlphabet omits characters that are easy to misread (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Member is one person in a circle and the addresses they can be reached on.
type Member struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phone,omitempty"`
	MessengerID string `json:"messengerId,omitempty"`
}

// Circle is a named group identified by a short join code. A user belongs to
// at most one circle.
type Circle struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Code    string   `json:"code"`
	Members []Member `json:"members"`
}

// Member returns the member with userID.
func (c Circle) Member(userID string) (Member, bool) {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// Recipients returns every member except the trigger.
func (c Circle) Recipients(triggerUserID string) []Member {
	out := make([]Member, 0, len(c.Members))
	for _, m := range c.Members {
		if m.UserID != triggerUserID {
			out = append(out, m)
		}
	}
	return out
}

// NormalizeCode canonicalizes a user-entered join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), " ", ""))
}

// NewCode returns a random join code.
func NewCode() string {
	buf := make([]byte, CodeLength)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
