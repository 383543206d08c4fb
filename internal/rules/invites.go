package rules

import (
	"regexp"
	"strings"
)

// Invite-domain patterns, including the obfuscations raiders use to slip
// past naive matching.
var invitePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)discord(?:app)?\.com/invite/[a-z0-9-]+`),
	regexp.MustCompile(`(?i)discord\.gg/[a-z0-9-]+`),
	regexp.MustCompile(`(?i)\bdsc\.gg/[a-z0-9-]+`),
	regexp.MustCompile(`(?i)\bdiscord\s*(?:\.|\bdot\b)\s*gg\b`),
	regexp.MustCompile(`(?i)d[i1]sc[o0]rd\.(?:gg|com)/`),
	regexp.MustCompile(`(?i)discord\s+invite:?\s*[a-z0-9-]{4,}`),
}

// Other chat platforms' invite links, matched as plain keywords.
var otherPlatformInvites = []string{
	"t.me/",
	"telegram.me/",
	"chat.whatsapp.com/",
	"guilded.gg/",
	"matrix.to/#/",
}

// ContainsInvite reports whether content carries a known or obfuscated
// invite link. The grace-period monitor uses this too.
func ContainsInvite(content string) bool {
	for _, pattern := range invitePatterns {
		if pattern.MatchString(content) {
			return true
		}
	}
	lower := strings.ToLower(content)
	for _, keyword := range otherPlatformInvites {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
