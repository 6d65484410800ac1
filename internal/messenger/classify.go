package messenger

import (
	"regexp"
	"strings"
)

// Gateway-internal message types that must never surface as a conversation
// preview: group membership changes, call logs, revocations, encryption
// notices and other protocol chatter.
var systemMessageTypes = map[string]struct{}{
	"gp2":                   {},
	"call_log":              {},
	"revoked":               {},
	"e2e_notification":      {},
	"notification":          {},
	"notification_template": {},
	"protocol":              {},
	"ciphertext":            {},
	"groups_v4_invite":      {},
}

// Membership-change phrasing observed in gateway-localized system bodies.
// The gateway localizes these per account language; Spanish and English
// cover the deployed tenants.
var systemBodyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)añadió a`),
	regexp.MustCompile(`(?i)salió del grupo`),
	regexp.MustCompile(`(?i)eliminó a`),
	regexp.MustCompile(`(?i)cambió el asunto`),
	regexp.MustCompile(`(?i)\badded\b.*\bto the group\b`),
	regexp.MustCompile(`(?i)\bleft the group\b`),
	regexp.MustCompile(`(?i)\bremoved\b.*\bfrom the group\b`),
	regexp.MustCompile(`(?i)\bjoined using this group's invite link\b`),
	regexp.MustCompile(`(?i)\bchanged the subject\b`),
	regexp.MustCompile(`(?i)\bmissed (voice|video) call\b`),
	regexp.MustCompile(`(?i)\bllamada (perdida|de voz perdida)\b`),
}

// IsSystemMessage reports whether a message is gateway-internal chatter
// rather than conversational content.
func IsSystemMessage(m Message) bool {
	if _, ok := systemMessageTypes[m.Type]; ok {
		return true
	}
	for _, re := range systemBodyPatterns {
		if re.MatchString(m.Body) {
			return true
		}
	}
	return false
}

// IsListableChat reports whether a gateway-reported chat belongs in the
// conversation cache. Broadcast/status pseudo-chats, read-only channel
// threads and malformed group IDs are excluded.
func IsListableChat(c Chat) bool {
	if c.ID == "" {
		return false
	}
	if strings.HasSuffix(c.ID, "@broadcast") {
		return false
	}
	if strings.HasSuffix(c.ID, "@newsletter") || c.IsReadOnly {
		return false
	}
	if c.IsGroup && !validGroupID(c.ID) {
		return false
	}
	return true
}

var groupIDPattern = regexp.MustCompile(`^[0-9][0-9-]*@g\.us$`)

func validGroupID(id string) bool {
	return groupIDPattern.MatchString(id)
}

// PreviewLimit bounds the preview text stored per conversation.
const PreviewLimit = 120

// TruncatePreview shortens a message body for listing display.
func TruncatePreview(body string) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= PreviewLimit {
		return body
	}
	return string(runes[:PreviewLimit-1]) + "…"
}

// IsGroupChatID reports whether a chat ID addresses a group conversation.
func IsGroupChatID(id string) bool {
	return strings.HasSuffix(id, "@g.us")
}
