// Package slack implements the Slack DM surface: request signature
// verification, the message grammar routing DMs to operations, and
// posting responses back in mrkdwn.
package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// signatures older or newer than this are rejected
const timestampMaxAge = 5 * time.Minute

// VerifySignature checks a Slack v0 request signature against the
// signing secret, rejecting stale timestamps.
func VerifySignature(signingSecret, timestamp, body, signature string) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := time.Now().Unix() - ts
	if age < 0 {
		age = -age
	}
	if age > int64(timestampMaxAge.Seconds()) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(signingSecret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Mode is the operation a DM routes to.
type Mode string

const (
	ModeTell Mode = "tell"
	ModeAsk  Mode = "ask"
	ModeGet  Mode = "get"
)

// ParsedMessage is the result of applying the DM grammar.
type ParsedMessage struct {
	Mode    Mode
	Body    string
	IssueID string // set only for "tell wi_x: ..." messages
}

var (
	getPattern  = regexp.MustCompile(`(?i)^get\s+(wi_\S+)`)
	tellPattern = regexp.MustCompile(`(?is)^tell\s+(wi_\S+):\s*(.+)`)
)

// ParseMessage routes a DM: "?question" asks, "get wi_x" retrieves,
// "tell wi_x: msg" appends to a thread, anything else is a bare tell.
func ParseMessage(text string) ParsedMessage {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, "?") {
		return ParsedMessage{Mode: ModeAsk, Body: strings.TrimSpace(trimmed[1:])}
	}
	if m := getPattern.FindStringSubmatch(trimmed); m != nil {
		return ParsedMessage{Mode: ModeGet, Body: m[1]}
	}
	if m := tellPattern.FindStringSubmatch(trimmed); m != nil {
		return ParsedMessage{Mode: ModeTell, Body: strings.TrimSpace(m[2]), IssueID: m[1]}
	}
	return ParsedMessage{Mode: ModeTell, Body: trimmed}
}

var (
	mdLinkPattern  = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	boldPattern    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	issueRefOrLink = regexp.MustCompile(`<[^>]*>|wi_[A-Za-z0-9]+`)
)

// FormatForSlack converts markdown output to mrkdwn and, when baseURL
// is set, turns bare issue ids into dashboard links. Ids already inside
// links are left alone.
func FormatForSlack(text, baseURL string) string {
	out := mdLinkPattern.ReplaceAllString(text, "<$2|$1>")
	out = boldPattern.ReplaceAllString(out, "*$1*")
	if baseURL == "" {
		return out
	}
	return issueRefOrLink.ReplaceAllStringFunc(out, func(m string) string {
		if strings.HasPrefix(m, "<") {
			return m
		}
		return fmt.Sprintf("<%s/issue/%s|%s>", baseURL, m, m)
	})
}
