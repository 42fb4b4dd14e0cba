package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"trackd/internal/slack"
)

// how long a dispatched Slack handler may run after the webhook acks
const slackDispatchTimeout = 60 * time.Second

type slackEvent struct {
	Type        string `json:"type"`
	ChannelType string `json:"channel_type"`
	BotID       string `json:"bot_id"`
	Subtype     string `json:"subtype"`
	Text        string `json:"text"`
	Channel     string `json:"channel"`
	TS          string `json:"ts"`
}

type slackPayload struct {
	Type      string      `json:"type"`
	Challenge string      `json:"challenge"`
	Event     *slackEvent `json:"event"`
}

// slackWebhook handles Slack event callbacks. Events are acked
// immediately and processed asynchronously; Slack retries are dropped
// so slow pipelines do not produce duplicate issues.
func (s *Server) slackWebhook(w http.ResponseWriter, r *http.Request) {
	if s.slack == nil || s.cfg.SlackSigningSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "Slack integration not configured")
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	timestamp := r.Header.Get("X-Slack-Request-Timestamp")
	signature := r.Header.Get("X-Slack-Signature")

	var payload slackPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if !slack.VerifySignature(s.cfg.SlackSigningSecret, timestamp, string(rawBody), signature) {
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	if payload.Type == "url_verification" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": payload.Challenge})
		return
	}

	if retry := r.Header.Get("X-Slack-Retry-Num"); retry != "" {
		s.log.Warn("slack retry dropped", "reason", r.Header.Get("X-Slack-Retry-Reason"))
		w.WriteHeader(http.StatusOK)
		return
	}

	event := payload.Event
	if event == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Only handle DMs from real users.
	if event.Type != "message" || event.ChannelType != "im" || event.BotID != "" || event.Subtype != "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	go s.dispatchSlackMessage(event.Text, event.Channel, event.TS)

	w.WriteHeader(http.StatusOK)
}

// dispatchSlackMessage routes a DM through the pipelines and posts the
// result back into the thread.
func (s *Server) dispatchSlackMessage(text, channel, threadTS string) {
	ctx, cancel := context.WithTimeout(context.Background(), slackDispatchTimeout)
	defer cancel()

	parsed := slack.ParseMessage(text)
	var result string
	switch parsed.Mode {
	case slack.ModeAsk:
		result = s.pipeline.Ask(ctx, parsed.Body)
	case slack.ModeGet:
		result = s.pipeline.Get(ctx, parsed.Body)
	default:
		result = s.pipeline.Tell(ctx, parsed.Body, parsed.IssueID)
	}

	reply := slack.FormatForSlack(result, s.cfg.BaseURL)
	if err := s.slack.PostMessage(ctx, channel, reply, threadTS); err != nil {
		s.log.Error("slack post failed", "channel", channel, "error", err)
	}
}
