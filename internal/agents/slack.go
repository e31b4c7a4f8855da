package agents

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opentalon/idpportal/internal/agents/rest"
	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

const slackDefaultURL = "https://slack.com/api"

const slackCharter = `You are a Slack communication agent for the IDP Portal.
You send messages and structured notifications, create channels and post incident updates.
Keep messages short and use the incident format for anything incident related.`

var severityColors = map[string]string{
	"info":    "#2563eb",
	"warning": "#f59e0b",
	"error":   "#ef4444",
	"success": "#22c55e",
}

// SlackClient posts to the Slack Web API. It also serves as the scheduler's
// notifier.
type SlackClient struct {
	c              *rest.Client
	defaultChannel string
	now            func() time.Time
}

// NewSlackClient validates cfg and builds a bot-token client.
func NewSlackClient(cfg config.SlackConfig) (*SlackClient, error) {
	if cfg.Token == "" {
		return nil, errors.New("slack token is required")
	}
	base := cfg.URL
	if base == "" {
		base = slackDefaultURL
	}
	return newSlackClient(rest.New("slack", base, rest.WithBearer(cfg.Token)), cfg.DefaultChannel), nil
}

func newSlackClient(c *rest.Client, defaultChannel string) *SlackClient {
	return &SlackClient{c: c, defaultChannel: defaultChannel, now: time.Now}
}

type slackResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Channel any    `json:"channel"`
	TS      string `json:"ts"`
}

// call posts to a Web API method. Slack reports failures with ok=false on
// a 200 response.
func (s *SlackClient) call(ctx context.Context, method string, body map[string]any) (*slackResponse, error) {
	var res slackResponse
	if err := s.c.Post(ctx, "/"+method, body, &res); err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("slack %s: %s", method, res.Error)
	}
	return &res, nil
}

func (s *SlackClient) channel(ch string) (string, error) {
	if ch == "" {
		ch = s.defaultChannel
	}
	if ch == "" {
		return "", errors.New("channel is required")
	}
	return ch, nil
}

// Notify posts content to channel, or to the default channel when empty.
func (s *SlackClient) Notify(ctx context.Context, channel, content string) error {
	ch, err := s.channel(channel)
	if err != nil {
		return err
	}
	_, err = s.call(ctx, "chat.postMessage", map[string]any{"channel": ch, "text": content})
	return err
}

// NewSlack builds the slack agent.
func NewSlack(env *orchestrator.Env) (orchestrator.Handler, error) {
	client, err := NewSlackClient(backends(env).Slack)
	if err != nil {
		return nil, err
	}
	return newSlack(env, client), nil
}

func newSlack(env *orchestrator.Env, s *SlackClient) *orchestrator.ToolAgent {
	manifest := orchestrator.CapabilityManifest{
		Name:        "slack",
		Description: "Sends Slack messages, notifications and incident updates, and creates channels",
		Capabilities: []orchestrator.Capability{
			{Name: "messaging", Description: "Send messages and notifications",
				Tools: []string{"send_message", "send_notification", "post_incident_update"}},
			{Name: "channel_management", Description: "Create channels", Tools: []string{"create_channel"}},
		},
	}
	ch := str("channel", "Channel name or id")
	if s.defaultChannel != "" {
		ch.Description += ", default " + strconv.Quote(s.defaultChannel)
	}
	return orchestrator.NewToolAgent(env, manifest, slackCharter,
		orchestrator.NewTool("send_message", "Send a plain text message", []provider.Parameter{
			ch, required(str("text", "Message text")),
		}, s.sendMessage),
		orchestrator.NewTool("create_channel", "Create a channel", []provider.Parameter{
			required(str("name", "Channel name")), boolean("is_private", "Private channel"),
		}, s.createChannel),
		orchestrator.NewTool("post_incident_update", "Post a formatted incident update", []provider.Parameter{
			ch, required(str("incident_title", "Incident title")),
			required(str("status", "Incident status")), str("details", "Details"),
		}, s.incidentUpdate),
		orchestrator.NewTool("send_notification", "Send a notification colored by severity", []provider.Parameter{
			ch, required(str("title", "Title")), required(str("message", "Message")),
			str("severity", "info, warning, error or success; default info"),
		}, s.notification),
	)
}

func (s *SlackClient) sendMessage(ctx context.Context, args map[string]any) (any, error) {
	ch, err := s.channel(orchestrator.String(args, "channel", ""))
	if err != nil {
		return nil, err
	}
	res, err := s.call(ctx, "chat.postMessage", map[string]any{"channel": ch, "text": orchestrator.String(args, "text", "")})
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "channel": res.Channel, "ts": res.TS}, nil
}

func (s *SlackClient) createChannel(ctx context.Context, args map[string]any) (any, error) {
	private, err := orchestrator.Bool(args, "is_private", false)
	if err != nil {
		return nil, err
	}
	res, err := s.call(ctx, "conversations.create", map[string]any{"name": orchestrator.String(args, "name", ""), "is_private": private})
	if err != nil {
		return nil, err
	}
	info, _ := res.Channel.(map[string]any)
	return map[string]any{"channel_id": info["id"], "name": info["name"]}, nil
}

func (s *SlackClient) incidentUpdate(ctx context.Context, args map[string]any) (any, error) {
	ch, err := s.channel(orchestrator.String(args, "channel", ""))
	if err != nil {
		return nil, err
	}
	title := orchestrator.String(args, "incident_title", "")
	updated := fmt.Sprintf("<!date^%d^{date_short} {time}|now>", s.now().Unix())
	blocks := []any{
		map[string]any{"type": "header", "text": map[string]any{"type": "plain_text", "text": "Incident: " + title}},
		map[string]any{"type": "section", "fields": []any{
			map[string]any{"type": "mrkdwn", "text": "*Status:*\n" + orchestrator.String(args, "status", "")},
			map[string]any{"type": "mrkdwn", "text": "*Updated:*\n" + updated},
		}},
		map[string]any{"type": "section", "text": map[string]any{"type": "mrkdwn", "text": orchestrator.String(args, "details", "-")}},
		map[string]any{"type": "divider"},
	}
	if _, err := s.call(ctx, "chat.postMessage", map[string]any{"channel": ch, "blocks": blocks, "text": "Incident Update: " + title}); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "channel": ch}, nil
}

func (s *SlackClient) notification(ctx context.Context, args map[string]any) (any, error) {
	ch, err := s.channel(orchestrator.String(args, "channel", ""))
	if err != nil {
		return nil, err
	}
	color, ok := severityColors[orchestrator.String(args, "severity", "info")]
	if !ok {
		color = severityColors["info"]
	}
	title := orchestrator.String(args, "title", "")
	attachments := []any{map[string]any{
		"color": color,
		"blocks": []any{map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": "*" + title + "*\n" + orchestrator.String(args, "message", "")},
		}},
	}}
	if _, err := s.call(ctx, "chat.postMessage", map[string]any{"channel": ch, "attachments": attachments, "text": title}); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "channel": ch}, nil
}
