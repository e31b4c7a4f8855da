package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// ClaudeSDKProvider talks to Claude through the official SDK, either
// directly or through AWS Bedrock.
type ClaudeSDKProvider struct {
	id     string
	client anthropic.Client
	models []ModelInfo
}

// ClaudeSDKConfig configures a ClaudeSDKProvider.
type ClaudeSDKConfig struct {
	ID        string
	APIKey    string
	BaseURL   string
	Bedrock   bool
	AWSRegion string
	Models    []ModelInfo
}

// NewClaudeSDKProvider builds the SDK client. With Bedrock enabled the AWS
// default credential chain is used and APIKey is ignored.
func NewClaudeSDKProvider(ctx context.Context, cfg ClaudeSDKConfig) (*ClaudeSDKProvider, error) {
	var opts []option.RequestOption
	if cfg.Bedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider %q: api_key is required", cfg.ID)
		}
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}

	return &ClaudeSDKProvider{
		id:     cfg.ID,
		client: anthropic.NewClient(opts...),
		models: cfg.Models,
	}, nil
}

func (p *ClaudeSDKProvider) ID() string { return p.id }

func (p *ClaudeSDKProvider) Models() []ModelInfo { return p.models }

func (p *ClaudeSDKProvider) SupportsFeature(f Feature) bool {
	return modelsSupport(p.models, f)
}

// Complete sends a Messages request through the SDK.
func (p *ClaudeSDKProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	params, err := p.toParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var sdkErr *anthropic.Error
		if errors.As(err, &sdkErr) {
			return nil, &APIError{Provider: p.id, StatusCode: sdkErr.StatusCode, Message: sdkErr.Error()}
		}
		return nil, fmt.Errorf("messages request: %w", err)
	}

	var parts []string
	var calls []ToolCall
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			parts = append(parts, variant.Text)
		case anthropic.ToolUseBlock:
			args, err := unmarshalArguments(variant.Input)
			if err != nil {
				return nil, fmt.Errorf("tool_use %s: %w", variant.ID, err)
			}
			calls = append(calls, ToolCall{ID: variant.ID, Name: variant.Name, Arguments: args})
		}
	}

	return &CompletionResponse{
		ID:        resp.ID,
		Model:     string(resp.Model),
		Content:   strings.Join(parts, "\n\n"),
		ToolCalls: calls,
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func (p *ClaudeSDKProvider) toParams(req *CompletionRequest) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	var msgs []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			msgs = append(msgs, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
		case RoleAssistant:
			flushResults()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				input, err := marshalArguments(call.Arguments)
				if err != nil {
					return anthropic.MessageNewParams{}, fmt.Errorf("tool call %s: %w", call.ID, err)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) > 0 {
				msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flushResults()
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flushResults()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		System:    system,
		Messages:  msgs,
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Properties(),
					Required:   t.Required(),
				},
			},
		})
	}
	return params, nil
}
