package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirogateway/kiro-gateway/internal/auth"
	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/retry"
)

// BaseURL is the fixed upstream host (spec §6): never derived from the
// credential's SSO region.
const BaseURL = "https://q.us-east-1.amazonaws.com"

// Client dispatches canonical envelopes to the upstream and fetches model
// metadata. It implements retry.Dispatcher and modelinfo.Fetcher.
type Client struct {
	HTTP *http.Client
	Base string
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0} // streaming responses: no blanket client timeout
	}
	return &Client{HTTP: httpClient, Base: BaseURL}
}

type wireToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// wireContentBlock mirrors chatmodel.ContentBlock's tagged-variant shape on
// the wire: only the fields relevant to Type are populated. Carrying the
// full block set (not just text) is required so tool_use/tool_result pairs
// and images survive into the upstream envelope history — collapsing to
// Message.Text() would silently drop every tool call and its result from
// multi-turn agentic conversations.
type wireContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	MediaType string `json:"mediaType,omitempty"`
	Data      string `json:"data,omitempty"`

	ToolUseID string `json:"toolUseId,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     string `json:"input,omitempty"`

	IsError bool `json:"isError,omitempty"`
}

type wireMessage struct {
	Role    string              `json:"role"`
	Content []wireContentBlock  `json:"content"`
}

type wireEnvelope struct {
	ConversationID string               `json:"conversationId"`
	ContinuationID string               `json:"continuationId"`
	TriggerType    string               `json:"triggerType"`
	TaskType       string               `json:"taskType"`
	CurrentMessage []wireContentBlock   `json:"currentMessage"`
	History        []wireMessage        `json:"history"`
	Tools          []wireToolDescriptor `json:"tools,omitempty"`
	ToolChoice     string               `json:"toolChoice,omitempty"`
	ModelID        string               `json:"modelId"`
	ProfileARN     string               `json:"profileArn,omitempty"`
}

func toWireContent(blocks []chatmodel.ContentBlock) []wireContentBlock {
	out := make([]wireContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case chatmodel.BlockText:
			out = append(out, wireContentBlock{Type: "text", Text: b.Text})
		case chatmodel.BlockImage:
			out = append(out, wireContentBlock{Type: "image", MediaType: b.ImageMediaType, Data: b.ImageBase64})
		case chatmodel.BlockToolUse:
			out = append(out, wireContentBlock{Type: "tool_use", ToolUseID: b.ToolUseID, Name: b.ToolName, Input: b.ToolRawArgs})
		case chatmodel.BlockToolResult:
			out = append(out, wireContentBlock{Type: "tool_result", ToolUseID: b.ToolResultForID, Text: b.ToolResultText, IsError: b.ToolResultIsErr})
		}
	}
	return out
}

func toWireEnvelope(env chatmodel.Envelope) wireEnvelope {
	we := wireEnvelope{
		ConversationID: env.ConversationID,
		ContinuationID: env.ContinuationID,
		TriggerType:    env.TriggerType,
		TaskType:       env.TaskType,
		CurrentMessage: toWireContent(env.CurrentUserMessage.Content),
		ModelID:        env.ModelID,
		ProfileARN:     env.ProfileARN,
	}
	for _, m := range env.History {
		we.History = append(we.History, wireMessage{Role: string(m.Role), Content: toWireContent(m.Content)})
	}
	for _, t := range env.Tools {
		we.Tools = append(we.Tools, wireToolDescriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	switch env.ToolChoice.Mode {
	case chatmodel.ToolChoiceNone:
		we.Tools = nil
	case chatmodel.ToolChoiceSpecific:
		we.ToolChoice = env.ToolChoice.Name
	case chatmodel.ToolChoiceAny:
		we.ToolChoice = "any"
	case chatmodel.ToolChoiceAuto, "":
		we.ToolChoice = "auto"
	}
	return we
}

func (c *Client) setHeaders(req *http.Request, authHeader string) {
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", auth.UserAgent)
	req.Header.Set("x-amz-user-agent", auth.AmzUserAgent)
	req.Header.Set(auth.HeaderCodeWhispererOptOut, "true")
	req.Header.Set(auth.HeaderKiroAgentMode, "vibe")
}

// Dispatch implements retry.Dispatcher by POSTing to /generateAssistantResponse.
func (c *Client) Dispatch(ctx context.Context, env chatmodel.Envelope, authHeader string) (*retry.UpstreamResponse, error) {
	body, err := json.Marshal(toWireEnvelope(env))
	if err != nil {
		return nil, fmt.Errorf("encode upstream envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+"/generateAssistantResponse", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	c.setHeaders(req, authHeader)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &retry.UpstreamResponse{StatusCode: resp.StatusCode, Body: resp.Body}, nil
	}

	defer resp.Body.Close()
	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	expiredHint := resp.StatusCode == http.StatusForbidden && looksLikeExpiredCredential(preview)
	return &retry.UpstreamResponse{
		StatusCode:            resp.StatusCode,
		BodyPreview:           string(preview),
		CredentialExpiredHint: expiredHint,
	}, nil
}

func looksLikeExpiredCredential(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "expired") || strings.Contains(s, "invalid") && strings.Contains(s, "token")
}

type listModelsResponse struct {
	Models []struct {
		ModelID          string `json:"modelId"`
		MaxInputTokens   int    `json:"maxInputTokens"`
		SupportsTools    bool   `json:"supportsTools"`
		SupportsThinking bool   `json:"supportsThinking"`
	} `json:"models"`
}

// ListModels implements modelinfo.Fetcher by GETing /ListAvailableModels.
// It needs a bearer token; callers pass one via context using WithAuthHeader.
func (c *Client) ListModels(ctx context.Context) ([]chatmodel.ModelInfo, error) {
	authHeader, _ := ctx.Value(authHeaderKey{}).(string)
	profileARN, _ := ctx.Value(profileARNKey{}).(string)

	url := c.Base + "/ListAvailableModels?origin=AI_EDITOR"
	if profileARN != "" {
		url += "&profileArn=" + profileARN
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build ListAvailableModels request: %w", err)
	}
	c.setHeaders(req, authHeader)
	req.Body = nil

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ListAvailableModels request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, fmt.Errorf("ListAvailableModels unexpected status %d: %s", resp.StatusCode, body)
	}

	var lr listModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode ListAvailableModels response: %w", err)
	}

	now := time.Now()
	out := make([]chatmodel.ModelInfo, 0, len(lr.Models))
	for _, m := range lr.Models {
		out = append(out, chatmodel.ModelInfo{
			ID:               m.ModelID,
			MaxInputTokens:   m.MaxInputTokens,
			SupportsTools:    m.SupportsTools,
			SupportsThinking: m.SupportsThinking,
			FetchedAt:        now,
		})
	}
	return out, nil
}

type authHeaderKey struct{}
type profileARNKey struct{}

// WithAuthHeader attaches the bearer header ListModels needs, since
// modelinfo.Fetcher's interface has no room for one.
func WithAuthHeader(ctx context.Context, header string) context.Context {
	return context.WithValue(ctx, authHeaderKey{}, header)
}

// WithProfileARN attaches an optional profile ARN query parameter for
// ListAvailableModels.
func WithProfileARN(ctx context.Context, arn string) context.Context {
	return context.WithValue(ctx, profileARNKey{}, arn)
}
