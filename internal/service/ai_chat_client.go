package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatCompletionStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type aiChatRequest struct {
	SystemPrompt string
	Messages     []chatMessage
	MaxTokens    int
	Temperature  float64
}

type aiChatClient struct {
	settings        *SystemSettingService
	http            httpDoer
	openAIBaseURL   string
	openAIModel     string
	deepSeekBaseURL string
	deepSeekModel   string
}

func newAIChatClient(settings *SystemSettingService, openAIModel, deepSeekModel string) *aiChatClient {
	return &aiChatClient{
		settings:        settings,
		http:            &http.Client{Timeout: 180 * time.Second},
		openAIBaseURL:   "https://api.openai.com/v1",
		openAIModel:     strings.TrimSpace(openAIModel),
		deepSeekBaseURL: "https://api.deepseek.com/v1",
		deepSeekModel:   strings.TrimSpace(deepSeekModel),
	}
}

func (c *aiChatClient) SetHTTPClient(client httpDoer) {
	if client == nil {
		c.http = &http.Client{Timeout: 180 * time.Second}
		return
	}
	c.http = client
}

// resolveProvider 根据系统设置选出平台的 key/base/model/label。
func (c *aiChatClient) resolveProvider(settings SystemSettings) (apiKey, base, model, label string) {
	provider := normalizeAIProvider(settings.AIProvider)
	if provider == "" {
		provider = AIProviderOpenAI
	}

	switch provider {
	case AIProviderDeepSeek:
		apiKey = strings.TrimSpace(settings.DeepSeekAPIKey)
		base = c.deepSeekBaseURL
		model = c.deepSeekModel
		label = "DeepSeek"
	default:
		apiKey = strings.TrimSpace(settings.OpenAIAPIKey)
		base = c.openAIBaseURL
		model = c.openAIModel
		label = "OpenAI"
	}
	return apiKey, base, model, label
}

func (c *aiChatClient) buildRequest(ctx context.Context, settings SystemSettings, req aiChatRequest) (*http.Request, string, error) {
	apiKey, base, model, label := c.resolveProvider(settings)
	if apiKey == "" {
		return nil, label, ErrAIAPIKeyMissing
	}

	maxTokens := req.MaxTokens
	if maxTokens < 0 {
		maxTokens = 0
	}

	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, req.Messages...)

	payload := chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, label, fmt.Errorf("构造请求失败: %w", err)
	}

	endpoint := strings.TrimRight(base, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, label, fmt.Errorf("创建 %s 请求失败: %w", label, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("User-Agent", "dayflow-ai/1.0")

	return httpReq, label, nil
}

// streamWithSettings 以 SSE 方式调用对话接口，按到达顺序逐块回调，
// 返回拼接后的完整回复。
func (c *aiChatClient) streamWithSettings(ctx context.Context, settings SystemSettings, req aiChatRequest, onDelta func(delta string)) (string, error) {
	httpReq, label, err := c.buildRequest(ctx, settings, req)
	if err != nil {
		return "", err
	}

	client := c.http
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("请求 %s 接口失败: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("%s 接口返回错误：%s", label, msg)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk chatCompletionStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("%s 流式响应错误：%s", label, chunk.Error.Message)
		}

		for _, choice := range chunk.Choices {
			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			full.WriteString(delta)
			if onDelta != nil {
				onDelta(delta)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("读取 %s 流式响应失败: %w", label, err)
	}

	return full.String(), nil
}
