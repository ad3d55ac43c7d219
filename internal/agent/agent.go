package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/gateway"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// 单轮对话允许的最大工具调用轮数
const maxToolRounds = 8

const systemPrompt = `你是企业内部数据助手。用户的问题需要查询外部系统时，调用合适的工具获取数据后再回答。
回答使用用户的语言。不要编造工具没有返回的数据。`

// ChatCompleter 聊天补全客户端，便于测试替换
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatRequest 一次代理对话请求
type ChatRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query" binding:"required"`
}

// ToolCallRecord 对话期间发生的一次工具调用摘要
type ToolCallRecord struct {
	ToolName        string `json:"tool_name"`
	Status          string `json:"status"`
	AuditID         string `json:"audit_id,omitempty"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

// ChatResponse 代理对话结果
type ChatResponse struct {
	Answer    string           `json:"answer"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
}

// Agent LLM 工具调用代理
//
// 把网关工具暴露给模型，模型返回 tool_calls 时经网关执行，
// 执行结果（脱敏后）回填对话继续推理，最多 maxToolRounds 轮。
type Agent struct {
	client ChatCompleter
	model  string
}

// NewAgent 创建代理
func NewAgent(client ChatCompleter, model string) *Agent {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Agent{client: client, model: model}
}

// Chat 执行一次完整的代理对话
func (a *Agent) Chat(ctx context.Context, dispatcher *gateway.Dispatcher, req *ChatRequest) (*ChatResponse, error) {
	tools := buildOpenAITools(dispatcher.ListTools())
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: req.Query},
	}

	var records []ToolCallRecord
	for round := 0; round < maxToolRounds; round++ {
		resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    a.model,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return nil, fmt.Errorf("模型调用失败: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("模型未返回结果")
		}

		message := resp.Choices[0].Message
		if len(message.ToolCalls) == 0 {
			return &ChatResponse{Answer: message.Content, ToolCalls: records}, nil
		}

		messages = append(messages, message)
		for _, toolCall := range message.ToolCalls {
			result, record := a.executeToolCall(ctx, dispatcher, req, toolCall)
			records = append(records, record)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: toolCall.ID,
				Content:    result,
			})
		}
	}
	return nil, fmt.Errorf("超过最大工具调用轮数（%d）", maxToolRounds)
}

// executeToolCall 经网关执行一次模型发起的工具调用
func (a *Agent) executeToolCall(ctx context.Context, dispatcher *gateway.Dispatcher, req *ChatRequest, toolCall openai.ToolCall) (string, ToolCallRecord) {
	toolName := DecodeToolName(toolCall.Function.Name)

	var params map[string]any
	if toolCall.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &params); err != nil {
			logger.Warn("工具参数解析失败",
				zap.String("tool_name", toolName), zap.Error(err))
		}
	}

	resp := dispatcher.Dispatch(ctx, &gateway.ToolCallRequest{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		UserQuery: req.Query,
		ToolName:  toolName,
		Params:    params,
	})
	record := ToolCallRecord{
		ToolName:        toolName,
		Status:          resp.Status,
		AuditID:         resp.AuditID,
		ExecutionTimeMS: resp.ExecutionTimeMS,
	}

	payload := map[string]any{"success": resp.Success, "status": resp.Status}
	if resp.Result != nil {
		payload["result"] = resp.Result
	}
	if resp.Error != "" {
		payload["error"] = resp.Error
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return `{"status":"fail","error":"结果序列化失败"}`, record
	}
	return string(raw), record
}

// buildOpenAITools 把网关工具转成 OpenAI 函数定义
func buildOpenAITools(definitions []gateway.ToolDefinition) []openai.Tool {
	tools := make([]openai.Tool, 0, len(definitions))
	for _, def := range definitions {
		params := def.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        EncodeToolName(def.Name),
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// EncodeToolName 把 "mysql.query" 编码为模型可用的 "mysql__query"。
// OpenAI 的函数名不允许出现点号。
func EncodeToolName(name string) string {
	return strings.ReplaceAll(name, ".", "__")
}

// DecodeToolName 还原网关工具名
func DecodeToolName(name string) string {
	return strings.Replace(name, "__", ".", 1)
}
