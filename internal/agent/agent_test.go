package agent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/audit"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/gateway"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/masking"
	"github.com/glebarez/sqlite"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestToolNameEncoding(t *testing.T) {
	assert.Equal(t, "mysql__query", EncodeToolName("mysql.query"))
	assert.Equal(t, "mysql.query", DecodeToolName("mysql__query"))
	assert.Equal(t, "plain", EncodeToolName("plain"))
	assert.Equal(t, "plain", DecodeToolName("plain"))
}

// echoConnector 测试用连接器
type echoConnector struct{}

func (echoConnector) Type() string         { return "mysql" }
func (echoConnector) ConnectionID() string { return "conn-1" }
func (echoConnector) Close() error         { return nil }

func (echoConnector) ListTools() []gateway.ToolDefinition {
	return []gateway.ToolDefinition{
		{Name: "query", Description: "执行查询", Parameters: map[string]any{"type": "object"}},
	}
}

func (echoConnector) CallTool(ctx context.Context, name string, params map[string]any) (*gateway.CallResult, error) {
	return &gateway.CallResult{Success: true, Data: map[string]any{"rows": []any{"r1"}}}, nil
}

// scriptedClient 按脚本返回的假模型客户端
type scriptedClient struct {
	responses []openai.ChatCompletionResponse
	requests  []openai.ChatCompletionRequest
}

func (s *scriptedClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return openai.ChatCompletionResponse{}, fmt.Errorf("脚本已耗尽")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func textResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	}
}

func toolCallResponse(name, arguments string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{
					{
						ID:   "call-1",
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      name,
							Arguments: arguments,
						},
					},
				},
			}},
		},
	}
}

func newTestGateway(t *testing.T) (*gateway.Dispatcher, *audit.Recorder) {
	dsn := fmt.Sprintf("file:agent_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&audit.AuditLog{}))

	registry := gateway.NewRegistry()
	registry.Register(echoConnector{})
	recorder := audit.NewRecorder(db, masking.New())
	return gateway.NewDispatcher(registry, recorder, masking.New(), nil, time.Second), recorder
}

func TestAgent_Chat(t *testing.T) {
	ctx := context.Background()

	t.Run("无需工具时直接回答", func(t *testing.T) {
		dispatcher, _ := newTestGateway(t)
		client := &scriptedClient{responses: []openai.ChatCompletionResponse{
			textResponse("직접 답변"),
		}}
		agent := NewAgent(client, "test-model")

		resp, err := agent.Chat(ctx, dispatcher, &ChatRequest{UserID: "alice", Query: "안녕"})
		require.NoError(t, err)
		assert.Equal(t, "직접 답변", resp.Answer)
		assert.Empty(t, resp.ToolCalls)
	})

	t.Run("工具调用经网关执行并审计", func(t *testing.T) {
		dispatcher, recorder := newTestGateway(t)
		client := &scriptedClient{responses: []openai.ChatCompletionResponse{
			toolCallResponse("mysql__query", `{"sql":"SELECT 1"}`),
			textResponse("조회 결과는 1건입니다"),
		}}
		agent := NewAgent(client, "test-model")

		resp, err := agent.Chat(ctx, dispatcher, &ChatRequest{UserID: "alice", Query: "고객 수 조회"})
		require.NoError(t, err)
		assert.Equal(t, "조회 결과는 1건입니다", resp.Answer)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "mysql.query", resp.ToolCalls[0].ToolName)
		assert.Equal(t, "success", resp.ToolCalls[0].Status)
		assert.NotEmpty(t, resp.ToolCalls[0].AuditID)

		_, total, err := recorder.Query(ctx, &audit.QueryFilter{UserID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("模型看到的工具名不含点号", func(t *testing.T) {
		dispatcher, _ := newTestGateway(t)
		client := &scriptedClient{responses: []openai.ChatCompletionResponse{
			textResponse("ok"),
		}}
		agent := NewAgent(client, "test-model")

		_, err := agent.Chat(ctx, dispatcher, &ChatRequest{UserID: "alice", Query: "q"})
		require.NoError(t, err)
		require.Len(t, client.requests, 1)
		require.NotEmpty(t, client.requests[0].Tools)
		assert.Equal(t, "mysql__query", client.requests[0].Tools[0].Function.Name)
	})

	t.Run("超过最大轮数返回错误", func(t *testing.T) {
		dispatcher, _ := newTestGateway(t)
		var responses []openai.ChatCompletionResponse
		for i := 0; i < 10; i++ {
			responses = append(responses, toolCallResponse("mysql__query", `{}`))
		}
		client := &scriptedClient{responses: responses}
		agent := NewAgent(client, "test-model")

		_, err := agent.Chat(ctx, dispatcher, &ChatRequest{UserID: "alice", Query: "loop"})
		assert.Error(t, err)
	})
}
