package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/audit"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/connection"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"
	"github.com/JOSSEP-ENG/ai-agent-logging/internal/masking"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Manager 按用户组装网关
//
// 每个用户的活跃连接构建成一个 Registry 并缓存，
// 连接配置变化后调用 Invalidate 触发重建。
type Manager struct {
	connections *connection.Service
	recorder    *audit.Recorder
	masker      *masking.Masker
	permission  PermissionChecker
	timeout     time.Duration

	mu         sync.Mutex
	registries map[string]*Registry
}

// NewManager 创建网关管理器
func NewManager(connections *connection.Service, recorder *audit.Recorder, masker *masking.Masker, permission PermissionChecker, timeout time.Duration) *Manager {
	return &Manager{
		connections: connections,
		recorder:    recorder,
		masker:      masker,
		permission:  permission,
		timeout:     timeout,
		registries:  make(map[string]*Registry),
	}
}

// DispatcherFor 返回用户的调度器，注册表按需构建
func (m *Manager) DispatcherFor(ctx context.Context, userID string) (*Dispatcher, error) {
	registry, err := m.registryFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewDispatcher(registry, m.recorder, m.masker, m.permission, m.timeout), nil
}

// Invalidate 丢弃用户的注册表缓存，下次调用时重建
func (m *Manager) Invalidate(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if registry, ok := m.registries[userID]; ok {
		registry.Close()
		delete(m.registries, userID)
	}
}

// Close 关闭全部注册表
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, registry := range m.registries {
		registry.Close()
		delete(m.registries, userID)
	}
}

// TestConnection 试建连接器以验证连通性，成功后立即释放
func (m *Manager) TestConnection(ctx context.Context, ownerID, connectionID string) error {
	conn, err := m.connections.Get(ctx, ownerID, connectionID)
	if err != nil {
		return err
	}
	connector, err := m.buildConnector(ctx, conn)
	if err != nil {
		return err
	}
	return connector.Close()
}

func (m *Manager) registryFor(ctx context.Context, userID string) (*Registry, error) {
	m.mu.Lock()
	if registry, ok := m.registries[userID]; ok {
		m.mu.Unlock()
		return registry, nil
	}
	m.mu.Unlock()

	registry, err := m.buildRegistry(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.registries[userID]; ok {
		// 并发构建时保留先注册的
		registry.Close()
		return existing, nil
	}
	m.registries[userID] = registry
	return registry, nil
}

// buildRegistry 根据用户的活跃连接构建注册表
func (m *Manager) buildRegistry(ctx context.Context, userID string) (*Registry, error) {
	conns, err := m.connections.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	for _, conn := range conns {
		if !conn.IsActive {
			continue
		}
		connector, err := m.buildConnector(ctx, conn)
		if err != nil {
			// 单个连接失败不影响其他连接器
			logger.Warn("连接器构建失败，跳过",
				zap.String("connection_id", conn.ID),
				zap.String("type", string(conn.Type)),
				zap.Error(err))
			continue
		}
		registry.Register(connector)
	}
	return registry, nil
}

func (m *Manager) buildConnector(ctx context.Context, conn *connection.Connection) (Connector, error) {
	creds, err := m.connections.Credentials(conn)
	if err != nil {
		return nil, err
	}

	switch conn.Type {
	case connection.TypeMySQL:
		cfg := &MySQLConfig{
			Host:     stringConfig(conn.Config, "host"),
			Port:     intConfig(conn.Config, "port"),
			Database: stringConfig(conn.Config, "database"),
			Username: creds["username"],
			Password: creds["password"],
			ReadOnly: boolConfig(conn.Config, "read_only", true),
			MaxRows:  intConfig(conn.Config, "max_rows"),
		}
		return NewMySQLConnector(ctx, conn.ID, cfg)

	case connection.TypeHTTP, connection.TypeOAuth:
		cfg, err := parseHTTPConfig(conn.Config)
		if err != nil {
			return nil, err
		}
		cfg.BearerToken = creds["token"]

		var tokenSource oauth2.TokenSource
		if conn.Type == connection.TypeOAuth {
			token, err := m.connections.OAuthToken(conn)
			if err != nil {
				return nil, err
			}
			tokenSource = oauth2.StaticTokenSource(token)
		}
		return NewHTTPConnector(conn.ID, cfg, tokenSource)

	default:
		return nil, fmt.Errorf("不支持的连接类型: %s", conn.Type)
	}
}

// parseHTTPConfig 从连接配置还原 HTTP 连接器配置
func parseHTTPConfig(config map[string]any) (*HTTPConfig, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("序列化连接配置失败: %w", err)
	}
	var cfg HTTPConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("解析 HTTP 连接配置失败: %w", err)
	}
	return &cfg, nil
}

func stringConfig(config map[string]any, key string) string {
	v, _ := config[key].(string)
	return v
}

func intConfig(config map[string]any, key string) int {
	switch v := config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func boolConfig(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return fallback
}
