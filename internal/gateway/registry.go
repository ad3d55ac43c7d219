package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrToolNotFound 未注册的工具
var ErrToolNotFound = errors.New("未找到对应的工具")

// Registry 连接器注册表
//
// 工具全名为 "<连接器类型>.<工具名>"，如 mysql.query。
// 同一类型注册多个连接器时后注册的覆盖先注册的。
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register 注册连接器，同类型覆盖旧实例并关闭它
func (r *Registry) Register(connector Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.connectors[connector.Type()]; ok {
		_ = old.Close()
	}
	r.connectors[connector.Type()] = connector
}

// Unregister 注销并关闭连接器
func (r *Registry) Unregister(connectorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.connectors[connectorType]; ok {
		_ = old.Close()
		delete(r.connectors, connectorType)
	}
}

// Resolve 按工具全名找到连接器和去前缀的工具名
func (r *Registry) Resolve(toolName string) (Connector, string, error) {
	prefix, local, ok := strings.Cut(toolName, ".")
	if !ok || prefix == "" || local == "" {
		return nil, "", fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}

	r.mu.RLock()
	connector, exists := r.connectors[prefix]
	r.mu.RUnlock()
	if !exists {
		return nil, "", fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}

	for _, tool := range connector.ListTools() {
		if tool.Name == local {
			return connector, local, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
}

// ListTools 列出全部可用工具（带类型前缀），按名称排序
func (r *Registry) ListTools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tools []ToolDefinition
	for connectorType, connector := range r.connectors {
		for _, tool := range connector.ListTools() {
			tool.Name = connectorType + "." + tool.Name
			tools = append(tools, tool)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Connectors 返回当前注册的连接器快照
func (r *Registry) Connectors() map[string]Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]Connector, len(r.connectors))
	for k, v := range r.connectors {
		snapshot[k] = v
	}
	return snapshot
}

// Close 关闭全部连接器
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connectorType, connector := range r.connectors {
		_ = connector.Close()
		delete(r.connectors, connectorType)
	}
}
