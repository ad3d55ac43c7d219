package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// 表名只允许字母数字下划线，防注入
var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// MySQLConfig MySQL 连接器配置
type MySQLConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	// ReadOnly 为 true 时只允许 SELECT
	ReadOnly bool
	// MaxRows 单次查询返回行数上限，0 表示默认 1000
	MaxRows int
}

// MySQLConnector MySQL 连接器
//
// 暴露 query / list_tables / describe_table 三个工具。
// 默认只读，非 SELECT 语句直接拒绝。
type MySQLConnector struct {
	connectionID string
	db           *sql.DB
	readOnly     bool
	maxRows      int
}

// NewMySQLConnector 创建 MySQL 连接器并验证连通性
func NewMySQLConnector(ctx context.Context, connectionID string, cfg *MySQLConfig) (*MySQLConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&timeout=5s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开 MySQL 连接失败: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("MySQL 连接测试失败: %w", err)
	}

	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &MySQLConnector{
		connectionID: connectionID,
		db:           db,
		readOnly:     cfg.ReadOnly,
		maxRows:      maxRows,
	}, nil
}

// Type 连接器类型
func (c *MySQLConnector) Type() string { return "mysql" }

// ConnectionID 所属连接 ID
func (c *MySQLConnector) ConnectionID() string { return c.connectionID }

// ListTools 列出工具定义
func (c *MySQLConnector) ListTools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "query",
			Description: "执行 SQL 查询并返回结果集",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"sql": map[string]any{
						"type":        "string",
						"description": "要执行的 SQL 语句",
					},
				},
				"required": []string{"sql"},
			},
		},
		{
			Name:        "list_tables",
			Description: "列出数据库中的全部表",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "describe_table",
			Description: "查看指定表的字段结构",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"table": map[string]any{
						"type":        "string",
						"description": "表名",
					},
				},
				"required": []string{"table"},
			},
		},
	}
}

// CallTool 执行工具
func (c *MySQLConnector) CallTool(ctx context.Context, name string, params map[string]any) (*CallResult, error) {
	switch name {
	case "query":
		return c.query(ctx, params)
	case "list_tables":
		return c.listTables(ctx)
	case "describe_table":
		return c.describeTable(ctx, params)
	default:
		return nil, fmt.Errorf("%w: mysql.%s", ErrToolNotFound, name)
	}
}

// Close 关闭连接池
func (c *MySQLConnector) Close() error {
	return c.db.Close()
}

func (c *MySQLConnector) query(ctx context.Context, params map[string]any) (*CallResult, error) {
	query, _ := params["sql"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return &CallResult{Success: false, Error: "缺少 sql 参数"}, nil
	}
	if c.readOnly && !isSelectStatement(query) {
		return &CallResult{Success: false, Error: "只读连接只允许执行 SELECT 语句"}, nil
	}
	return c.runQuery(ctx, query)
}

func (c *MySQLConnector) listTables(ctx context.Context) (*CallResult, error) {
	return c.runQuery(ctx, "SHOW TABLES")
}

func (c *MySQLConnector) describeTable(ctx context.Context, params map[string]any) (*CallResult, error) {
	table, _ := params["table"].(string)
	if !tableNamePattern.MatchString(table) {
		return &CallResult{Success: false, Error: "表名无效"}, nil
	}
	return c.runQuery(ctx, "DESCRIBE `"+table+"`")
}

// runQuery 执行查询并把结果集转成 JSON 友好的行列表
func (c *MySQLConnector) runQuery(ctx context.Context, query string) (*CallResult, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return &CallResult{Success: false, Error: err.Error()}, nil
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("读取结果集列信息失败: %w", err)
	}

	var result []map[string]any
	truncated := false
	for rows.Next() {
		if len(result) >= c.maxRows {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("读取结果行失败: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeSQLValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return &CallResult{Success: false, Error: err.Error()}, nil
	}

	data := map[string]any{
		"columns":   columns,
		"rows":      result,
		"row_count": len(result),
	}
	if truncated {
		data["truncated"] = true
	}
	return &CallResult{Success: true, Data: data}, nil
}

// normalizeSQLValue 把驱动返回的字节串还原为字符串
func normalizeSQLValue(value any) any {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}

// isSelectStatement 判断是否为只读查询
func isSelectStatement(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(upper, "SELECT") ||
		strings.HasPrefix(upper, "SHOW") ||
		strings.HasPrefix(upper, "DESCRIBE") ||
		strings.HasPrefix(upper, "EXPLAIN")
}
