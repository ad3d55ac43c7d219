package masking

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/metrics"
)

// rule 单条脱敏规则：字段值匹配正则后执行替换。
// 规则按注册顺序依次应用，顺序即优先级，不可变。
type rule struct {
	name    string
	re      *regexp.Regexp
	replace func(groups []string) string
}

// Masker 敏感信息脱敏引擎
//
// 内置规则（顺序固定）:
//   - 居民登记号: ******-*******
//   - 卡号:     ****-****-****-3456
//   - 邮箱:     k**@company.com
//   - 手机号:   010-****-5678
//   - 账号:     110-***-***789
//
// 纯函数实现：不做 I/O，对非法输入不抛出，未匹配的值原样返回。
type Masker struct {
	rules []rule
}

// New 创建带内置规则的脱敏引擎
func New() *Masker {
	return &Masker{rules: builtinRules()}
}

func builtinRules() []rule {
	return []rule{
		{
			// 居民登记号: 6位-7位（连字符可省略）
			name: "ssn",
			re:   regexp.MustCompile(`\b(\d{6})-?(\d{7})\b`),
			replace: func(groups []string) string {
				return "******-*******"
			},
		},
		{
			// 卡号: 4-4-4-4（连字符可省略），保留末四位
			name: "card",
			re:   regexp.MustCompile(`\b(\d{4})-?(\d{4})-?(\d{4})-?(\d{4})\b`),
			replace: func(groups []string) string {
				return "****-****-****-" + groups[4]
			},
		},
		{
			// 邮箱: 保留首字符与域名
			name: "email",
			re:   regexp.MustCompile(`\b([a-zA-Z0-9._%+-]+)@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})\b`),
			replace: func(groups []string) string {
				local, domain := groups[1], groups[2]
				return local[:1] + strings.Repeat("*", len(local)-1) + "@" + domain
			},
		},
		{
			// 手机号: 010-1234-5678 或 01012345678，遮蔽中间段
			name: "phone",
			re:   regexp.MustCompile(`\b(01[016789])-?(\d{3,4})-?(\d{4})\b`),
			replace: func(groups []string) string {
				return groups[1] + "-****-" + groups[3]
			},
		},
		{
			// 账号: 3位-中段-尾段，保留首段与末三位
			name: "account",
			re:   regexp.MustCompile(`\b(\d{3})-(\d{2,6})-(\d{2,6})\b`),
			replace: func(groups []string) string {
				tail := groups[3]
				starred := len(tail) - 3
				if starred < 0 {
					starred = 0
				}
				keep := tail
				if len(tail) > 3 {
					keep = tail[len(tail)-3:]
				}
				return groups[1] + "-" + strings.Repeat("*", len(groups[2])) + "-" +
					strings.Repeat("*", starred) + keep
			},
		},
	}
}

// MaskString 对字符串中的敏感信息脱敏
func (m *Masker) MaskString(text string) string {
	if text == "" {
		return text
	}
	result := text
	for _, r := range m.rules {
		re := r.re
		replace := r.replace
		replaced := re.ReplaceAllStringFunc(result, func(match string) string {
			groups := re.FindStringSubmatch(match)
			if groups == nil {
				return match
			}
			return replace(groups)
		})
		if replaced != result {
			metrics.MaskingApplied.WithLabelValues(r.name).Inc()
		}
		result = replaced
	}
	return result
}

// MaskMap 递归脱敏字典中所有字符串值（键永不脱敏）
func (m *Masker) MaskMap(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	masked := make(map[string]any, len(data))
	for key, value := range data {
		masked[key] = m.maskScalar(value)
	}
	return masked
}

// MaskList 递归脱敏列表中所有值
func (m *Masker) MaskList(data []any) []any {
	if data == nil {
		return nil
	}
	masked := make([]any, 0, len(data))
	for _, item := range data {
		masked = append(masked, m.maskScalar(item))
	}
	return masked
}

func (m *Masker) maskScalar(value any) any {
	switch v := value.(type) {
	case string:
		return m.MaskString(v)
	case map[string]any:
		return m.MaskMap(v)
	case []any:
		return m.MaskList(v)
	default:
		// 非字符串标量原样返回
		return value
	}
}

// MaskPayload 脱敏任意 MCP 载荷
//
// 字符串先尝试按 JSON 解析，解析成功则对结构脱敏后返回结构；
// 解析失败按普通文本脱敏。其余类型递归处理或原样返回。
func (m *Masker) MaskPayload(payload any) any {
	if payload == nil {
		return nil
	}
	if text, ok := payload.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err == nil {
			switch p := parsed.(type) {
			case map[string]any:
				return m.MaskMap(p)
			case []any:
				return m.MaskList(p)
			}
		}
		return m.MaskString(text)
	}
	return m.maskScalar(payload)
}
