package masking

import (
	"fmt"
	"os"
	"regexp"

	"github.com/JOSSEP-ENG/ai-agent-logging/internal/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// CustomRule 自定义脱敏规则（YAML 文件定义）
type CustomRule struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// RuleFile 自定义规则文件结构
type RuleFile struct {
	Rules []CustomRule `yaml:"rules"`
}

// LoadRuleFile 从 YAML 文件加载自定义规则，追加到内置规则之后。
// 非法正则跳过并告警，不中断加载。
func (m *Masker) LoadRuleFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取脱敏规则文件失败: %w", err)
	}

	var file RuleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("解析脱敏规则文件失败: %w", err)
	}

	for _, cr := range file.Rules {
		re, err := regexp.Compile(cr.Pattern)
		if err != nil {
			logger.Warn("跳过非法脱敏规则",
				zap.String("rule", cr.Name),
				zap.String("pattern", cr.Pattern),
				zap.Error(err),
			)
			continue
		}
		replacement := cr.Replacement
		if replacement == "" {
			replacement = "[MASKED]"
		}
		m.rules = append(m.rules, rule{
			name: cr.Name,
			re:   re,
			replace: func(groups []string) string {
				return replacement
			},
		})
	}
	return nil
}
