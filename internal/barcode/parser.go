// Package barcode 将粘贴的 GS1 条码文本解析为待入库的条码记录。
package barcode

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"labelgate/backend/internal/domain"
)

// Marker 线性码所在的 GS1 应用标识符
const Marker = "(91)"

const snippetLength = 50

var (
	// ErrEmptyInput 输入中没有任何非空行
	ErrEmptyInput = errors.New("no valid barcode values found")
	// ErrMissingMarker 行内缺少 (91) 标识
	ErrMissingMarker = errors.New("missing required (91) code")
	// ErrExtraction 找到 (91) 但无法提取线性码
	ErrExtraction = errors.New("could not extract linear value after (91)")
)

// extractionRules 按优先级排列，第一个得到非空结果的规则生效
var extractionRules = []struct {
	pattern  *regexp.Regexp
	truncate bool
}{
	{pattern: regexp.MustCompile(`\(91\)([^(]+)\(8008\)`)},
	{pattern: regexp.MustCompile(`\(91\)([^(]+)`)},
	{pattern: regexp.MustCompile(`\(91\)(\d+)`)},
	{pattern: regexp.MustCompile(`\(91\)\s*([^(\s]+)`)},
	{pattern: regexp.MustCompile(`\(91\)([^)]+)`), truncate: true},
}

// LineError 单行解析失败
type LineError struct {
	LineNumber int    `json:"lineNumber"`
	Line       string `json:"line"`
	Reason     string `json:"reason"`
	Err        error  `json:"-"`
}

func (e *LineError) Error() string {
	return e.Reason
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Result 解析结果，部分行失败不影响其余行
type Result struct {
	Accepted []domain.BarcodeCandidate `json:"accepted"`
	Rejected []LineError               `json:"rejected"`
}

// Parse 按行解析条码文本
//
// 每行去除首尾空白，空行忽略；行号按非空行计数，从 1 开始。
// 只有在没有任何非空行时返回 ErrEmptyInput。
func Parse(text string) (*Result, error) {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil, ErrEmptyInput
	}

	result := &Result{
		Accepted: make([]domain.BarcodeCandidate, 0, len(lines)),
		Rejected: []LineError{},
	}
	for i, line := range lines {
		linear, err := ExtractLinearValue(line)
		if err != nil {
			result.Rejected = append(result.Rejected, LineError{
				LineNumber: i + 1,
				Line:       line,
				Reason:     fmt.Sprintf("Line %d: %s in %q", i+1, reasonText(err), snippet(line)),
				Err:        err,
			})
			continue
		}
		result.Accepted = append(result.Accepted, domain.BarcodeCandidate{
			GS1Value:    line,
			LinearValue: linear,
		})
	}
	return result, nil
}

// ExtractLinearValue 从单行 GS1 文本中提取 (91) 之后的线性码
func ExtractLinearValue(line string) (string, error) {
	value, _, err := extract(line)
	return value, err
}

// extract 返回线性码以及命中的规则序号（从 1 开始）
func extract(line string) (string, int, error) {
	line = strings.TrimSpace(line)
	if !strings.Contains(line, Marker) {
		return "", 0, ErrMissingMarker
	}

	for i, rule := range extractionRules {
		m := rule.pattern.FindStringSubmatch(line)
		if len(m) < 2 {
			continue
		}
		value := m[1]
		if rule.truncate {
			if idx := strings.Index(value, "("); idx >= 0 {
				value = value[:idx]
			}
		}
		if value = strings.TrimSpace(value); value != "" {
			return value, i + 1, nil
		}
	}
	return "", 0, ErrExtraction
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func reasonText(err error) string {
	switch {
	case errors.Is(err, ErrMissingMarker):
		return "Missing required (91) code"
	case errors.Is(err, ErrExtraction):
		return "Could not extract linear value after (91)"
	default:
		return err.Error()
	}
}

// snippet 按字符截断，不拆分多字节字符
func snippet(line string) string {
	r := []rune(line)
	if len(r) <= snippetLength {
		return line
	}
	return string(r[:snippetLength]) + "..."
}
