// Package wakeword 唤醒词匹配：将识别文本转换为无声调拼音后与唤醒词做包含与模糊匹配
package wakeword

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mozillazg/go-pinyin"
)

const (
	// DefaultPhrase 默认唤醒词（小灵）
	DefaultPhrase = "xiaoling"
	// DefaultThreshold 默认模糊匹配阈值
	DefaultThreshold = 0.75

	keyCacheSize = 1024
)

var nasalReplacer = strings.NewReplacer("ang", "an", "eng", "en", "ing", "in")

// Matcher 唤醒词匹配器，并发安全
type Matcher struct {
	target     string
	normalized string
	threshold  float64
	keys       *lru.Cache[string, string]
}

// NewMatcher 创建匹配器
// phrase 可以是汉字（小灵）也可以是拼音（xiaoling）
func NewMatcher(phrase string, threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	keys, _ := lru.New[string, string](keyCacheSize)
	m := &Matcher{
		threshold: threshold,
		keys:      keys,
	}
	m.target = m.PhoneticKey(phrase)
	if m.target == "" {
		m.target = DefaultPhrase
	}
	m.normalized = NormalizeNasal(m.target)
	return m
}

// Target 返回唤醒词的拼音键
func (m *Matcher) Target() string {
	return m.target
}

// Threshold 返回模糊匹配阈值
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// PhoneticKey 将文本转换为只包含小写字母的拼音键
func (m *Matcher) PhoneticKey(text string) string {
	if text == "" {
		return ""
	}
	if key, ok := m.keys.Get(text); ok {
		return key
	}
	key := PhoneticKey(text)
	m.keys.Add(text, key)
	return key
}

// IsWakeWord 判断识别文本是否命中唤醒词
func (m *Matcher) IsWakeWord(text string) bool {
	key := m.PhoneticKey(text)
	if key == "" {
		return false
	}

	if strings.Contains(key, m.target) {
		return true
	}

	// 前后鼻音归一后再比较
	normalized := NormalizeNasal(key)
	if strings.Contains(normalized, m.normalized) {
		return true
	}

	if Similarity(normalized, m.normalized) >= m.threshold {
		return true
	}

	// 等长滑动窗口
	size := len(m.normalized)
	for i := 0; i+size <= len(normalized); i++ {
		if Similarity(normalized[i:i+size], m.normalized) >= m.threshold {
			return true
		}
	}
	return false
}

// PhoneticKey 汉字转无声调拼音，非汉字字母保留，其余字符丢弃
func PhoneticKey(text string) string {
	args := pinyin.NewArgs()
	args.Style = pinyin.Normal
	args.Fallback = func(r rune, a pinyin.Args) []string {
		return []string{string(r)}
	}

	var sb strings.Builder
	for _, syllable := range pinyin.Pinyin(text, args) {
		if len(syllable) == 0 {
			continue
		}
		for _, r := range strings.ToLower(syllable[0]) {
			if r >= 'a' && r <= 'z' {
				sb.WriteRune(r)
			}
		}
	}
	return sb.String()
}

// NormalizeNasal 后鼻音统一为前鼻音（ang/eng/ing -> an/en/in）
func NormalizeNasal(key string) string {
	return nasalReplacer.Replace(key)
}

// Similarity 基于编辑距离的相似度：1 - distance/max(len)
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

var defaultMatcher = NewMatcher(DefaultPhrase, DefaultThreshold)

// IsWakeWord 使用默认唤醒词判断
func IsWakeWord(text string) bool {
	return defaultMatcher.IsWakeWord(text)
}
