package wakeword

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhoneticKey(t *testing.T) {
	assert.Equal(t, "xiaoling", PhoneticKey("小灵"))
	assert.Equal(t, "xiaoling", PhoneticKey("小灵，"))
	assert.Equal(t, "nihaoxiaoling", PhoneticKey("你好 小灵！"))
	assert.Equal(t, "okxiaoling", PhoneticKey("OK小灵"))
	assert.Equal(t, "", PhoneticKey("，。！"))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("xiaoling", "xiaoling"))
	assert.InDelta(t, 0.875, Similarity("xiaolin", "xiaoling"), 1e-9)
	assert.Equal(t, 0.0, Similarity("abc", "xyz"))
}

func TestNormalizeNasal(t *testing.T) {
	assert.Equal(t, "xiaolin", NormalizeNasal("xiaoling"))
	assert.Equal(t, "fenhuan", NormalizeNasal("fenghuang"))
}

func TestMatcher_IsWakeWord(t *testing.T) {
	m := NewMatcher("小灵", 0.75)
	assert.Equal(t, "xiaoling", m.Target())

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"exact", "小灵", true},
		{"with punctuation", "小灵。", true},
		{"embedded", "你好小灵在吗", true},
		{"front nasal", "小林", true},
		{"pinyin input", "xiaolin", true},
		{"fuzzy window", "小宁你好", true},
		{"unrelated", "今天天气怎么样", false},
		{"empty", "", false},
		{"punctuation only", "？？", false},
		{"short", "小", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.IsWakeWord(tt.text))
		})
	}
}

func TestMatcher_Deterministic(t *testing.T) {
	m := NewMatcher(DefaultPhrase, DefaultThreshold)
	for i := 0; i < 3; i++ {
		assert.True(t, m.IsWakeWord("小灵"))
		assert.False(t, m.IsWakeWord("打开空调"))
	}
}

func TestNewMatcher_Defaults(t *testing.T) {
	m := NewMatcher("", 0)
	assert.Equal(t, DefaultPhrase, m.Target())
	assert.Equal(t, DefaultThreshold, m.Threshold())
	assert.True(t, IsWakeWord("小灵小灵"))
}
