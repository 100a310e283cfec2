package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVolume(t *testing.T) {
	tests := []struct {
		text string
		want int
		ok   bool
	}{
		{"(volume,45)", 45, true},
		{"(VOL，80)", 80, true},
		{"(volume, 999)", 100, true},
		{`{"volume": 30}`, 30, true},
		{`{"volume":150,"other":1}`, 100, true},
		{`status "volume": 12 broken`, 12, true},
		{"(45,60)", 0, false},
		{"(volume,abc)", 0, false},
		{"hello", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			v, ok := ParseVolume(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestParseLightStatus(t *testing.T) {
	tests := []struct {
		text string
		want LightStatus
		ok   bool
	}{
		{"(45,60)", LightStatus{45, 60}, true},
		{"(45，60)", LightStatus{45, 60}, true},
		{" (0, 100) ", LightStatus{0, 100}, true},
		{"(300,60)", LightStatus{100, 60}, true},
		{`{"brightness":20,"temperature":70}`, LightStatus{20, 70}, true},
		{"(abc,60)", LightStatus{}, false},
		{"(45,60", LightStatus{}, false},
		{`{"brightness":20}`, LightStatus{}, false},
		{"(volume,45)", LightStatus{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			ls, ok := ParseLightStatus(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, ls)
		})
	}
	assert.Equal(t, "(45,60)", LightStatus{45, 60}.String())
}
