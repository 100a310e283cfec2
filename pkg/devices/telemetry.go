package devices

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

var (
	lightPattern      = regexp.MustCompile(`^\((\d+)\s*[，,]\s*(\d+)\)$`)
	volumePattern     = regexp.MustCompile(`^\((?i:volume|vol)\s*[，,]\s*(\d{1,3})\)$`)
	volumeJSONPattern = regexp.MustCompile(`"volume"\s*:\s*(\d{1,3})`)
)

// LightStatus 灯光状态（亮度与色温百分比）
type LightStatus struct {
	Brightness  int `json:"brightness"`
	Temperature int `json:"temperature"`
}

// String 格式化为 "(brightness,temperature)"
func (l LightStatus) String() string {
	return fmt.Sprintf("(%d,%d)", l.Brightness, l.Temperature)
}

// telemetryJSON 设备以 JSON 上报时可识别的字段
type telemetryJSON struct {
	Volume      *int `json:"volume"`
	Brightness  *int `json:"brightness"`
	Temperature *int `json:"temperature"`
}

func parseTelemetryJSON(text string) (telemetryJSON, bool) {
	var t telemetryJSON
	if !strings.HasPrefix(text, "{") {
		return t, false
	}
	if err := sonic.UnmarshalString(text, &t); err != nil {
		return t, false
	}
	return t, true
}

// ParseVolume 解析音量上报："(volume,NN)"、"(vol,NN)" 或 JSON 中的 "volume": NN
func ParseVolume(text string) (int, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	if m := volumePattern.FindStringSubmatch(text); m != nil {
		return parsePercent(m[1])
	}
	if t, ok := parseTelemetryJSON(text); ok && t.Volume != nil {
		return clampPercent(*t.Volume), true
	}
	if m := volumeJSONPattern.FindStringSubmatch(text); m != nil {
		return parsePercent(m[1])
	}
	return 0, false
}

// ParseLightStatus 解析灯光状态上报："(B,T)"（支持全角逗号）或 JSON 中的 brightness/temperature
func ParseLightStatus(text string) (LightStatus, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return LightStatus{}, false
	}
	if m := lightPattern.FindStringSubmatch(text); m != nil {
		b, ok1 := parsePercent(m[1])
		t, ok2 := parsePercent(m[2])
		if !ok1 || !ok2 {
			return LightStatus{}, false
		}
		return LightStatus{Brightness: b, Temperature: t}, true
	}
	if t, ok := parseTelemetryJSON(text); ok && t.Brightness != nil && t.Temperature != nil {
		return LightStatus{Brightness: clampPercent(*t.Brightness), Temperature: clampPercent(*t.Temperature)}, true
	}
	return LightStatus{}, false
}

func parsePercent(s string) (int, bool) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return clampPercent(v), true
}
