package devices

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// 设备动作
const (
	ActionBrightnessUp    = "brightness_up"
	ActionBrightnessDown  = "brightness_down"
	ActionTemperatureUp   = "tem_up"
	ActionTemperatureDown = "tem_down"
	ActionVolumeUp        = "volume_up"
	ActionVolumeDown      = "volume_down"
	ActionVolumeSet       = "volume_set"
	ActionSleepMusicStart = "sleep_music_start"
	ActionSleepMusicStop  = "sleep_music_stop"
	ActionSleepMusicNext  = "sleep_music_next"
	ActionSleepMusicPrev  = "sleep_music_prev"
)

// Command 语音控制命令
type Command struct {
	Name      string
	Phrases   []string
	Directive string
	Confirm   string
}

// Commands 语音控制命令表，识别文本去掉标点后需与短语完全一致
var Commands = []Command{
	{Name: "light_off", Phrases: []string{"关灯"}, Directive: Directive(ActionBrightnessDown, 100), Confirm: "好的"},
	{Name: "light_on", Phrases: []string{"开灯"}, Directive: Directive(ActionBrightnessUp, 50), Confirm: "好的"},
	{Name: "brightness_down_small", Phrases: []string{"调低亮度"}, Directive: Directive(ActionBrightnessDown, 10), Confirm: "好的，已将灯光亮度调低10%"},
	{Name: "brightness_up_small", Phrases: []string{"调高亮度"}, Directive: Directive(ActionBrightnessUp, 10), Confirm: "好的，已将灯光亮度调高10%"},
	{Name: "temperature_up_small", Phrases: []string{"调高色温"}, Directive: Directive(ActionTemperatureUp, 10), Confirm: "好的，已将灯光色温调高10%"},
	{Name: "temperature_down_small", Phrases: []string{"调低色温"}, Directive: Directive(ActionTemperatureDown, 10), Confirm: "好的，已将灯光色温调低10%"},
	{Name: "volume_up", Phrases: []string{"音量调高", "调高音量", "大声一点"}, Directive: Directive(ActionVolumeUp, 15), Confirm: "好的，音量已调高"},
	{Name: "volume_down", Phrases: []string{"音量调低", "调低音量", "小声一点"}, Directive: Directive(ActionVolumeDown, 15), Confirm: "好的，音量已调低"},
	{Name: "brightness_up", Phrases: []string{"亮度调高"}, Directive: Directive(ActionBrightnessUp, 15), Confirm: "好的，亮度已调高"},
	{Name: "brightness_down", Phrases: []string{"亮度调低"}, Directive: Directive(ActionBrightnessDown, 15), Confirm: "好的，亮度已调低"},
	{Name: "temperature_up", Phrases: []string{"色温调暖"}, Directive: Directive(ActionTemperatureUp, 15), Confirm: "好的，色温已调暖"},
	{Name: "temperature_down", Phrases: []string{"色温调冷"}, Directive: Directive(ActionTemperatureDown, 15), Confirm: "好的，色温已调冷"},
}

var phraseIndex = buildPhraseIndex(Commands)

func buildPhraseIndex(commands []Command) map[string]int {
	index := make(map[string]int)
	for i, cmd := range commands {
		for _, phrase := range cmd.Phrases {
			index[phrase] = i
		}
	}
	return index
}

// MatchCommand 匹配语音控制命令
func MatchCommand(text string) (Command, bool) {
	clean := CleanText(text)
	if clean == "" {
		return Command{}, false
	}
	i, ok := phraseIndex[clean]
	if !ok {
		return Command{}, false
	}
	return Commands[i], true
}

// CleanText 全角转半角后去除标点与空白
func CleanText(text string) string {
	text = width.Narrow.String(text)
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
}

// Directive 构造设备指令 "(action,value)"
func Directive(action string, value int) string {
	return fmt.Sprintf("(%s,%d)", action, value)
}

// VolumeSet 构造设置音量指令，数值限制在 0-100
func VolumeSet(value int) string {
	return Directive(ActionVolumeSet, clampPercent(value))
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
