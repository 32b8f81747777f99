package capability

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ParseToggle maps a mode keyword to the value Meld expects: "toggle"
// stays a string, show/enable/start/mute mean true, hide/disable/stop/unmute
// mean false. Anything else is passed through.
func ParseToggle(mode string) any {
	switch mode {
	case "toggle":
		return "toggle"
	case "show", "enable", "start", "mute":
		return true
	case "hide", "disable", "stop", "unmute":
		return false
	default:
		return mode
	}
}

// SafeJSON parses a JSON string, returning fallback when value is empty
// or malformed. Non-string values are returned as-is.
func SafeJSON(value, fallback any) any {
	switch v := value.(type) {
	case nil:
		return fallback
	case string:
		if v == "" {
			return fallback
		}
		var out any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return fallback
		}
		return out
	case bool:
		if !v {
			return fallback
		}
		return v
	default:
		return v
	}
}

// FormatDuration renders seconds as HH:MM:SS. Zero, negative and NaN
// render as 00:00:00.
func FormatDuration(seconds float64) string {
	if math.IsNaN(seconds) || seconds <= 0 {
		return "00:00:00"
	}
	sec := int64(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
}

// Number parses a numeric input the way a loose form field is read: an
// empty string is 0, anything unparseable is nil (JSON null).
func Number(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return float64(0)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// decode maps a generic remote result onto out using json tag names.
func decode(raw, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// member returns raw[key] when raw is an object, else nil.
func member(raw any, key string) any {
	doc, _ := raw.(map[string]any)
	return doc[key]
}

type named struct {
	Name string `json:"name"`
}

// namesUnder maps {key: [{name}, ...]} to the list of names.
func namesUnder(key string) func(any) ([]string, error) {
	return func(raw any) ([]string, error) {
		var list []named
		if err := decode(member(raw, key), &list); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(list))
		for _, n := range list {
			names = append(names, n.Name)
		}
		return names, nil
	}
}

// stringsUnder maps {key: ["a", "b"]} to the list.
func stringsUnder(key string) func(any) ([]string, error) {
	return func(raw any) ([]string, error) {
		var list []string
		if err := decode(member(raw, key), &list); err != nil {
			return nil, err
		}
		return list, nil
	}
}

// keysUnder maps {key: {a: ..., b: ...}} to its sorted keys.
func keysUnder(key string) func(any) ([]string, error) {
	return func(raw any) ([]string, error) {
		var props map[string]any
		if err := decode(member(raw, key), &props); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, nil
	}
}

// jsonUnder renders raw[key] as compact JSON, "[]" when absent.
func jsonUnder(key string) func(any) (string, error) {
	return func(raw any) (string, error) {
		v := member(raw, key)
		if v == nil {
			return "[]", nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// formatCount renders a frame counter without a trailing ".0".
func formatCount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// opt returns the field value, or nil when the field is absent.
func (f Fields) opt(key string) any {
	if v, ok := f[key]; ok {
		return v
	}
	return nil
}

// nonEmpty returns the field value, or nil when absent or empty.
func (f Fields) nonEmpty(key string) any {
	if v := f[key]; v != "" {
		return v
	}
	return nil
}

// obj builds a params object, dropping absent (nil) members.
func obj(kv map[string]any) map[string]any {
	for k, v := range kv {
		if v == nil {
			delete(kv, k)
		}
	}
	return kv
}
