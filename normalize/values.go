package normalize

import (
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// obj returns the first value under keys that is a JSON object.
func obj(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if v, ok := m[k].(map[string]any); ok {
			return v
		}
	}
	return nil
}

// list returns the first value under keys that is a JSON array.
func list(m map[string]any, keys ...string) ([]any, bool) {
	for _, k := range keys {
		if v, ok := m[k].([]any); ok {
			return v, true
		}
	}
	return nil, false
}

// str returns the first scalar under keys rendered as a trimmed string.
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := scalar(m[k]); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// strs returns the first value under keys as a list of non-empty strings.
// A lone scalar becomes a one-element list.
func strs(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		return toStrings(v)
	}
	return []string{}
}

func toStrings(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, it := range t {
			if s, ok := scalar(it); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	default:
		if s, ok := scalar(t); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// scalar renders strings, numbers and booleans as text.
func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

var numberRe = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

// number extracts a number from a JSON number or from the first numeric
// run inside a string such as "15 Minuten".
func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case int:
		return float64(t), true
	case string:
		m := numberRe.FindString(t)
		if m == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// whole rounds n and clamps it to the int32 range so the conversion never
// overflows.
func whole(n float64) int64 {
	return int64(math.Round(max(min(n, math.MaxInt32), math.MinInt32)))
}

// fill overlays src onto dst, which already holds defaults. Only keys that
// are present in src override; values of the wrong shape are coerced when
// possible and ignored otherwise. Struct fields are matched by json tag.
func fill(dst reflect.Value, src any) {
	if src == nil || !dst.CanSet() {
		return
	}
	switch dst.Kind() {
	case reflect.String:
		if s, ok := scalar(src); ok {
			dst.SetString(strings.TrimSpace(s))
		}
	case reflect.Int, reflect.Int64, reflect.Int32:
		if n, ok := number(src); ok {
			dst.SetInt(whole(n))
		}
	case reflect.Float64, reflect.Float32:
		if n, ok := number(src); ok {
			dst.SetFloat(n)
		}
	case reflect.Bool:
		if s, ok := scalar(src); ok {
			b, _ := strconv.ParseBool(s)
			dst.SetBool(b)
		}
	case reflect.Slice:
		elem := dst.Type().Elem()
		if elem.Kind() == reflect.String {
			ss := toStrings(src)
			out := reflect.MakeSlice(dst.Type(), len(ss), len(ss))
			for i, s := range ss {
				out.Index(i).SetString(s)
			}
			dst.Set(out)
			return
		}
		items, ok := src.([]any)
		if !ok {
			return
		}
		out := reflect.MakeSlice(dst.Type(), 0, len(items))
		for _, it := range items {
			if _, isObj := it.(map[string]any); !isObj && elem.Kind() == reflect.Struct {
				continue
			}
			ev := reflect.New(elem).Elem()
			fill(ev, it)
			out = reflect.Append(out, ev)
		}
		dst.Set(out)
	case reflect.Map:
		m, ok := src.(map[string]any)
		if !ok || dst.Type().Key().Kind() != reflect.String {
			return
		}
		if dst.IsNil() {
			dst.Set(reflect.MakeMap(dst.Type()))
		}
		for k, v := range m {
			ev := reflect.New(dst.Type().Elem()).Elem()
			fill(ev, v)
			dst.SetMapIndex(reflect.ValueOf(k).Convert(dst.Type().Key()), ev)
		}
	case reflect.Pointer:
		if _, ok := src.(map[string]any); !ok {
			return
		}
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		fill(dst.Elem(), src)
	case reflect.Struct:
		m, ok := src.(map[string]any)
		if !ok {
			return
		}
		t := dst.Type()
		for i := range t.NumField() {
			name := jsonName(t.Field(i))
			if name == "" {
				continue
			}
			if v, ok := m[name]; ok {
				fill(dst.Field(i), v)
			}
		}
	}
}

func jsonName(f reflect.StructField) string {
	if !f.IsExported() {
		return ""
	}
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

// materialize replaces nil slices and maps reachable from v with empty
// ones so the canonical document never carries null lists.
func materialize(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			materialize(v.Elem())
		}
	case reflect.Struct:
		for i := range v.NumField() {
			if v.Type().Field(i).IsExported() {
				materialize(v.Field(i))
			}
		}
	case reflect.Slice:
		if v.IsNil() {
			if v.CanSet() {
				v.Set(reflect.MakeSlice(v.Type(), 0, 0))
			}
			return
		}
		for i := range v.Len() {
			materialize(v.Index(i))
		}
	case reflect.Map:
		if v.IsNil() && v.CanSet() {
			v.Set(reflect.MakeMap(v.Type()))
		}
	}
}

// decode overlays src onto a copy of def and returns it.
func decode[T any](def T, src any) T {
	out := def
	fill(reflect.ValueOf(&out).Elem(), src)
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
