// Package compare provides a total order over heterogeneous sort keys.
//
// Keys are usually computed by SORT plugins and may be any JSON-like value.
// Values of different kinds order by rank:
//
//	nil < bool < number < string < array < object < anything else
//
// Within a kind:
//   - bools: false < true
//   - numbers: numeric order across all Go integer and float types and
//     json.Number; NaN sorts before every other number
//   - strings: byte-wise (strings.Compare)
//   - arrays: element-wise, then shorter first
//   - objects: sorted key lists element-wise, then values in key order
//   - anything else: by fmt's %v rendering, so the order is still total
package compare

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
)

type rank int

const (
	rankNil rank = iota
	rankBool
	rankNumber
	rankString
	rankArray
	rankObject
	rankOther
)

// Compare returns -1, 0 or 1 depending on whether a sorts before, equal to or
// after b.
func Compare(a, b any) int {
	ra, rb := rankOf(a), rankOf(b)
	if ra != rb {
		return sign(int(ra) - int(rb))
	}

	switch ra {
	case rankNil:
		return 0
	case rankBool:
		return compareBool(a.(bool), b.(bool))
	case rankNumber:
		return compareNumber(a, b)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankArray:
		return compareArray(toArray(a), toArray(b))
	case rankObject:
		return compareObject(a.(map[string]any), b.(map[string]any))
	default:
		return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
	}
}

func rankOf(v any) rank {
	switch v.(type) {
	case nil:
		return rankNil
	case bool:
		return rankBool
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return rankNumber
	case string:
		return rankString
	case []any, []string:
		return rankArray
	case map[string]any:
		return rankObject
	default:
		return rankOther
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

// compareNumber compares integers exactly when both sides are integral and
// falls back to float64 otherwise.
func compareNumber(a, b any) int {
	ia, aInt := asInt(a)
	ib, bInt := asInt(b)
	if aInt && bInt {
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		default:
			return 0
		}
	}

	fa, fb := asFloat(a), asFloat(b)
	aNaN, bNaN := math.IsNaN(fa), math.IsNaN(fb)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return -1
	case bNaN:
		return 1
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	case uint:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		i, _ := asInt(v)
		return float64(i)
	}
}

func toArray(v any) []any {
	switch a := v.(type) {
	case []any:
		return a
	case []string:
		out := make([]any, len(a))
		for i, s := range a {
			out[i] = s
		}
		return out
	}
	return nil
}

func compareArray(a, b []any) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return sign(len(a) - len(b))
}

func compareObject(a, b map[string]any) int {
	ka, kb := sortedKeys(a), sortedKeys(b)
	n := min(len(ka), len(kb))
	for i := 0; i < n; i++ {
		if c := strings.Compare(ka[i], kb[i]); c != 0 {
			return c
		}
	}
	if c := sign(len(ka) - len(kb)); c != 0 {
		return c
	}
	for _, k := range ka {
		if c := Compare(a[k], b[k]); c != 0 {
			return c
		}
	}
	return 0
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
