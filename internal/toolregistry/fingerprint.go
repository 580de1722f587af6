package toolregistry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Normalizer lets a ToolDescriptor customize fingerprinting beyond the
// default canonicalization, e.g. to strip a volatile field before hashing.
type Normalizer func(args map[string]any) map[string]any

// Fingerprint builds the cache key described in spec §4.4: a stable hash of
// args after dropping nulls, sorting object keys, normalizing whitespace in
// string values, and applying the descriptor's optional normalizer.
//
// Canonicalization walks the JSON encoding of args with gjson and rebuilds
// it key-by-sorted-key with sjson, rather than round-tripping through
// map[string]any twice, so nested arrays keep their original ordering
// (only object keys are sorted; array element order is semantic).
func Fingerprint(toolName string, args map[string]any, normalize Normalizer) (string, error) {
	if normalize != nil {
		args = normalize(args)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", err
	}

	canonical, err := canonicalizeJSON(string(raw))
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func canonicalizeJSON(raw string) (string, error) {
	result := gjson.Parse(raw)
	return canonicalizeValue(result)
}

func canonicalizeValue(v gjson.Result) (string, error) {
	switch {
	case v.IsObject():
		keys := make([]string, 0)
		children := map[string]gjson.Result{}
		v.ForEach(func(key, value gjson.Result) bool {
			if value.Type == gjson.Null {
				return true // drop nulls
			}
			k := key.String()
			keys = append(keys, k)
			children[k] = value
			return true
		})
		sort.Strings(keys)
		out := "{}"
		var err error
		for _, k := range keys {
			childJSON, cerr := canonicalizeValue(children[k])
			if cerr != nil {
				return "", cerr
			}
			out, err = sjson.SetRaw(out, gjsonEscapePath(k), childJSON)
			if err != nil {
				return "", err
			}
		}
		return out, nil
	case v.IsArray():
		out := "[]"
		var err error
		v.ForEach(func(_, value gjson.Result) bool {
			childJSON, cerr := canonicalizeValue(value)
			if cerr != nil {
				err = cerr
				return false
			}
			out, err = sjson.SetRaw(out, "-1", childJSON) // "-1" appends, preserving array order
			return err == nil
		})
		if err != nil {
			return "", err
		}
		return out, nil
	case v.Type == gjson.String:
		normalized := normalizeWhitespace(v.String())
		b, err := json.Marshal(normalized)
		return string(b), err
	default:
		return v.Raw, nil
	}
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func gjsonEscapePath(key string) string {
	// sjson interprets '.' and '*' specially in paths; escape them.
	replacer := strings.NewReplacer(".", "\\.", "*", "\\*", "?", "\\?")
	return replacer.Replace(key)
}
