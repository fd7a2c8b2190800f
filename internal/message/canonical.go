package message

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// CanonicalData produces the canonical byte form of d that ComputeHash
// digests. Two hubs must agree on these bytes exactly.
//
// The encoding is RFC 8785 style canonical JSON:
//  1. Object keys sorted by UTF-16 code units
//  2. No HTML escaping and no insignificant whitespace
//  3. Strings are NFC normalized
//  4. Byte fields are lower-case hex strings
//  5. Integers only; absent optional fields are omitted, never null
func CanonicalData(d MessageData) ([]byte, error) {
	body, err := canonicalBody(d.Type, d.Body)
	if err != nil {
		return nil, err
	}
	obj := map[string]any{
		"fid":       uint64(d.Fid),
		"type":      uint64(d.Type),
		"timestamp": uint64(d.Timestamp),
		"network":   uint64(d.Network),
		"body":      body,
	}
	return marshalCanonical(obj)
}

func canonicalBody(t MessageType, b Body) (map[string]any, error) {
	switch body := b.(type) {
	case *CastAddBody:
		if t != TypeCastAdd {
			break
		}
		obj := map[string]any{"text": body.Text}
		if len(body.Embeds) > 0 {
			embeds := make([]any, len(body.Embeds))
			for i, e := range body.Embeds {
				embeds[i] = e
			}
			obj["embeds"] = embeds
		}
		if len(body.Mentions) > 0 {
			mentions := make([]any, len(body.Mentions))
			for i, m := range body.Mentions {
				mentions[i] = uint64(m)
			}
			obj["mentions"] = mentions
		}
		if body.Parent != nil {
			obj["parent"] = canonicalCastID(*body.Parent)
		}
		return obj, nil
	case *CastRemoveBody:
		if t != TypeCastRemove {
			break
		}
		return map[string]any{"target_hash": body.TargetHash}, nil
	case *ReactionBody:
		if t != TypeReactionAdd && t != TypeReactionRemove {
			break
		}
		return map[string]any{
			"type":   uint64(body.Type),
			"target": canonicalCastID(body.Target),
		}, nil
	case *AmpBody:
		if t != TypeAmpAdd && t != TypeAmpRemove {
			break
		}
		return map[string]any{"target": uint64(body.Target)}, nil
	case *VerificationAddEthAddressBody:
		if t != TypeVerificationAddEthAddress {
			break
		}
		return map[string]any{
			"address":       body.Address,
			"eth_signature": body.EthSignature,
			"block_hash":    body.BlockHash,
		}, nil
	case *VerificationRemoveBody:
		if t != TypeVerificationRemove {
			break
		}
		return map[string]any{"address": body.Address}, nil
	case *SignerBody:
		if t != TypeSignerAdd && t != TypeSignerRemove {
			break
		}
		return map[string]any{"signer": body.Signer}, nil
	case *UserDataBody:
		if t != TypeUserDataAdd {
			break
		}
		return map[string]any{
			"type":  uint64(body.Type),
			"value": body.Value,
		}, nil
	case nil:
		return nil, fmt.Errorf("canonical: %s message has no body", t)
	}
	return nil, fmt.Errorf("canonical: body %T does not match type %s", b, t)
}

func canonicalCastID(id CastID) map[string]any {
	return map[string]any{
		"fid":  uint64(id.Fid),
		"hash": id.Hash,
	}
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return marshalCanonicalString(val)
	case uint64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case []byte:
		return marshalCanonicalString(hex.EncodeToString(val))
	case []any:
		return marshalCanonicalArray(val)
	case map[string]any:
		return marshalCanonicalObject(val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// marshalCanonicalString produces a canonical JSON string with NFC normalization.
// Only control characters, backslash and quote are escaped.
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	result := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	// json.Encoder escapes U+2028 and U+2029 for JavaScript; RFC 8785 does not.
	// An escaped backslash is always emitted as a pair, so a \u202x sequence
	// preceded by an even run of backslashes is a real escape.
	return unescapeLineSeparators(result), nil
}

func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+6 <= len(data) && bytes.HasPrefix(data[i:], []byte(`\u202`)) &&
			(data[i+5] == '8' || data[i+5] == '9') {
			run := 0
			for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
				run++
			}
			if run%2 == 0 {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

func marshalCanonicalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := marshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalCanonicalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return compareUTF16(keys[i], keys[j]) < 0
	})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := marshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	return len(ua) - len(ub)
}
