package server

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
)

// replyFields are inspected in order; the first non-empty string wins.
var replyFields = []string{"output", "text", "response"}

// ExtractReply turns the body returned by the n8n chat trigger into the text
// shown to the user. Objects yield the first non-empty output, text or
// response string, otherwise their literal rendering. Bare strings are
// returned as is and any other value is rendered.
func ExtractReply(body []byte) (string, error) {
	if !json.Valid(body) {
		return "", errors.Errorf("invalid JSON in n8n response: %q", truncate(body, 200))
	}

	value, dataType, _, err := jsonparser.Get(body)
	if err != nil {
		return "", errors.Wrap(err, "decode n8n response")
	}

	switch dataType {
	case jsonparser.Object:
		fields, err := stringFields(value)
		if err != nil {
			return "", err
		}
		for _, field := range replyFields {
			if text := fields[field]; text != "" {
				return text, nil
			}
		}
	case jsonparser.String:
		return jsonparser.ParseString(value)
	}

	var sb strings.Builder
	if err := renderValue(&sb, value, dataType); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// stringFields collects the top-level reply fields holding strings. A
// repeated key keeps its last value.
func stringFields(object []byte) (map[string]string, error) {
	fields := make(map[string]string, len(replyFields))
	err := jsonparser.ObjectEach(object, func(key, v []byte, dt jsonparser.ValueType, _ int) error {
		k, err := jsonparser.ParseString(key)
		if err != nil {
			return err
		}
		if !isReplyField(k) {
			return nil
		}
		if dt != jsonparser.String {
			delete(fields, k)
			return nil
		}
		text, err := jsonparser.ParseString(v)
		if err != nil {
			return err
		}
		fields[k] = text
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "read n8n reply fields")
	}
	return fields, nil
}

func isReplyField(key string) bool {
	for _, field := range replyFields {
		if key == field {
			return true
		}
	}
	return false
}

// renderValue writes a JSON value in Python literal notation, keeping object
// keys in document order.
func renderValue(sb *strings.Builder, value []byte, dataType jsonparser.ValueType) error {
	switch dataType {
	case jsonparser.Object:
		sb.WriteByte('{')
		first := true
		err := jsonparser.ObjectEach(value, func(key, v []byte, dt jsonparser.ValueType, _ int) error {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			k, err := jsonparser.ParseString(key)
			if err != nil {
				return err
			}
			sb.WriteString(quoteLiteral(k))
			sb.WriteString(": ")
			return renderValue(sb, v, dt)
		})
		if err != nil {
			return errors.Wrap(err, "render object")
		}
		sb.WriteByte('}')
	case jsonparser.Array:
		sb.WriteByte('[')
		first := true
		var inner error
		_, err := jsonparser.ArrayEach(value, func(v []byte, dt jsonparser.ValueType, _ int, err error) {
			if inner != nil {
				return
			}
			if err != nil {
				inner = err
				return
			}
			if !first {
				sb.WriteString(", ")
			}
			first = false
			inner = renderValue(sb, v, dt)
		})
		if err == nil {
			err = inner
		}
		if err != nil {
			return errors.Wrap(err, "render array")
		}
		sb.WriteByte(']')
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return errors.Wrap(err, "render string")
		}
		sb.WriteString(quoteLiteral(s))
	case jsonparser.Number:
		sb.WriteString(renderNumber(string(value)))
	case jsonparser.Boolean:
		if string(value) == "true" {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case jsonparser.Null:
		sb.WriteString("None")
	default:
		return errors.Errorf("unsupported JSON value %q", truncate(value, 50))
	}
	return nil
}

// renderNumber prints integers verbatim and floats in shortest round-trip
// form: fixed notation for exponents in [-4, 16), scientific otherwise.
func renderNumber(raw string) string {
	if !strings.ContainsAny(raw, ".eE") {
		if strings.TrimLeft(raw, "-0") == "" {
			return "0"
		}
		return raw
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err != nil || exp < -4 || exp >= 16 {
		return sci
	}
	fixed := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(fixed, ".") {
		fixed += ".0"
	}
	return fixed
}

// quoteLiteral quotes s with single quotes, switching to double quotes when s
// contains a single quote but no double quote.
func quoteLiteral(s string) string {
	quote := '\''
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}

	var sb strings.Builder
	sb.WriteRune(quote)
	for _, r := range s {
		switch {
		case r == quote || r == '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&sb, `\x%02x`, r)
		case !unicode.IsPrint(r):
			switch {
			case r <= 0xff:
				fmt.Fprintf(&sb, `\x%02x`, r)
			case r <= 0xffff:
				fmt.Fprintf(&sb, `\u%04x`, r)
			default:
				fmt.Fprintf(&sb, `\U%08x`, r)
			}
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteRune(quote)
	return sb.String()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
