package drivers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/lyzr/agentflow/common/workflow"
)

// TextTransformDriver applies string operations to the flowing input.
// Non-string input is stringified first. Errors (missing parameters, bad
// regexes, unknown operations) carry the input through as output so the
// value is not lost.
type TextTransformDriver struct{}

func (TextTransformDriver) Type() string { return "text_transform" }

func (TextTransformDriver) Execute(_ context.Context, node *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	operation := node.DataString("operation", "upper")
	text := stringify(wctx.Input)

	switch operation {
	case "replace":
		find := node.DataString("find", "")
		if find == "" {
			return transformError(wctx.Input, "Replace operation requires 'find' parameter")
		}
		replaceWith := node.DataString("replace_with", "")
		return transformOK(strings.ReplaceAll(text, find, replaceWith), operation)

	case "regex_replace":
		pattern := node.DataString("pattern", "")
		if pattern == "" {
			return transformError(wctx.Input, "Regex replace requires 'pattern' parameter")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return transformError(wctx.Input, "Invalid regex pattern: %v", err)
		}
		replaceWith := node.DataString("replace_with", "")
		return transformOK(re.ReplaceAllString(text, replaceWith), operation)

	case "regex_extract":
		pattern := node.DataString("pattern", "")
		if pattern == "" {
			return transformError(wctx.Input, "Regex extract requires 'pattern' parameter")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return transformError(wctx.Input, "Invalid regex pattern: %v", err)
		}
		matches := re.FindAllString(text, -1)
		if matches == nil {
			matches = []string{}
		}
		return transformOK(strings.Join(matches, "\n"), operation).
			WithExtra("matches", matches).
			WithExtra("count", len(matches))

	case "filter_lines":
		pattern := node.DataString("pattern", "")
		if pattern == "" {
			return transformError(wctx.Input, "Filter lines requires 'pattern' parameter")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return transformError(wctx.Input, "Invalid regex pattern: %v", err)
		}
		lines := strings.Split(text, "\n")
		filtered := make([]string, 0, len(lines))
		for _, line := range lines {
			if re.MatchString(line) {
				filtered = append(filtered, line)
			}
		}
		return transformOK(strings.Join(filtered, "\n"), operation).
			WithExtra("matched_lines", len(filtered)).
			WithExtra("total_lines", len(lines))

	case "upper":
		return transformOK(strings.ToUpper(text), operation)

	case "lower":
		return transformOK(strings.ToLower(text), operation)

	case "trim":
		return transformOK(strings.TrimSpace(text), operation)

	case "split":
		delimiter := node.DataString("delimiter", ",")
		parts := strings.Split(text, delimiter)
		return transformOK(strings.Join(parts, "\n"), operation).
			WithExtra("parts", parts).
			WithExtra("count", len(parts))

	case "substring":
		start, _, err := optionalInt(dataValue(node, "start"))
		if err != nil {
			return transformError(wctx.Input, "Start and end must be integers")
		}
		end, hasEnd, err := optionalInt(dataValue(node, "end"))
		if err != nil {
			return transformError(wctx.Input, "Start and end must be integers")
		}
		var endPtr *int
		if hasEnd {
			endPtr = &end
		}
		return transformOK(sliceString(text, start, endPtr), operation)

	case "length":
		length := utf8.RuneCountInString(text)
		return transformOK(strconv.Itoa(length), operation).WithExtra("length", length)

	case "join":
		delimiter := node.DataString("delimiter", " ")
		lines := strings.Split(text, "\n")
		return transformOK(strings.Join(lines, delimiter), operation)

	default:
		return transformError(wctx.Input, "Unknown operation: %s", operation)
	}
}

func transformOK(output interface{}, operation string) workflow.DriverResponse {
	return workflow.OKResponse(output).WithExtra("operation", operation)
}

func transformError(input interface{}, format string, args ...interface{}) workflow.DriverResponse {
	r := workflow.ErrorResponse(format, args...)
	r.SetOutput(input)
	return r
}

func dataValue(node *workflow.Node, key string) interface{} {
	if node.Data == nil {
		return nil
	}
	return node.Data[key]
}

// optionalInt distinguishes an absent parameter from an invalid one:
// nil and empty string mean absent, anything unparsable is an error.
func optionalInt(v interface{}) (int, bool, error) {
	switch t := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return int(t), true, nil
	case int:
		return t, true, nil
	case string:
		if t == "" {
			return 0, false, nil
		}
		i, err := strconv.Atoi(t)
		if err != nil {
			return 0, false, err
		}
		return i, true, nil
	default:
		return 0, false, fmt.Errorf("not an integer: %v", v)
	}
}

// sliceString slices by rune with negative-index and clamping semantics,
// so substring configs behave the way users expect from scripting
// languages.
func sliceString(s string, start int, end *int) string {
	runes := []rune(s)
	n := len(runes)
	lo := clampIndex(start, n)
	hi := n
	if end != nil {
		hi = clampIndex(*end, n)
	}
	if lo >= hi {
		return ""
	}
	return string(runes[lo:hi])
}

func clampIndex(i, n int) int {
	if i < 0 {
		i += n
		if i < 0 {
			i = 0
		}
	}
	if i > n {
		i = n
	}
	return i
}
