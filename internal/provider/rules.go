package provider

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// Rule is an ordered list of JSONPath expressions describing where a value
// lives in a payload. The first expression yielding a usable value wins.
type Rule []string

// Float evaluates the rule as a number. Numeric strings, including ones with
// a decimal comma, are accepted.
func (r Rule) Float(doc any) (float64, bool) {
	for _, path := range r {
		v, ok := lookup(path, doc)
		if !ok {
			continue
		}
		if f, ok := toFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

// String evaluates the rule as a non-empty string.
func (r Rule) String(doc any) (string, bool) {
	for _, path := range r {
		v, ok := lookup(path, doc)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

// lookup evaluates one expression. jsonpath returns a list for slices and
// filters; the first element is kept in that case.
func lookup(path string, doc any) (any, bool) {
	v, err := jsonpath.Get(path, doc)
	if err != nil || v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 || list[0] == nil {
			return nil, false
		}
		v = list[0]
	}
	return v, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		return parseLocaleFloat(n)
	}
	return 0, false
}

// parseLocaleFloat reads numbers such as "1 234,56", "+0,52%" or "12.5".
func parseLocaleFloat(s string) (float64, bool) {
	s = strings.NewReplacer(" ", "", " ", "", " ", "", "%", "", "+", "").Replace(strings.TrimSpace(s))
	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		// The separator that comes last is the decimal one: "1,234.56", "1.234,56".
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case dot >= 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// decodeDocument unmarshals a JSON payload into the generic form jsonpath walks.
func decodeDocument(body []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
