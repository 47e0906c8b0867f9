package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParamClass says where a bag entry is applied on the outbound request.
// Classification happens once, when the bag is decoded; nothing
// downstream re-inspects key prefixes.
type ParamClass int

const (
	ClassBody ParamClass = iota
	ClassQuery
	ClassPath
	ClassHeader
	ClassCookie
	ClassOther
)

func (c ParamClass) String() string {
	switch c {
	case ClassBody:
		return "body"
	case ClassQuery:
		return "query"
	case ClassPath:
		return "path"
	case ClassHeader:
		return "header"
	case ClassCookie:
		return "cookie"
	}
	return "other"
}

// param is one classified bag entry. Raw keeps the original JSON so
// body payloads round-trip byte for byte; Value is the decoded form
// used everywhere else.
type param struct {
	Class ParamClass
	Name  string // key with its class prefix stripped
	Key   string // original bag key
	Value interface{}
	Raw   json.RawMessage
}

func classify(key string) (ParamClass, string) {
	switch {
	case key == "body":
		return ClassBody, key
	case strings.HasPrefix(key, "query-"):
		return ClassQuery, key[len("query-"):]
	case strings.HasPrefix(key, "path-"):
		return ClassPath, key[len("path-"):]
	case strings.HasPrefix(key, "header-"):
		return ClassHeader, key[len("header-"):]
	case strings.HasPrefix(key, "cookie-"):
		return ClassCookie, key[len("cookie-"):]
	}
	return ClassOther, key
}

// decodeBag decodes a JSON object into classified parameters, keeping
// the key encounter order of the payload. Query and cookie assembly
// depend on that order.
func decodeBag(raw json.RawMessage) ([]param, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decoding parameters: %w", err)
	}
	if tok == nil {
		return nil, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("parameters must be a JSON object")
	}

	var params []param
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decoding parameters: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("decoding parameters: unexpected token %v", keyTok)
		}
		var rawValue json.RawMessage
		if err := dec.Decode(&rawValue); err != nil {
			return nil, fmt.Errorf("decoding parameter %q: %w", key, err)
		}
		// UseNumber keeps large integer ids intact on the query string.
		valDec := json.NewDecoder(bytes.NewReader(rawValue))
		valDec.UseNumber()
		var value interface{}
		if err := valDec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decoding parameter %q: %w", key, err)
		}
		class, name := classify(key)
		params = append(params, param{Class: class, Name: name, Key: key, Value: value, Raw: rawValue})
	}
	return params, nil
}

// bagValue finds the first entry with the given class and name.
func bagValue(bag []param, class ParamClass, name string) (interface{}, bool) {
	for _, p := range bag {
		if p.Class == class && p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}
