package steps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// RuleType names an argument-building rule.
type RuleType string

const (
	// RuleNone emits no arguments.
	RuleNone RuleType = ""

	// RuleScalar emits one flag/value pair for a single field of the payload.
	RuleScalar RuleType = "scalar"

	// RuleNamedList emits one flag/value pair per named entry of a list payload.
	RuleNamedList RuleType = "named-list"
)

// ArgRule describes how a kind's payload becomes arguments.
type ArgRule struct {
	Rule RuleType `json:"rule,omitempty" yaml:"rule,omitempty"`

	// Scalar: payload field and the flag emitted before its value
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
	Flag  string `json:"flag,omitempty" yaml:"flag,omitempty"`

	// Named list: entry fields (defaults "name" and "index") and flag prefix (default "--")
	NameField  string `json:"nameField,omitempty" yaml:"nameField,omitempty"`
	ValueField string `json:"valueField,omitempty" yaml:"valueField,omitempty"`
	FlagPrefix string `json:"flagPrefix,omitempty" yaml:"flagPrefix,omitempty"`
}

func (a ArgRule) validate() error {
	switch a.Rule {
	case RuleNone, RuleNamedList:
		return nil
	case RuleScalar:
		if a.Field == "" || a.Flag == "" {
			return fmt.Errorf("scalar rule needs field and flag")
		}
		return nil
	default:
		return fmt.Errorf("unknown argument rule %q", a.Rule)
	}
}

// BuildArgs translates the kind's payload in params into an argument list.
// The result is never nil.
func (k *Kind) BuildArgs(params types.Params) []string {
	args := []string{}
	if k.Args.Rule == RuleNone {
		return args
	}

	payload, ok := params[k.ParamsKey]
	if !ok || len(payload) == 0 {
		return args
	}

	switch k.Args.Rule {
	case RuleScalar:
		var obj map[string]interface{}
		if err := decodeNumbers(payload, &obj); err != nil {
			return args
		}
		value, ok := formatScalar(obj[k.Args.Field])
		if ok && !isZero(obj[k.Args.Field]) {
			args = append(args, k.Args.Flag, value)
		}

	case RuleNamedList:
		var entries []map[string]interface{}
		if err := decodeNumbers(payload, &entries); err != nil {
			return args
		}
		nameField := defaultString(k.Args.NameField, "name")
		valueField := defaultString(k.Args.ValueField, "index")
		prefix := defaultString(k.Args.FlagPrefix, "--")
		for _, entry := range entries {
			name, ok := formatScalar(entry[nameField])
			name = strings.TrimSpace(name)
			if !ok || name == "" {
				continue
			}
			value, ok := formatScalar(entry[valueField])
			if !ok {
				continue
			}
			args = append(args, prefix+strings.ToLower(name), value)
		}
	}

	return args
}

func decodeNumbers(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// formatScalar renders a JSON scalar as an argument. Objects, arrays and null are rejected.
func formatScalar(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		// Integer literals keep their digits; float64 would round past 2^53.
		if !strings.ContainsAny(val.String(), ".eE") {
			return val.String(), true
		}
		f, err := val.Float64()
		if err != nil {
			return val.String(), true
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

func isZero(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case json.Number:
		f, err := val.Float64()
		return err == nil && f == 0
	case bool:
		return !val
	default:
		return false
	}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
