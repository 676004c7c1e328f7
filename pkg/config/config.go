// Package config decodes declarative machine definitions.
//
// Definitions are YAML (or JSON) documents of the form:
//
//	machines:
//	  - name: email-batch
//	    queue: default
//	    retry: {attempts: 3, min_backoff: 1s}
//	    context_types: {count: int}
//	    states:
//	      - name: start
//	        initial: true
//	        action: select-users
//	        transitions:
//	          - {event: next, to: send}
//
// Parsing only checks shape and attribute names; semantic validation lives
// in the graph package.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the root of a machine definition file.
type Config struct {
	Machines []Machine `mapstructure:"machines" json:"machines"`
}

// Machine declares one state machine.
type Machine struct {
	Name  string `mapstructure:"name" json:"name"`
	Queue string `mapstructure:"queue" json:"queue,omitempty"`

	// Retry is the default policy of every transition in the machine.
	Retry *domain.RetryPolicy `mapstructure:"retry" json:"retry,omitempty"`

	// ContextTypes coerces working memory values decoded from task payloads.
	// Supported types: string, int, float, bool, duration, strings, ints.
	ContextTypes map[string]string `mapstructure:"context_types" json:"context_types,omitempty"`

	States []State `mapstructure:"states" json:"states"`
}

// State declares one state and its outgoing transitions.
type State struct {
	Name   string `mapstructure:"name" json:"name"`
	Entry  string `mapstructure:"entry" json:"entry,omitempty"`
	Action string `mapstructure:"action" json:"action,omitempty"`
	Exit   string `mapstructure:"exit" json:"exit,omitempty"`

	Initial      bool          `mapstructure:"initial" json:"initial,omitempty"`
	Final        bool          `mapstructure:"final" json:"final,omitempty"`
	Continuation bool          `mapstructure:"continuation" json:"continuation,omitempty"`
	FanIn        time.Duration `mapstructure:"fan_in" json:"fan_in,omitempty"`

	Transitions []Transition `mapstructure:"transitions" json:"transitions,omitempty"`
}

// Transition declares an edge fired by Event.
type Transition struct {
	Event     string              `mapstructure:"event" json:"event"`
	To        string              `mapstructure:"to" json:"to"`
	Action    string              `mapstructure:"action" json:"action,omitempty"`
	Queue     string              `mapstructure:"queue" json:"queue,omitempty"`
	Countdown time.Duration       `mapstructure:"countdown" json:"countdown,omitempty"`
	Retry     *domain.RetryPolicy `mapstructure:"retry" json:"retry,omitempty"`
}

// Load reads a definition file. The format is chosen by extension; anything
// but ".json" is parsed as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read machine config: %w", err)
	}
	format := "yaml"
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		format = "json"
	}
	return Parse(data, format)
}

// Parse decodes a definition document in the given format ("yaml" or "json").
func Parse(data []byte, format string) (*Config, error) {
	var raw map[string]any
	switch format {
	case "json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, &domain.ConfigurationError{Reason: fmt.Sprintf("invalid json: %v", err)}
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &domain.ConfigurationError{Reason: fmt.Sprintf("invalid yaml: %v", err)}
		}
	}
	return Decode(raw)
}

// Decode converts a generic document into a Config. Unknown attributes are
// rejected so that typos surface at startup.
func Decode(raw map[string]any) (*Config, error) {
	cfg := &Config{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, &domain.ConfigurationError{Reason: err.Error()}
	}
	return cfg, nil
}
