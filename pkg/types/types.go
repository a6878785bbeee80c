package types

import "strings"

// Engine names the downstream system that owns a workflow
type Engine string

const (
	EngineN8N      Engine = "n8n"
	EngineLangflow Engine = "langflow"
)

// KnownEngines lists the engines with built-in dispatch defaults
func KnownEngines() []Engine {
	return []Engine{EngineN8N, EngineLangflow}
}

func (e Engine) String() string {
	return string(e)
}

// Normalize returns the canonical lower-case form of e.
func (e Engine) Normalize() Engine {
	return Engine(strings.ToLower(strings.TrimSpace(string(e))))
}
