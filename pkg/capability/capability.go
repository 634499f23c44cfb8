// Package capability defines the capability manifest model: the typed
// view of everything an MCP server exposes (identity, tools, resources,
// prompts) plus the stage errors accumulated while building it.
//
// A Manifest is created once per scan by the discoverer and is
// immutable afterwards; analyzers only read it.
package capability

import (
	"fmt"
	"strings"

	"github.com/go-json-experiment/json/jsontext"

	"github.com/mcpscan/mcpscan/pkg/finding"
)

// ServerInfo holds the target server's declared identity.
type ServerInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Tool is one entry from tools/list. Raw preserves the server's exact
// JSON so unknown fields survive round-trips.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema jsontext.Value `json:"inputSchema,omitempty"`
	Raw         jsontext.Value `json:"-"`
}

// Resource is one entry from resources/list.
type Resource struct {
	URI         string         `json:"uri"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	MimeType    string         `json:"mimeType,omitempty"`
	Raw         jsontext.Value `json:"-"`
}

// PromptArgument describes one prompt parameter.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt is one entry from prompts/list.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
	Raw         jsontext.Value   `json:"-"`
}

// Stage names the discovery call that produced a manifest section.
type Stage string

const (
	StageServerInfo Stage = "server/info"
	StageTools      Stage = "tools/list"
	StageResources  Stage = "resources/list"
	StagePrompts    Stage = "prompts/list"
)

// StageError records a non-fatal discovery failure. The affected
// manifest section is empty but the scan continues.
type StageError struct {
	Stage Stage  `json:"stage"`
	Err   string `json:"error"`
}

func (e StageError) String() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Err)
}

// Manifest is the complete discovered capability set of one server.
type Manifest struct {
	Target    string       `json:"target"`
	Server    ServerInfo   `json:"server"`
	Tools     []Tool       `json:"tools"`
	Resources []Resource   `json:"resources"`
	Prompts   []Prompt     `json:"prompts"`
	Errors    []StageError `json:"errors,omitempty"`
}

// ComponentCount returns the total number of scannable components.
func (m *Manifest) ComponentCount() int {
	return len(m.Tools) + len(m.Resources) + len(m.Prompts)
}

// Components returns every component reference in discovery order.
// This order seeds the finding discovery sequence, so it must be stable
// across identical scans.
func (m *Manifest) Components() []finding.Component {
	out := make([]finding.Component, 0, m.ComponentCount())
	for _, t := range m.Tools {
		out = append(out, finding.Component{Kind: finding.KindTool, Name: t.Name})
	}
	for _, r := range m.Resources {
		out = append(out, finding.Component{Kind: finding.KindResource, Name: r.Name})
	}
	for _, p := range m.Prompts {
		out = append(out, finding.Component{Kind: finding.KindPrompt, Name: p.Name})
	}
	return out
}

// MatchText serializes a component's description and schema into the
// flat text form that pattern rules and domain extraction run against.
// The concatenation is deterministic so repeated scans of an unchanged
// manifest match identically.
func (t Tool) MatchText() string {
	var b strings.Builder
	b.WriteString(t.Name)
	b.WriteByte('\n')
	b.WriteString(t.Description)
	if len(t.InputSchema) > 0 {
		b.WriteByte('\n')
		b.Write(t.InputSchema)
	}
	return b.String()
}

// MatchText for a resource includes the URI, which is where traversal
// and redirect payloads typically hide.
func (r Resource) MatchText() string {
	var b strings.Builder
	b.WriteString(r.Name)
	b.WriteByte('\n')
	b.WriteString(r.URI)
	b.WriteByte('\n')
	b.WriteString(r.Description)
	return b.String()
}

// MatchText for a prompt covers the description and argument metadata.
func (p Prompt) MatchText() string {
	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteByte('\n')
	b.WriteString(p.Description)
	for _, a := range p.Arguments {
		b.WriteByte('\n')
		b.WriteString(a.Name)
		b.WriteByte(' ')
		b.WriteString(a.Description)
	}
	return b.String()
}
