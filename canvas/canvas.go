// Package canvas resolves node/edge canvases into request payloads and
// splices responses back into them.
//
// Information Hiding:
// - JSON Canvas document format and color codes hidden behind Parse/Marshal
// - Node roles are explicit in memory; colors exist only on the wire
// - Batch fan-out and concurrent dispatch encapsulated in Runner
package canvas

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role classifies a node.
type Role int

const (
	// RoleNone marks nodes that take no part in resolution.
	RoleNone Role = iota
	RoleInput
	RoleUserPrompt
	RoleSystem
	RoleContext
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleUserPrompt:
		return "user_prompt"
	case RoleSystem:
		return "system"
	case RoleContext:
		return "context"
	default:
		return "none"
	}
}

// Wire color codes.
const (
	colorRed    = "1"
	colorOrange = "2"
	colorGreen  = "4"
	colorBlue   = "5"
)

func roleFromColor(color string) Role {
	switch color {
	case colorRed:
		return RoleInput
	case colorOrange:
		return RoleUserPrompt
	case colorBlue:
		return RoleSystem
	case colorGreen:
		return RoleContext
	default:
		return RoleNone
	}
}

func (r Role) color() string {
	switch r {
	case RoleInput:
		return colorRed
	case RoleUserPrompt:
		return colorOrange
	case RoleSystem:
		return colorBlue
	case RoleContext:
		return colorGreen
	default:
		return ""
	}
}

// Node types.
const (
	TypeText = "text"
	TypeFile = "file"
)

// Node is a canvas node. File nodes carry File, text nodes carry Text.
// Other node types (groups, links) pass through untouched.
type Node struct {
	ID     string
	Type   string
	Text   string
	File   string
	X      int
	Y      int
	Width  int
	Height int
	Role   Role

	// color keeps an unrecognised wire color so it survives a rewrite.
	color string
	// extra keeps fields this package does not interpret.
	extra map[string]json.RawMessage
}

// IsFile reports whether n is backed by a vault file.
func (n Node) IsFile() bool {
	return n.File != ""
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID       string `json:"id"`
	FromNode string `json:"fromNode"`
	FromSide string `json:"fromSide,omitempty"`
	ToNode   string `json:"toNode"`
	ToSide   string `json:"toSide,omitempty"`
	FromEnd  string `json:"fromEnd,omitempty"`
	ToEnd    string `json:"toEnd,omitempty"`
	Color    string `json:"color,omitempty"`
	Label    string `json:"label,omitempty"`
}

// Canvas is a node/edge document.
type Canvas struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type wireNode struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	File   string `json:"file,omitempty"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Color  string `json:"color,omitempty"`
}

var knownNodeFields = map[string]bool{
	"id": true, "type": true, "text": true, "file": true,
	"x": true, "y": true, "width": true, "height": true, "color": true,
}

// UnmarshalJSON decodes a node and derives its role from the color.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*n = Node{
		ID:     w.ID,
		Type:   w.Type,
		Text:   w.Text,
		File:   w.File,
		X:      w.X,
		Y:      w.Y,
		Width:  w.Width,
		Height: w.Height,
		Role:   roleFromColor(w.Color),
	}
	if n.Role == RoleNone {
		n.color = w.Color
	}
	for k, v := range all {
		if !knownNodeFields[k] {
			if n.extra == nil {
				n.extra = map[string]json.RawMessage{}
			}
			n.extra[k] = v
		}
	}
	return nil
}

// MarshalJSON encodes a node, writing its role back as a color.
func (n Node) MarshalJSON() ([]byte, error) {
	color := n.Role.color()
	if n.Role == RoleNone {
		color = n.color
	}
	w := wireNode{
		ID:     n.ID,
		Type:   n.Type,
		Text:   n.Text,
		File:   n.File,
		X:      n.X,
		Y:      n.Y,
		Width:  n.Width,
		Height: n.Height,
		Color:  color,
	}
	if len(n.extra) == 0 {
		return json.Marshal(w)
	}

	base, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range n.extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Parse decodes a canvas document.
func Parse(data []byte) (*Canvas, error) {
	var c Canvas
	if strings.TrimSpace(string(data)) == "" {
		return &c, nil
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid canvas: %w", err)
	}
	return &c, nil
}

// Marshal encodes a canvas document.
func Marshal(c *Canvas) ([]byte, error) {
	if c.Nodes == nil {
		c.Nodes = []Node{}
	}
	if c.Edges == nil {
		c.Edges = []Edge{}
	}
	return json.MarshalIndent(c, "", "\t")
}

// NodesWithRole returns the nodes of role r in document order.
func (c *Canvas) NodesWithRole(r Role) []Node {
	var out []Node
	for _, n := range c.Nodes {
		if n.Role == r {
			out = append(out, n)
		}
	}
	return out
}

// Connected reports whether an edge joins a and b in either direction.
func (c *Canvas) Connected(a, b string) bool {
	for _, e := range c.Edges {
		if (e.FromNode == a && e.ToNode == b) || (e.FromNode == b && e.ToNode == a) {
			return true
		}
	}
	return false
}

// NewTextNode creates a text node with a fresh id.
func NewTextNode(text string, role Role, x, y, width, height int) Node {
	return Node{
		ID:     newID(),
		Type:   TypeText,
		Text:   text,
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
		Role:   role,
	}
}

// NewEdge creates an edge with a fresh id.
func NewEdge(from, fromSide, to, toSide string) Edge {
	return Edge{ID: newID(), FromNode: from, FromSide: fromSide, ToNode: to, ToSide: toSide}
}

// newID returns a 16 character hex id like the ones canvas editors write.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
