package canvas

import (
	"sort"

	"github.com/richinex/cloudatlas/model"
)

// FromPayload renders the active turn of p as a canvas: input in the
// middle, system above, user prompt below and one context node per entry.
func FromPayload(p model.Payload) *Canvas {
	c := &Canvas{Nodes: []Node{}, Edges: []Edge{}}
	msg := p.LastMessage()
	user := msg.User
	if user == nil {
		user = &model.User{}
	}

	var input *Node
	if in := model.Deref(user.Input); in != "" {
		n := NewTextNode(in, RoleInput, 600, 500, 200, 200)
		c.Nodes = append(c.Nodes, n)
		input = &c.Nodes[len(c.Nodes)-1]
	}
	inputID := ""
	if input != nil {
		inputID = input.ID
	}

	if up := model.Deref(user.UserPrompt); up != "" {
		n := NewTextNode(up, RoleUserPrompt, 500, 750, 200, 200)
		c.Nodes = append(c.Nodes, n)
		if inputID != "" {
			c.Edges = append(c.Edges, NewEdge(n.ID, "top", inputID, "bottom"))
		}
	}

	if sys := model.Deref(msg.System); sys != "" {
		n := NewTextNode(sys, RoleSystem, 500, 250, 200, 200)
		c.Nodes = append(c.Nodes, n)
		if inputID != "" {
			c.Edges = append(c.Edges, NewEdge(n.ID, "bottom", inputID, "top"))
		}
	}

	keys := make([]string, 0, len(user.AdditionalContext))
	for k := range user.AdditionalContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	x, y := 250, 350
	for _, k := range keys {
		n := NewTextNode(user.AdditionalContext[k], RoleContext, x, y, 200, 200)
		c.Nodes = append(c.Nodes, n)
		if inputID != "" {
			c.Edges = append(c.Edges, NewEdge(n.ID, "right", inputID, "left"))
		}
		x += 25
		y += 25
	}
	return c
}
