package model

// Write-back modes for a flow response.
const (
	ModeAppend  = "append"
	ModeReplace = "replace"
	ModeNew     = "new"
)

// FlowConfig is the configuration of one flow layer.
//
// Toggles are tri-state: nil means "inherit from the previous layer".
// Model and Mode follow the same rule. After InheritFrom every toggle is non-nil.
type FlowConfig struct {
	UserPrompt          *string
	SystemInstructions  *string
	Mode                *string
	ResolveBacklinks    *bool
	ResolveForwardLinks *bool
	ExpandURLs          *bool
	CanDelegate         *bool
	Model               *string
	ExclusionPatterns   []string
	FrontMatterOffset   int
	LLMOptions          LLMOptions
	AdditionalContext   map[string]string
}

// BaseFlowConfig is the seed configuration of a composition chain.
func BaseFlowConfig() FlowConfig {
	return FlowConfig{
		ResolveBacklinks:    Bool(true),
		ResolveForwardLinks: Bool(true),
		ExpandURLs:          Bool(true),
		CanDelegate:         Bool(false),
		ExclusionPatterns:   []string{},
		AdditionalContext:   map[string]string{},
	}
}

// Inherit resolves a tri-state value: the current value when set,
// otherwise the previous one.
func Inherit[T any](current, previous *T) *T {
	if current != nil {
		return current
	}
	return previous
}

// InheritFrom fills every unset inheritable field from prev.
func (c FlowConfig) InheritFrom(prev FlowConfig) FlowConfig {
	c.ResolveBacklinks = Inherit(c.ResolveBacklinks, prev.ResolveBacklinks)
	c.ResolveForwardLinks = Inherit(c.ResolveForwardLinks, prev.ResolveForwardLinks)
	c.ExpandURLs = Inherit(c.ExpandURLs, prev.ExpandURLs)
	c.CanDelegate = Inherit(c.CanDelegate, prev.CanDelegate)
	c.Model = Inherit(c.Model, prev.Model)
	c.Mode = Inherit(c.Mode, prev.Mode)
	return c
}

// Enabled reports the value of a resolved toggle; unset counts as false.
func Enabled(b *bool) bool {
	return b != nil && *b
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// WriteMode returns the configured write-back mode, defaulting to append.
func (c FlowConfig) WriteMode() string {
	switch Deref(c.Mode) {
	case ModeReplace:
		return ModeReplace
	case ModeNew:
		return ModeNew
	default:
		return ModeAppend
	}
}
