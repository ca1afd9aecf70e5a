package domain

// ToolArgs is the typed argument payload handed to a tool handler.
// Each tool decodes its own variant; RawArgs is the fallback.
type ToolArgs interface {
	toolArgs()
}

// SearchArgs is the payload of the search tool.
type SearchArgs struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// DrawArgs is the payload of the draw tool.
type DrawArgs struct {
	Instructions []DrawInstruction `json:"instructions"`
}

// ConvertTimeArgs is the payload of the convert_time tool.
type ConvertTimeArgs struct {
	Time string `json:"time"`
}

// RawArgs carries undecoded arguments.
type RawArgs map[string]any

func (SearchArgs) toolArgs()      {}
func (DrawArgs) toolArgs()        {}
func (ConvertTimeArgs) toolArgs() {}
func (RawArgs) toolArgs()         {}
