package domain

// GenerateRequest is one call to the text-generation backend.
type GenerateRequest struct {
	Model  string
	System string
	Prompt string
	// Context is the continuation token returned by a previous call.
	Context []int
	Stream  bool
	// OnToken receives streamed fragments when Stream is set.
	OnToken func(fragment string)
}

// GenerateResponse is the full backend response. When streaming, Text is the
// concatenation of all fragments.
type GenerateResponse struct {
	Text    string
	Done    bool
	Context []int
}
