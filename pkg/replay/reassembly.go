package replay

import "strings"

// ReassemblyBuffer accumulates streamed content chunks from a passthrough
// miss so the full response can be synthesized for write-through once the
// upstream stream terminates. A client disconnect or upstream error means
// the buffer must simply be discarded, never written through.
type ReassemblyBuffer struct {
	b        strings.Builder
	role     string
	complete bool
}

// Append records one chunk's delta content, capturing role on first sight.
func (r *ReassemblyBuffer) Append(delta Delta) {
	if r.role == "" && delta.Role != "" {
		r.role = delta.Role
	}
	r.b.WriteString(delta.Content)
}

// MarkComplete records that the terminal marker was observed, meaning the
// stream ended normally rather than via disconnect or upstream error.
func (r *ReassemblyBuffer) MarkComplete() {
	r.complete = true
}

// Complete reports whether the terminal marker was observed.
func (r *ReassemblyBuffer) Complete() bool {
	return r.complete
}

// Content returns the reassembled message content.
func (r *ReassemblyBuffer) Content() string {
	return r.b.String()
}

// Role returns the reassembled message's role, defaulting to "assistant"
// if no delta ever carried one.
func (r *ReassemblyBuffer) Role() string {
	if r.role == "" {
		return "assistant"
	}
	return r.role
}
