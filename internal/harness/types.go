package harness

import (
	"fmt"
	"strings"
)

// TraceEvent is one event as a subscriber saw it.
type TraceEvent struct {
	Seq         uint64   `json:"seq"`
	Type        string   `json:"type"`
	Fid         uint64   `json:"fid"`
	MessageType string   `json:"message_type,omitempty"`
	Timestamp   uint32   `json:"timestamp,omitempty"`
	Message     string   `json:"message,omitempty"` // label, or hash prefix when unlabelled
	Deleted     []string `json:"deleted,omitempty"`
	Block       uint64   `json:"block,omitempty"`
	LogIndex    uint32   `json:"log_index,omitempty"`
	Fname       string   `json:"fname,omitempty"`
}

// String renders the event as one golden-file line.
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s fid=%d", e.Seq, e.Type, e.Fid)
	if e.MessageType != "" {
		fmt.Fprintf(&b, " %s ts=%d msg=%s", e.MessageType, e.Timestamp, e.Message)
	}
	if len(e.Deleted) > 0 {
		fmt.Fprintf(&b, " deleted=%s", strings.Join(e.Deleted, ","))
	}
	if e.Fname != "" {
		fmt.Fprintf(&b, " fname=%s", e.Fname)
	}
	if e.MessageType == "" {
		fmt.Fprintf(&b, " block=%d log_index=%d", e.Block, e.LogIndex)
	}
	return b.String()
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Traces holds each subscriber's events in delivery order.
	Traces map[string][]TraceEvent `json:"traces"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Traces: make(map[string][]TraceEvent),
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends ev to the subscriber's trace.
func (r *Result) AddTrace(subscriber string, ev TraceEvent) {
	r.Traces[subscriber] = append(r.Traces[subscriber], ev)
}
