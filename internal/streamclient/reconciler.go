package streamclient

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Origin tags where a view message came from. Local messages are optimistic
// additions not yet confirmed by the server; the tag is explicit rather
// than inferred from identifier shape.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginServer Origin = "server"
)

// Validation states a tool call moves through on the client.
const (
	ValidationPending     = "pending"
	ValidationAccepted    = "accepted"
	ValidationRejected    = "rejected"
	ValidationNotRequired = "not_required"
)

type ToolCallView struct {
	ID         string
	Name       string
	Arguments  string
	Validation string
	Result     string
	HasResult  bool
}

// ViewMessage is the client-side rendering unit: a role-tagged message,
// assistant ones potentially carrying reasoning and tool calls.
type ViewMessage struct {
	ID         string
	Origin     Origin
	Role       string // user | assistant
	Text       string
	Reasoning  string
	ToolCalls  []ToolCallView
	IsComplete bool
}

// Action tells the caller what the reducer wants next.
type Action int

const (
	ActionNone Action = iota
	// ActionContinue submits an empty follow-up turn so the model can
	// react to completed tool results. Emitted at most once per message.
	ActionContinue
)

// PageDirection distinguishes an initial/refresh load from backward
// pagination.
type PageDirection int

const (
	PageReplace PageDirection = iota
	PageOlder
)

var localSeq atomic.Int64

func nextLocalID() string {
	return fmt.Sprintf("local-%d", localSeq.Add(1))
}

// Reconciler merges three inputs — server pages, stream events, user
// actions — into one deterministic message view. It is purely in-memory
// and single-goroutine; the caller drives it from its event loop.
type Reconciler struct {
	confirmed []ViewMessage
	local     []ViewMessage

	streaming bool
	stopped   bool

	// continued tracks assistant message ids that already triggered an
	// auto-continue, so a re-render cannot double-submit.
	continued map[string]bool

	rateLimitWait time.Duration
	lastError     string
}

func NewReconciler() *Reconciler {
	return &Reconciler{continued: map[string]bool{}}
}

// Messages returns the merged view: confirmed window then optimistic tail.
func (r *Reconciler) Messages() []ViewMessage {
	out := make([]ViewMessage, 0, len(r.confirmed)+len(r.local))
	out = append(out, r.confirmed...)
	out = append(out, r.local...)
	return out
}

func (r *Reconciler) Streaming() bool { return r.streaming }

// Stopped reports whether the thread ended in an interrupted state; the
// caller must disable auto-continue until the user explicitly resumes.
func (r *Reconciler) Stopped() bool { return r.stopped }

func (r *Reconciler) LastError() string { return r.lastError }

// RateLimitWait returns how long the user must wait after a rate-limit
// error, zero otherwise.
func (r *Reconciler) RateLimitWait() time.Duration { return r.rateLimitWait }

// StartUserMessage optimistically appends the user's message and marks the
// stream active. Returns the local id for a later rollback.
func (r *Reconciler) StartUserMessage(content string) string {
	id := nextLocalID()
	r.local = append(r.local, ViewMessage{
		ID:         id,
		Origin:     OriginLocal,
		Role:       "user",
		Text:       content,
		IsComplete: true,
	})
	r.streaming = true
	r.stopped = false
	r.rateLimitWait = 0
	r.lastError = ""
	return id
}

// ApplyServerPage merges a server-confirmed page. Outside an active stream
// the server fully replaces the view; during a stream the confirmed window
// is updated but the optimistic tail is preserved.
func (r *Reconciler) ApplyServerPage(page []ViewMessage, direction PageDirection) {
	for i := range page {
		page[i].Origin = OriginServer
	}
	switch direction {
	case PageOlder:
		r.confirmed = append(append([]ViewMessage{}, page...), r.confirmed...)
	default:
		r.confirmed = page
		if !r.streaming {
			r.local = nil
		}
	}
	r.refreshStopped()
}

func (r *Reconciler) refreshStopped() {
	if r.streaming {
		return
	}
	msgs := r.Messages()
	if len(msgs) == 0 {
		r.stopped = false
		return
	}
	r.stopped = !msgs[len(msgs)-1].IsComplete
}

// ApplyStreamEvent folds one decoded stream event into the view.
func (r *Reconciler) ApplyStreamEvent(ev StreamEvent) {
	switch ev.Kind {
	case KindText:
		msg := r.currentAssistant()
		msg.Text += ev.Text.Content
	case KindReasoning:
		msg := r.currentAssistant()
		msg.Reasoning += ev.Text.Content
	case KindToolCall:
		msg := r.currentAssistant()
		msg.ToolCalls = append(msg.ToolCalls, ToolCallView{
			ID:         ev.ToolCall.ToolCallID,
			Name:       ev.ToolCall.Name,
			Arguments:  ev.ToolCall.Arguments,
			Validation: ev.ToolCall.Validation,
		})
	case KindToolResult:
		// Matched by call id; arrival order is meaningless.
		r.attachResult(ev.ToolResult.ToolCallID, ev.ToolResult.Content)
	case KindFinish:
		// Finish without any prior delta means the turn produced nothing
		// to show; no placeholder message is synthesized for it.
		if msg := r.tailAssistant(); msg != nil {
			msg.IsComplete = ev.Finish.IsComplete
			if ev.Finish.MessageID != "" {
				msg.ID = ev.Finish.MessageID
			}
		}
		r.streaming = false
		r.refreshStopped()
	case KindError:
		r.streaming = false
		if ev.Error.RetryAfter > 0 || ev.Error.StatusCode == 429 {
			wait := time.Duration(ev.Error.RetryAfter) * time.Second
			if wait <= 0 {
				wait = time.Minute
			}
			r.rateLimitWait = wait
		} else {
			r.lastError = ev.Error.Error
		}
		r.RollbackOptimistic()
	}
}

// tailAssistant returns the in-flight local assistant message, nil when
// none exists.
func (r *Reconciler) tailAssistant() *ViewMessage {
	if n := len(r.local); n > 0 && r.local[n-1].Role == "assistant" && r.local[n-1].Origin == OriginLocal {
		return &r.local[n-1]
	}
	return nil
}

// currentAssistant returns the in-flight local assistant message, creating
// it on the first delta of a turn.
func (r *Reconciler) currentAssistant() *ViewMessage {
	if msg := r.tailAssistant(); msg != nil {
		return msg
	}
	r.local = append(r.local, ViewMessage{
		ID:     nextLocalID(),
		Origin: OriginLocal,
		Role:   "assistant",
	})
	return &r.local[len(r.local)-1]
}

func (r *Reconciler) attachResult(callID, content string) {
	apply := func(msgs []ViewMessage) bool {
		for i := len(msgs) - 1; i >= 0; i-- {
			for j := range msgs[i].ToolCalls {
				tc := &msgs[i].ToolCalls[j]
				if tc.ID != callID {
					continue
				}
				tc.Result = content
				tc.HasResult = true
				if tc.Validation == "" || tc.Validation == ValidationPending {
					tc.Validation = ValidationNotRequired
				}
				return true
			}
		}
		return false
	}
	if !apply(r.local) {
		apply(r.confirmed)
	}
}

// ResolveValidation records the outcome of a human decision on a pending
// call, with the result text returned by the validation endpoint.
func (r *Reconciler) ResolveValidation(callID string, accepted bool, result string) {
	state := ValidationRejected
	if accepted {
		state = ValidationAccepted
	}
	mark := func(msgs []ViewMessage) bool {
		for i := len(msgs) - 1; i >= 0; i-- {
			for j := range msgs[i].ToolCalls {
				tc := &msgs[i].ToolCalls[j]
				if tc.ID != callID {
					continue
				}
				tc.Validation = state
				tc.Result = result
				tc.HasResult = true
				return true
			}
		}
		return false
	}
	if !mark(r.local) {
		mark(r.confirmed)
	}
}

// RollbackOptimistic drops every not-yet-confirmed message so the user can
// retry the same input after a stream error.
func (r *Reconciler) RollbackOptimistic() {
	r.local = nil
	r.refreshStopped()
}

// NextAction decides whether the caller should auto-submit an empty
// follow-up turn: only when the latest assistant message has every tool
// call terminal with a result, the thread is not stopped, and this message
// has not auto-continued before.
func (r *Reconciler) NextAction() Action {
	if r.streaming || r.stopped {
		return ActionNone
	}
	msgs := r.Messages()
	var last *ViewMessage
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			last = &msgs[i]
			break
		}
	}
	if last == nil || len(last.ToolCalls) == 0 {
		return ActionNone
	}
	if r.continued[last.ID] {
		return ActionNone
	}
	for _, tc := range last.ToolCalls {
		switch tc.Validation {
		case ValidationAccepted, ValidationRejected, ValidationNotRequired:
		default:
			return ActionNone
		}
		if !tc.HasResult {
			return ActionNone
		}
	}
	r.continued[last.ID] = true
	return ActionContinue
}

// NeedsMorePages keeps backward pagination converging on short threads:
// while the viewport is not yet scrollable and older pages remain, the
// caller must fetch again.
func (r *Reconciler) NeedsMorePages(viewportFull, hasMore bool) bool {
	return !viewportFull && hasMore
}
