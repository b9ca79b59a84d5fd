// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package codex

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/groupsio/clibridge/internal/jsonrpc"
	"github.com/groupsio/clibridge/internal/permission"
	"github.com/groupsio/clibridge/internal/wire"
)

// onNotification dispatches backend notifications (spec.md §4.5).
func (a *Adapter) onNotification(m jsonrpc.Message) {
	switch {
	case m.Method == "item/started":
		var p itemStartedParams
		if json.Unmarshal(m.Params, &p) != nil {
			log.Printf("codex [%s]: malformed item/started, dropped", a.sessionID)
			return
		}
		a.handleItemStarted(p)

	case m.Method == "item/completed":
		var p itemCompletedParams
		if json.Unmarshal(m.Params, &p) != nil {
			log.Printf("codex [%s]: malformed item/completed, dropped", a.sessionID)
			return
		}
		a.handleItemCompleted(p)

	case strings.HasPrefix(m.Method, "item/") && strings.HasSuffix(m.Method, "/delta"):
		var p itemDeltaParams
		if json.Unmarshal(m.Params, &p) != nil {
			log.Printf("codex [%s]: malformed %s, dropped", a.sessionID, m.Method)
			return
		}
		a.handleItemDelta(p)

	case m.Method == "turn/completed":
		// No dedicated wire event; the item/completed stream already
		// carries the turn's content. Nothing further to translate.

	case m.Method == "account/rateLimits/updated":
		var rl RateLimits
		if json.Unmarshal(m.Params, &rl) == nil {
			a.mu.Lock()
			a.rateLimits = rl
			a.mu.Unlock()
		}

	default:
		log.Printf("codex [%s]: unknown notification method %q, dropped", a.sessionID, m.Method)
	}
}

// approvalRequest is the common shape of every server-initiated approval
// request's params the adapter needs to read to build a permission_request.
type approvalRequest struct {
	Command    json.RawMessage   `json:"command,omitempty"`
	FilePaths  []string          `json:"file_paths,omitempty"`
	Changes    []fileChangeEntry `json:"changes,omitempty"`
	Server     string            `json:"server,omitempty"`
	Tool       string            `json:"tool,omitempty"`
	Input      json.RawMessage   `json:"input,omitempty"`
	Questions  []questionEntry   `json:"questions,omitempty"`
}

type questionEntry struct {
	QuestionID string   `json:"questionId"`
	Labels     []string `json:"labels,omitempty"`
}

// onServerRequest dispatches server-initiated JSON-RPC requests — every one
// of them is a permission approval per spec.md §4.5's table — into the
// Permission Arbiter, with a Resolver closure that knows how to answer this
// particular backend method's reply shape.
func (a *Adapter) onServerRequest(m jsonrpc.Message) {
	var req approvalRequest
	if m.Params != nil {
		_ = json.Unmarshal(m.Params, &req)
	}

	var toolName string
	var toolInput json.RawMessage
	var resolver permission.Resolver

	switch m.Method {
	case "item/commandExecution/requestApproval":
		toolName = "Bash"
		toolInput, _ = json.Marshal(map[string]any{"command": commandDisplayString(req.Command)})
		resolver = a.replyAcceptDecline(*m.ID)

	case "execCommandApproval":
		toolName = "Bash"
		toolInput, _ = json.Marshal(map[string]any{"command": commandDisplayString(req.Command)})
		resolver = a.replyReviewDecision(*m.ID)

	case "item/fileChange/requestApproval":
		toolName = "Edit"
		toolInput, _ = json.Marshal(map[string]any{"file_paths": req.FilePaths, "changes": req.Changes})
		resolver = a.replyAcceptDecline(*m.ID)

	case "applyPatchApproval":
		toolName = "Edit"
		toolInput, _ = json.Marshal(map[string]any{"file_paths": req.FilePaths, "changes": req.Changes})
		resolver = a.replyReviewDecision(*m.ID)

	case "item/mcpToolCall/requestApproval":
		toolName = "mcp:" + req.Server + ":" + req.Tool
		toolInput = req.Input
		resolver = a.replyAcceptDecline(*m.ID)

	case "item/tool/call":
		toolName = "dynamic:" + req.Tool
		toolInput = req.Input
		resolver = a.replyDynamicToolCall(*m.ID)

	case "item/tool/requestUserInput":
		toolName = "AskUserQuestion"
		toolInput, _ = json.Marshal(req.Questions)
		resolver = a.replyAskUserQuestion(*m.ID, req.Questions)

	default:
		log.Printf("codex [%s]: unknown server-initiated method %q", a.sessionID, m.Method)
		_ = a.correlator.ReplyError(*m.ID, -32601, "method not found")
		return
	}

	timeout := time.Duration(0)
	if m.Method == "item/tool/call" {
		timeout = dynamicToolTimeout
	} else {
		timeout = defaultApprovalTimeout
	}

	requestID := a.arbiter.Register(a.sessionID, timeout, resolver)
	a.emit(wire.Event{
		Type:      wire.TypePermissionRequest,
		RequestID: requestID,
		ToolName:  toolName,
		ToolInput: toolInput,
	})
}

// defaultApprovalTimeout covers the browser-driven approvals spec.md §4.8
// leaves "longer/none... at the integrator's discretion"; 30 minutes avoids
// an abandoned approval pinning a subprocess turn open forever.
const defaultApprovalTimeout = 30 * time.Minute

func (a *Adapter) replyAcceptDecline(id int64) permission.Resolver {
	return func(d permission.Decision) {
		decision := DecisionDecline
		if d.Allowed {
			decision = DecisionAccept
		}
		if err := a.correlator.Reply(id, map[string]string{"decision": decision}); err != nil {
			log.Printf("codex [%s]: failed to reply accept/decline: %v", a.sessionID, err)
		}
	}
}

func (a *Adapter) replyReviewDecision(id int64) permission.Resolver {
	return func(d permission.Decision) {
		decision := ReviewDenied
		if d.Allowed {
			decision = ReviewApproved
		}
		if err := a.correlator.Reply(id, map[string]string{"decision": decision}); err != nil {
			log.Printf("codex [%s]: failed to reply ReviewDecision: %v", a.sessionID, err)
		}
	}
}

// dynamicToolCallResponse mirrors the backend's DynamicToolCallResponse
// shape (spec.md §4.5).
type dynamicToolCallResponse struct {
	Success      bool            `json:"success"`
	ContentItems []contentItem   `json:"contentItems,omitempty"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (a *Adapter) replyDynamicToolCall(id int64) permission.Resolver {
	return func(d permission.Decision) {
		var resp dynamicToolCallResponse
		if !d.Allowed {
			msg := "tool call denied"
			if d.TimedOut {
				msg = "tool call approval timed out"
			}
			resp = dynamicToolCallResponse{
				Success:      false,
				ContentItems: []contentItem{{Type: "inputText", Text: msg}},
			}
		} else if len(d.UpdatedInput) > 0 {
			if json.Unmarshal(d.UpdatedInput, &resp) != nil {
				resp = dynamicToolCallResponse{Success: true}
			}
		} else {
			resp = dynamicToolCallResponse{Success: true}
		}

		if err := a.correlator.Reply(id, resp); err != nil {
			log.Printf("codex [%s]: failed to reply DynamicToolCallResponse: %v", a.sessionID, err)
		}
		if d.TimedOut {
			a.emit(assistantToolResultEvent(fmt.Sprintf("%d", id), "tool call approval timed out", true))
		}
	}
}

type askUserQuestionInput struct {
	Answers map[string]string `json:"answers"`
}

func (a *Adapter) replyAskUserQuestion(id int64, questions []questionEntry) permission.Resolver {
	return func(d permission.Decision) {
		answers := map[string]map[string][]string{}
		if d.Allowed && len(d.UpdatedInput) > 0 {
			var parsed askUserQuestionInput
			if json.Unmarshal(d.UpdatedInput, &parsed) == nil {
				for idxStr, label := range parsed.Answers {
					idx := atoiSafe(idxStr)
					if idx < 0 || idx >= len(questions) {
						continue
					}
					qid := questions[idx].QuestionID
					answers[qid] = map[string][]string{"answers": {label}}
				}
			}
		}
		if err := a.correlator.Reply(id, map[string]any{"answers": answers}); err != nil {
			log.Printf("codex [%s]: failed to reply AskUserQuestion: %v", a.sessionID, err)
		}
	}
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	return n
}
