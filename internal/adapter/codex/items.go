// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package codex

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/groupsio/clibridge/internal/wire"
)

// Item kinds the backend emits (spec.md §4.5 table).
const (
	itemKindAgentMessage     = "agentMessage"
	itemKindReasoning        = "reasoning"
	itemKindCommandExecution = "commandExecution"
	itemKindFileChange       = "fileChange"
	itemKindWebSearch        = "webSearch"
)

// itemState is the per-item bookkeeping the adapter keeps keyed by the
// backend-assigned itemId (spec.md §4.5 "per-item map").
type itemState struct {
	kind        string
	startedSeen bool
	textBuf     strings.Builder
	thinkingBuf strings.Builder
}

// itemStartedParams is item/started's payload.
type itemStartedParams struct {
	ItemID string `json:"itemId"`
	Kind   string `json:"kind"`

	// commandExecution
	Command json.RawMessage `json:"command,omitempty"`
	// fileChange
	Changes []fileChangeEntry `json:"changes,omitempty"`
	// webSearch
	Query string `json:"query,omitempty"`
}

// itemDeltaParams is item/<kind>/delta's payload (only agentMessage and
// reasoning ever carry a delta per the table).
type itemDeltaParams struct {
	ItemID        string `json:"itemId"`
	TextDelta     string `json:"textDelta,omitempty"`
	ThinkingDelta string `json:"thinkingDelta,omitempty"`
}

// itemCompletedParams is item/completed's payload.
type itemCompletedParams struct {
	ItemID string `json:"itemId"`
	Kind   string `json:"kind"`

	// commandExecution
	Command  json.RawMessage `json:"command,omitempty"`
	ExitCode *int            `json:"exitCode,omitempty"`
	Stdout   string          `json:"stdout,omitempty"`
	Stderr   string          `json:"stderr,omitempty"`

	// fileChange
	Changes []fileChangeEntry `json:"changes,omitempty"`

	// webSearch
	Query   string            `json:"query,omitempty"`
	Results []webSearchResult `json:"results,omitempty"`
}

type fileChangeEntry struct {
	Path string `json:"path"`
	Kind string `json:"kind"` // "create" | "update" | "delete"
}

type webSearchResult struct {
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

func (a *Adapter) itemFor(itemID, kind string) *itemState {
	st, ok := a.items[itemID]
	if !ok {
		st = &itemState{kind: kind}
		a.items[itemID] = st
	}
	return st
}

func contentBlockEvent(blockType, subtype, itemID string, extra map[string]any) wire.Event {
	block := map[string]any{"type": subtype, "id": itemID}
	for k, v := range extra {
		block[k] = v
	}
	inner, _ := json.Marshal(map[string]any{"type": blockType, "content_block": block})
	return wire.Event{Type: wire.TypeStreamEvent, InnerEvent: inner}
}

func contentBlockDeltaEvent(itemID, deltaType, text string) wire.Event {
	inner, _ := json.Marshal(map[string]any{
		"type": "content_block_delta",
		"id":   itemID,
		"delta": map[string]string{
			"type": deltaType,
			"text": text,
		},
	})
	return wire.Event{Type: wire.TypeStreamEvent, InnerEvent: inner}
}

func contentBlockStopEvent(itemID string) wire.Event {
	inner, _ := json.Marshal(map[string]any{"type": "content_block_stop", "id": itemID})
	return wire.Event{Type: wire.TypeStreamEvent, InnerEvent: inner}
}

func assistantToolUseEvent(itemID, toolName string, input any) wire.Event {
	inputData, _ := json.Marshal(input)
	msg, _ := json.Marshal(map[string]any{
		"role": "assistant",
		"content": []map[string]any{{
			"type":  "tool_use",
			"id":    itemID,
			"name":  toolName,
			"input": json.RawMessage(inputData),
		}},
	})
	return wire.Event{Type: wire.TypeAssistant, Message: msg, ToolUseID: itemID, ToolName: toolName}
}

func assistantToolResultEvent(itemID, content string, isError bool) wire.Event {
	msg, _ := json.Marshal(map[string]any{
		"role": "assistant",
		"content": []map[string]any{{
			"type":        "tool_result",
			"tool_use_id": itemID,
			"content":     content,
			"is_error":    isError,
		}},
	})
	return wire.Event{Type: wire.TypeAssistant, Message: msg, ToolUseID: itemID}
}

func assistantTextEvent(text string) wire.Event {
	msg, _ := json.Marshal(map[string]any{
		"role":    "assistant",
		"content": []map[string]any{{"type": "text", "text": text}},
	})
	return wire.Event{Type: wire.TypeAssistant, Message: msg}
}

func messageDeltaEvent() wire.Event {
	inner, _ := json.Marshal(map[string]any{"type": "message_delta", "delta": map[string]any{"stop_reason": nil}})
	return wire.Event{Type: wire.TypeStreamEvent, InnerEvent: inner}
}

func commandDisplayString(raw json.RawMessage) string {
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		return asString
	}
	var asArray []string
	if json.Unmarshal(raw, &asArray) == nil {
		return strings.Join(asArray, " ")
	}
	return string(raw)
}

// handleItemStarted implements the "On item/started" column of spec.md
// §4.5's table.
func (a *Adapter) handleItemStarted(params itemStartedParams) {
	a.mu.Lock()
	st := a.itemFor(params.ItemID, params.Kind)
	st.startedSeen = true
	a.mu.Unlock()

	switch params.Kind {
	case itemKindAgentMessage:
		a.emit(contentBlockEvent("content_block_start", "text", stableAgentID(params.ItemID), nil))
	case itemKindReasoning:
		a.emit(contentBlockEvent("content_block_start", "thinking", params.ItemID, nil))
	case itemKindCommandExecution:
		display := commandDisplayString(params.Command)
		a.emit(contentBlockEvent("content_block_start", "tool_use", params.ItemID, map[string]any{"name": "Bash"}))
		a.emit(assistantToolUseEvent(params.ItemID, "Bash", map[string]string{"command": display}))
	case itemKindFileChange:
		name := "Edit"
		if allCreates(params.Changes) {
			name = "Write"
		}
		a.emit(assistantToolUseEvent(params.ItemID, name, map[string]any{"changes": params.Changes}))
	case itemKindWebSearch:
		a.emit(assistantToolUseEvent(params.ItemID, "WebSearch", map[string]string{"query": params.Query}))
	default:
		log.Printf("codex: unknown item kind %q on item/started, dropped", params.Kind)
	}
}

func stableAgentID(itemID string) string {
	return fmt.Sprintf("codex-agent-%s", itemID)
}

func allCreates(changes []fileChangeEntry) bool {
	if len(changes) == 0 {
		return false
	}
	for _, c := range changes {
		if c.Kind != "create" {
			return false
		}
	}
	return true
}

// handleItemDelta implements the "On delta" column — only agentMessage and
// reasoning ever receive one.
func (a *Adapter) handleItemDelta(params itemDeltaParams) {
	a.mu.Lock()
	st, ok := a.items[params.ItemID]
	a.mu.Unlock()
	if !ok {
		log.Printf("codex: delta for unknown item %q, dropped", params.ItemID)
		return
	}

	switch st.kind {
	case itemKindAgentMessage:
		st.textBuf.WriteString(params.TextDelta)
		a.emit(contentBlockDeltaEvent(stableAgentID(params.ItemID), "text_delta", params.TextDelta))
	case itemKindReasoning:
		st.thinkingBuf.WriteString(params.ThinkingDelta)
		a.emit(contentBlockDeltaEvent(params.ItemID, "thinking_delta", params.ThinkingDelta))
	default:
		log.Printf("codex: unexpected delta for item kind %q, dropped", st.kind)
	}
}

// handleItemCompleted implements the "On item/completed" column, including
// the backfill rule: if item/started never arrived, emit the tool_use block
// first, then the result.
func (a *Adapter) handleItemCompleted(params itemCompletedParams) {
	a.mu.Lock()
	st := a.itemFor(params.ItemID, params.Kind)
	startedSeen := st.startedSeen
	st.startedSeen = true
	a.mu.Unlock()

	switch params.Kind {
	case itemKindAgentMessage:
		a.mu.Lock()
		text := st.textBuf.String()
		a.mu.Unlock()
		a.emit(assistantTextEvent(text))
		a.emit(messageDeltaEvent())
		a.emit(contentBlockStopEvent(stableAgentID(params.ItemID)))

	case itemKindReasoning:
		a.emit(contentBlockStopEvent(params.ItemID))

	case itemKindCommandExecution:
		if !startedSeen {
			display := commandDisplayString(params.Command)
			a.emit(assistantToolUseEvent(params.ItemID, "Bash", map[string]string{"command": display}))
		}
		exitZero := params.ExitCode != nil && *params.ExitCode == 0
		if !startedSeen && exitZero && params.Stdout == "" && params.Stderr == "" {
			return
		}
		merged := mergeOutput(params.Stdout, params.Stderr)
		a.emit(assistantToolResultEvent(params.ItemID, merged, !exitZero))

	case itemKindFileChange:
		if !startedSeen {
			name := "Edit"
			if allCreates(params.Changes) {
				name = "Write"
			}
			a.emit(assistantToolUseEvent(params.ItemID, name, map[string]any{"changes": params.Changes}))
		}
		a.emit(assistantToolResultEvent(params.ItemID, summarizeAppliedPaths(params.Changes), false))

	case itemKindWebSearch:
		if !startedSeen {
			a.emit(assistantToolUseEvent(params.ItemID, "WebSearch", map[string]string{"query": params.Query}))
		}
		data, _ := json.Marshal(params.Results)
		a.emit(assistantToolResultEvent(params.ItemID, string(data), false))

	default:
		log.Printf("codex: unknown item kind %q on item/completed, dropped", params.Kind)
	}

	a.mu.Lock()
	delete(a.items, params.ItemID)
	a.mu.Unlock()
}

func mergeOutput(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	if stdout == "" {
		return stderr
	}
	return stdout + "\n" + stderr
}

func summarizeAppliedPaths(changes []fileChangeEntry) string {
	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.Path
	}
	return strings.Join(paths, ", ")
}
