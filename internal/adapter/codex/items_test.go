// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package codex

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandDisplayString(t *testing.T) {
	assert.Equal(t, "ls -la", commandDisplayString(json.RawMessage(`"ls -la"`)))
	assert.Equal(t, "ls -la /tmp", commandDisplayString(json.RawMessage(`["ls","-la","/tmp"]`)))
}

func TestAllCreates(t *testing.T) {
	assert.False(t, allCreates(nil))
	assert.True(t, allCreates([]fileChangeEntry{{Path: "a", Kind: "create"}, {Path: "b", Kind: "create"}}))
	assert.False(t, allCreates([]fileChangeEntry{{Path: "a", Kind: "create"}, {Path: "b", Kind: "update"}}))
}

func TestMergeOutput(t *testing.T) {
	assert.Equal(t, "out", mergeOutput("out", ""))
	assert.Equal(t, "err", mergeOutput("", "err"))
	assert.Equal(t, "out\nerr", mergeOutput("out", "err"))
	assert.Equal(t, "", mergeOutput("", ""))
}

func TestSummarizeAppliedPaths(t *testing.T) {
	assert.Equal(t, "a.go, b.go", summarizeAppliedPaths([]fileChangeEntry{{Path: "a.go"}, {Path: "b.go"}}))
	assert.Equal(t, "", summarizeAppliedPaths(nil))
}

func TestStableAgentID(t *testing.T) {
	assert.Equal(t, "codex-agent-item1", stableAgentID("item1"))
}

func TestAssistantToolUseEvent(t *testing.T) {
	e := assistantToolUseEvent("id1", "Bash", map[string]string{"command": "ls"})
	assert.Equal(t, "id1", e.ToolUseID)
	assert.Equal(t, "Bash", e.ToolName)
	assert.Contains(t, string(e.Message), `"type":"tool_use"`)
	assert.Contains(t, string(e.Message), `"command":"ls"`)
}

func TestAssistantToolResultEvent(t *testing.T) {
	e := assistantToolResultEvent("id1", "output", true)
	assert.Equal(t, "id1", e.ToolUseID)
	assert.Contains(t, string(e.Message), `"is_error":true`)
	assert.Contains(t, string(e.Message), "output")
}

func TestContentBlockEvents(t *testing.T) {
	start := contentBlockEvent("content_block_start", "text", "id1", nil)
	assert.Contains(t, string(start.InnerEvent), `"type":"content_block_start"`)

	delta := contentBlockDeltaEvent("id1", "text_delta", "hi")
	assert.Contains(t, string(delta.InnerEvent), `"text":"hi"`)

	stop := contentBlockStopEvent("id1")
	assert.Contains(t, string(stop.InnerEvent), `"content_block_stop"`)
}
