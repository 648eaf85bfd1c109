package core

import "strings"

// Meta/self-referential markers stripped from model replies. The reply is
// filtered line by line; a line containing any marker is dropped entirely.
var metaLineMarkers = []string{
	"as an ai",
	"as a language model",
	"language model",
	"i am an ai",
	"i'm an ai",
	"system prompt",
	"my instructions",
	"i am programmed",
	"internal state",
	"state machine",
	"my parameters",
	"trait vector",
	"emotion profile",
	"我是一个ai",
	"我是人工智能",
	"作为一个ai",
	"作为人工智能",
	"语言模型",
	"系统提示",
	"内部状态",
	"状态机",
	"人格参数",
	"情绪参数",
}

// SanitizeReply removes meta and self-referential lines from a raw model
// reply. Filtering is idempotent: a second pass removes nothing further.
func SanitizeReply(raw string) string {
	lines := strings.Split(raw, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isMetaLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isMetaLine(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range metaLineMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
