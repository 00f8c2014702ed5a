package coordinator

import "strings"

// validBlackboardKey enforces the spec's two allowed key prefixes. A task's
// own keyspace is "task:{id}:*"; an agent's private keyspace is
// "agent:{name}:*" and is not tied to any single task, so any task can
// write to it.
func validBlackboardKey(taskID, key string) bool {
	if strings.HasPrefix(key, "task:"+taskID+":") {
		return true
	}
	return strings.HasPrefix(key, "agent:") && strings.Count(key, ":") >= 2
}
