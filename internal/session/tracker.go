package session

// Tools whose invocations mutate the workspace, mapped to the change type
// they imply. Write cannot be distinguished from overwrite post-hoc, so it
// reports as an add; the per-path history keeps both forms visible anyway.
var toolChangeTypes = map[string]string{
	"Write":        ChangeAdd,
	"Edit":         ChangeModify,
	"MultiEdit":    ChangeModify,
	"NotebookEdit": ChangeModify,
}

// ChangeFromTool converts a post-tool hook event into a (path, type, details)
// triple for RecordFileChange, if the tool is one that mutates files.
func ChangeFromTool(toolName string, toolInput map[string]interface{}) (path, changeType, details string, ok bool) {
	changeType, ok = toolChangeTypes[toolName]
	if !ok {
		return "", "", "", false
	}

	path, _ = toolInput["file_path"].(string)
	if path == "" {
		path, _ = toolInput["notebook_path"].(string)
	}
	if path == "" {
		return "", "", "", false
	}

	return path, changeType, "via " + toolName, true
}
