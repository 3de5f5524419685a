// File: internal/fetch/script.go
package fetch

// WrapCommand embeds command in an async evaluator that awaits it and returns
// the text of the resolved value. The command is inserted verbatim on its own
// line so a trailing line comment cannot swallow the rest of the wrapper.
func WrapCommand(command string) string {
	return "(async () => {\nconst response = await " + command + ";\nreturn await response.text();\n})()"
}
