package models

// CommandScript is the ordered list of lines sent to the remote shell.
type CommandScript struct {
	Source   string // file the script was read from, empty for in-memory input
	Commands []string
}

// Len returns the number of commands.
func (s CommandScript) Len() int {
	return len(s.Commands)
}
