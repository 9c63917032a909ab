package gate

import (
	"fmt"
	"strings"
)

// CommandKind names an action accepted by the loop.
type CommandKind int

const (
	CmdOpen CommandKind = iota + 1
	CmdClose
	CmdStop
	CmdPartial
	CmdEmergencyStop
	CmdEnterSafeMode
	CmdExitSafeMode
	CmdSetThreshold
)

var commandNames = map[CommandKind]string{
	CmdOpen:          "open",
	CmdClose:         "close",
	CmdStop:          "stop",
	CmdPartial:       "partial",
	CmdEmergencyStop: "estop",
	CmdEnterSafeMode: "enter-safe-mode",
	CmdExitSafeMode:  "exit-safe-mode",
	CmdSetThreshold:  "set",
}

func (k CommandKind) String() string {
	if n, ok := commandNames[k]; ok {
		return n
	}
	return fmt.Sprintf("command(%d)", int(k))
}

// Moves reports whether the command can energize an actuator.
func (k CommandKind) Moves() bool {
	return k == CmdOpen || k == CmdClose || k == CmdPartial
}

// ParseCommandKind accepts the names produced by String, case-insensitively.
func ParseCommandKind(s string) (CommandKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, n := range commandNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", s)
}

// Command is a request for the loop. Percent applies to CmdPartial, Name and
// Value to CmdSetThreshold, Reason to CmdEmergencyStop and CmdEnterSafeMode.
// Source identifies the ingress for logging.
type Command struct {
	Kind    CommandKind
	Percent int
	Name    string
	Value   string
	Reason  string
	Source  string
}

func (c Command) String() string {
	switch c.Kind {
	case CmdPartial:
		return fmt.Sprintf("partial %d", c.Percent)
	case CmdSetThreshold:
		return fmt.Sprintf("set %s %s", c.Name, c.Value)
	}
	return c.Kind.String()
}
