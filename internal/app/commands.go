package app

import (
	"errors"
	"fmt"
	"strings"
)

// CommandKind is a parsed input line's action.
type CommandKind int

const (
	// CommandSend posts the line to the selected channel.
	CommandSend CommandKind = iota
	// CommandJoin joins (or creates) a channel by name.
	CommandJoin
	// CommandLeave leaves a channel, the selected one by default.
	CommandLeave
	// CommandSwitch selects a channel by id.
	CommandSwitch
	// CommandChannels prints the channel list.
	CommandChannels
	// CommandHelp prints the command summary.
	CommandHelp
	// CommandQuit ends the session.
	CommandQuit
)

// Command is one line of user input.
type Command struct {
	Kind CommandKind
	Arg  string
}

var (
	// ErrUnknownCommand is returned for an unrecognised /command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMissingArgument is returned when a command needs an argument.
	ErrMissingArgument = errors.New("missing argument")
)

const helpText = `commands:
  /join <name>   join or create a channel and switch to it
  /leave [id]    leave a channel (default: the selected one)
  /switch <id>   select a joined channel
  /channels      list joined channels
  /quit          exit
anything else is sent to the selected channel`

// ParseCommand turns an input line into a Command. Lines that do not start
// with a slash are chat text. A leading "//" sends a literal slash.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)

	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: CommandSend, Arg: line}, nil
	}
	if strings.HasPrefix(trimmed, "//") {
		return Command{Kind: CommandSend, Arg: trimmed[1:]}, nil
	}

	name, arg, _ := strings.Cut(trimmed[1:], " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "join", "j":
		if arg == "" {
			return Command{}, fmt.Errorf("/join: %w: channel name", ErrMissingArgument)
		}
		return Command{Kind: CommandJoin, Arg: arg}, nil
	case "leave", "part":
		return Command{Kind: CommandLeave, Arg: arg}, nil
	case "switch", "s":
		if arg == "" {
			return Command{}, fmt.Errorf("/switch: %w: channel id", ErrMissingArgument)
		}
		return Command{Kind: CommandSwitch, Arg: arg}, nil
	case "channels", "list":
		return Command{Kind: CommandChannels}, nil
	case "help", "?":
		return Command{Kind: CommandHelp}, nil
	case "quit", "exit", "q":
		return Command{Kind: CommandQuit}, nil
	default:
		return Command{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}
}
