package worker

import (
	"context"
	"encoding/json"
)

// CommandKind is an operator request resolved at the next tick boundary.
type CommandKind uint8

const (
	_command_kind_beg CommandKind = iota
	CommandStart
	CommandPause
	CommandResume
	CommandStop
	CommandPanic
	CommandTune
	CommandDelete
	_command_kind_end
)

func (k CommandKind) IsAvailable() bool {
	return k > _command_kind_beg && k < _command_kind_end
}

func (k CommandKind) String() string {
	switch k {
	case CommandStart:
		return "start"
	case CommandPause:
		return "pause"
	case CommandResume:
		return "resume"
	case CommandStop:
		return "stop"
	case CommandPanic:
		return "panic"
	case CommandTune:
		return "tune"
	case CommandDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Command carries an operator request and its reply.
type Command struct {
	Kind  CommandKind
	Patch json.RawMessage
	reply chan error
}

func NewCommand(kind CommandKind, patch json.RawMessage) Command {
	return Command{Kind: kind, Patch: patch, reply: make(chan error, 1)}
}

// Wait blocks until the worker resolved the command.
func (c Command) Wait(ctx context.Context) error {
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c Command) resolve(err error) {
	if c.reply == nil {
		return
	}
	select {
	case c.reply <- err:
	default:
	}
}
