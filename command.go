package main

import (
	"strings"

	"github.com/pkg/errors"
)

// Command is a token sent verbatim to the peer.
type Command string

const (
	CommandLeft  Command = "LEFT"
	CommandRight Command = "RIGHT"
)

var ErrUnknownCommand = errors.New("unknown command")

var commandAliases = map[string]Command{
	"left":     CommandLeft,
	"l":        CommandLeft,
	"esquerda": CommandLeft,
	"right":    CommandRight,
	"r":        CommandRight,
	"direita":  CommandRight,
}

// ParseCommand maps user input to a command token. Matching is case-insensitive.
func ParseCommand(s string) (Command, error) {
	if cmd, ok := commandAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return cmd, nil
	}
	return "", errors.Wrapf(ErrUnknownCommand, "%q (want LEFT or RIGHT)", s)
}

func (c Command) Valid() bool {
	return c == CommandLeft || c == CommandRight
}

// Bytes returns the wire payload: the literal token, no framing or terminator.
func (c Command) Bytes() []byte {
	return []byte(c)
}
