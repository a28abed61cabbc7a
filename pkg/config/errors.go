package config

import "errors"

var ErrBadTurnServer = errors.New("TURN or TURNS servers should have both username and credential")
