package core

import (
	"errors"
	"time"

	"github.com/searchktools/tinyweb/core/pools"
	"github.com/searchktools/tinyweb/core/store"
)

// Trigger modes: which sockets are registered edge-triggered
const (
	TrigModeLevel    = 0 // listen LT, connections LT
	TrigModeConnET   = 1 // listen LT, connections ET
	TrigModeListenET = 2 // listen ET, connections LT
	TrigModeBothET   = 3 // listen ET, connections ET
)

// Defaults applied by NewEngine to unset options
const (
	DefaultMaxConns = 65536
	DefaultMaxWait  = 10 * time.Second
	ListenBacklog   = 1024
)

// busyMessage is written to a client accepted above MaxConns
const busyMessage = "Server busy!"

// Error definitions
var (
	ErrServerClosed   = errors.New("tinyweb: server closed")
	ErrBadTrigMode    = errors.New("tinyweb: trigger mode must be 0..3")
	ErrPortRange      = errors.New("tinyweb: port must be 0..65535")
	ErrExecutorClosed = pools.ErrExecutorClosed
	ErrPoolClosed     = store.ErrPoolClosed
)
