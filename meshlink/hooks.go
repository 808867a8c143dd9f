// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"context"
	"log/slog"
)

// CommandHook provides observability callpoints around each command a
// Session exchanges with the engine. For a batch, OnCommandStart runs for
// every queued command before the burst is written and OnCommandEnd runs as
// each paired response is read.
type CommandHook interface {
	OnCommandStart(ctx context.Context, info CommandInfo) (context.Context, HookToken)
	OnCommandEnd(ctx context.Context, token HookToken, info CommandInfo, stats *CommandStatistics, err error)
}

// HookToken is an opaque value returned by OnCommandStart and passed back
// to OnCommandEnd. Only meaningful to the CommandHook that created it.
type HookToken interface{}

// CommandInfo describes the command being exchanged.
type CommandInfo struct {
	Command   CommandName   // command name
	SessionID string        // Session.ID()
	Transport TransportKind // process or socket
	Batch     bool          // sent as part of a batch
}

// CommandStatistics holds per-command I/O counters. Byte counts are zero
// for batched commands, which share one write.
type CommandStatistics struct {
	BytesSent     int64
	BytesReceived int64
	ResponseType  ResponseType
}

// MultiHook runs several hooks in order.
type MultiHook []CommandHook

type multiToken []HookToken

func (m MultiHook) OnCommandStart(ctx context.Context, info CommandInfo) (context.Context, HookToken) {
	tokens := make(multiToken, len(m))
	for i, h := range m {
		var next context.Context
		next, tokens[i] = h.OnCommandStart(ctx, info)
		if next != nil {
			ctx = next
		}
	}
	return ctx, tokens
}

func (m MultiHook) OnCommandEnd(ctx context.Context, token HookToken, info CommandInfo, stats *CommandStatistics, err error) {
	tokens, _ := token.(multiToken)
	for i := len(m) - 1; i >= 0; i-- {
		var t HookToken
		if i < len(tokens) {
			t = tokens[i]
		}
		m[i].OnCommandEnd(ctx, t, info, stats, err)
	}
}

// hookCall is one in-flight hook invocation.
type hookCall struct {
	hook   CommandHook
	info   CommandInfo
	token  HookToken
	ctx    context.Context
	logger *slog.Logger
	active bool
}

func startHook(ctx context.Context, hook CommandHook, info CommandInfo, logger *slog.Logger) *hookCall {
	c := &hookCall{hook: hook, info: info, ctx: ctx, logger: logger}
	if hook == nil {
		return c
	}
	func() {
		defer func() {
			if rv := recover(); rv != nil {
				logger.Error("command hook start panic", "err", rv)
			}
		}()
		hookCtx, token := hook.OnCommandStart(ctx, info)
		if hookCtx != nil {
			c.ctx = hookCtx
		}
		c.token = token
		c.active = true
	}()
	return c
}

func (c *hookCall) end(stats *CommandStatistics, err error) {
	if !c.active {
		return
	}
	c.active = false
	defer func() {
		if rv := recover(); rv != nil {
			c.logger.Error("command hook end panic", "err", rv)
		}
	}()
	c.hook.OnCommandEnd(c.ctx, c.token, c.info, stats, err)
}
