// Package main is the entry point for the sandbox-router core: the
// request-routing fabric that ties clients, sandboxes, and portals
// together over a single WebSocket listener.
//
// Usage:
//
//	core serve [--port] [--driver process|docker]
//	core token
//	core sandboxes [--portal <id>]
package main

import "github.com/sandboxrouter/core/internal/cli"

func main() {
	cli.Execute()
}
