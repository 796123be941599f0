// Package api is the HTTP control surface of the lock gate.
//
// Routes mirror the websocket actions for clients that do not hold a socket open
// (shell helpers, native shells, test rigs). All bodies are JSON; errors use the
// {"error":{"code","message"}} shape with the same codes as the lockgate.v1 contract.
package api
