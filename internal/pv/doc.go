// Package pv provides access to the remote variables exposed by a motor
// controller.
//
// A remote variable is a named scalar that can be read and written
// independently. The Accessor interface is the only contract the rest of
// axisverify depends on; this package ships transports for it:
//
//   - WebSocket: JSON request/response frames over a websocket connection
//   - Line: a text protocol ("GET name" / "PUT name value") over TCP or a
//     serial port
//   - MCP: pv_get / pv_put tool calls against an MCP server
//
// Record layers motor-record naming on top of an Accessor, so callers work
// with fields such as VAL, DMOV or MSTA instead of full variable names.
//
// Session serializes use of one Accessor when several axes share a
// connection.
package pv
