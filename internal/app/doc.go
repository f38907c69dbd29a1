// Package app contains the core application logic. It loads a graph file,
// evaluates it on a flow.Graph and reports every result, decoupled from any
// specific entrypoint like a CLI or server.
package app
