// Package server hosts the Fiber HTTP service and its middleware chain:
// panic recovery, request IDs and access logging. Handlers live in the
// routes subpackage and are attached by the caller after NewApp, so this
// package stays free of storage dependencies.
package server
