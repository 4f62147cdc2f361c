// Package orchestrator provides the public API for embedding the LLM
// orchestration runtime.
package orchestrator

import (
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
	"github.com/tjfontaine/polyglot-orchestrator/internal/runtime"
)

// Runtime is the main entry point for running the orchestrator.
// See internal/runtime.Runtime for full documentation.
type Runtime = runtime.Runtime

// Option is a functional option for configuring a Runtime.
type Option = runtime.Option

// New creates a new Runtime with the given options.
// Example:
//
//	rt, err := orchestrator.New(ctx,
//	    orchestrator.WithConfigFile("config.yaml"),
//	)
var New = runtime.New

// Configuration options
var (
	WithConfigFile   = runtime.WithConfigFile
	WithConfig       = runtime.WithConfig
	WithLogger       = runtime.WithLogger
	WithSink         = runtime.WithSink
	WithToolRegistry = runtime.WithToolRegistry
	WithModelFactory = runtime.WithModelFactory
	WithRetryOptions = runtime.WithRetryOptions
)

// Request and response types
type (
	ChatRequest     = domain.ChatRequest
	ChatResponse    = domain.ChatResponse
	Message         = domain.Message
	Role            = domain.Role
	ToolCall        = domain.ToolCall
	RunContext      = domain.RunContext
	Usage           = domain.Usage
	StreamEvent     = domain.StreamEvent
	StreamEventType = domain.StreamEventType
	CallLog         = domain.CallLog
	Error           = domain.Error
	ErrorKind       = domain.ErrorKind
)

// Extension points
type (
	ChatModel    = ports.ChatModel
	ModelFactory = ports.ModelFactory
	Tool         = ports.Tool
	CallLogSink  = ports.CallLogSink
)

// NewRunContext returns a run context with fresh ids.
var NewRunContext = domain.NewRunContext
