package ragcore

import (
	"errors"

	"github.com/mexar/ragcore/compiler"
	"github.com/mexar/ragcore/llm"
	"github.com/mexar/ragcore/parser"
	"github.com/mexar/ragcore/store"
)

var (
	// ErrAgentNotFound is returned when an agent name does not resolve.
	ErrAgentNotFound = errors.New("ragcore: agent not found")

	// ErrAgentExists is returned when creating an agent whose (tenant,
	// name) pair already exists.
	ErrAgentExists = errors.New("ragcore: agent already exists")

	// ErrNotReady is returned when a query is issued against an agent
	// whose status is not "ready".
	ErrNotReady = errors.New("ragcore: agent is not ready")

	// ErrConflictingCompilation is returned when a compile request is
	// made while another compilation is already in progress for the
	// same agent. Aliases compiler.ErrConflictingCompilation, which is
	// where the single-writer lock actually lives.
	ErrConflictingCompilation = compiler.ErrConflictingCompilation

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	// Aliases parser.ErrUnsupportedFormat, raised by Registry.Get.
	ErrUnsupportedFormat = parser.ErrUnsupportedFormat

	// ErrParsingFailed is returned when every file in a compile batch
	// fails to parse. Aliases compiler.ErrParsingFailed.
	ErrParsingFailed = compiler.ErrParsingFailed

	// ErrInsufficientContent is returned when a compiled corpus has zero
	// usable content across all sources. Aliases
	// compiler.ErrInsufficientContent.
	ErrInsufficientContent = compiler.ErrInsufficientContent

	// ErrEmbeddingFailed is returned when embedding generation fails
	// during compilation. Aliases compiler.ErrEmbeddingFailed.
	ErrEmbeddingFailed = compiler.ErrEmbeddingFailed

	// ErrIndexWriteFailure is returned when the chunk index fails to
	// atomically replace an agent's chunk set during compilation.
	// Aliases compiler.ErrIndexWriteFailure.
	ErrIndexWriteFailure = compiler.ErrIndexWriteFailure

	// ErrLLMUnavailable is returned when the LLM provider is unreachable.
	// Aliases llm.ErrUnavailable.
	ErrLLMUnavailable = llm.ErrUnavailable

	// ErrLLMRequestFailed is returned when an LLM request fails.
	// Aliases llm.ErrRequestFailed.
	ErrLLMRequestFailed = llm.ErrRequestFailed

	// ErrStoreClosed is returned when operating on a closed store.
	// Aliases store.ErrClosed.
	ErrStoreClosed = store.ErrClosed

	// ErrInvalidConfig is returned for invalid configuration values,
	// including those rejected by the configured LLM providers.
	// Aliases llm.ErrInvalidConfig.
	ErrInvalidConfig = llm.ErrInvalidConfig
)
