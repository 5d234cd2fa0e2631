// Package model defines the provider‑agnostic abstractions and concrete
// helpers for interacting with language models inside ResearchMesh.
//
// Core goals:
//   - Keep every call to exactly two plain-text messages (system + user)
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic, Gemini) implement the Model interface from
// this package so the engine remains decoupled from vendor SDKs. Call drains
// a Model's channels into a single final Response.
package model
