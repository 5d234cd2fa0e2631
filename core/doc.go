// Package core provides the foundational research domain types used by
// ResearchMesh. It defines:
//
//   - ResearchState (the serializable scratchpad driven by the engine)
//   - ResearchQuestion, Fact, Citation and RoundSummary records
//   - Observation (ephemeral per-iteration tool results, never persisted)
//   - Phase, QuestionStatus and Confidence enums
//   - CallLimiter for bounding model calls per run
//
// ResearchState is a value type. Components receive a snapshot and return a
// new state; Clone performs the deep copy that makes this safe. Only the engine
// owns and mutates the state of a running research session.
package core
