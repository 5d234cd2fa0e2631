// Package testutil contains helpers used across tests to reduce boilerplate
// when constructing research states, scripting model replies per research
// phase and faking tools. They are not intended for production usage.
package testutil
