//go:build tools
// +build tools

// Package main pins tool dependencies.
package main

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
)
