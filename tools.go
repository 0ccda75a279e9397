//go:build tools

// Package tools pins the module's build-time tooling so `go mod tidy`
// keeps them in go.sum without them leaking into the production build.
package tools

import (
	// Lint / format
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/tools/cmd/goimports"

	// Mock generation for interfaces in pkg/interfaces
	_ "github.com/golang/mock/mockgen"

	// BDD-style spec runner, used for the slower daemon/CLI suites
	_ "github.com/onsi/ginkgo/v2/ginkgo"
	_ "gotest.tools/gotestsum"

	// Static security scanning
	_ "github.com/securego/gosec/v2/cmd/gosec"

	// Goroutine/heap profiling for the build queue under load
	_ "github.com/google/pprof"

	// CLI reference docs
	_ "github.com/swaggo/swag/cmd/swag"
)
