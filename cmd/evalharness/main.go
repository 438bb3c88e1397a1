// Evalharness dispatches evaluation calls to LLM vendors through a uniform
// pipeline: provider identifier parsing, layered configuration resolution,
// adapter dispatch, response normalization, caching, retries and cost
// accounting.
//
// Usage:
//
//	# Run a suite of evaluations from a YAML file
//	evalharness run --suite suite.yaml
//
//	# Start the HTTP daemon
//	evalharness serve
//
//	# Show version information
//	evalharness version
package main

func main() {
	Execute()
}
