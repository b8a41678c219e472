package observability

import (
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ProbeBuildResource exposes buildResource to external tests.
func ProbeBuildResource(cfg Config) (*resource.Resource, error) {
	return buildResource(cfg)
}

// ProbeSamplerSpan reports whether selectSampler(cfg) samples a root span
// (no parent context) under the given configuration.
func ProbeSamplerSpan(cfg Config) bool {
	sampler := selectSampler(cfg)

	result := sampler.ShouldSample(sdktrace.SamplingParameters{
		Name: "probe",
	})

	return result.Decision != sdktrace.Drop
}
