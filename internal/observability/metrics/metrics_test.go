package metrics

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "123"),
		attribute.String("user_id", "456"),
		attribute.String("endpoint", "/auth/login"),
		attribute.String("status_code", "401"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "org_id" || attr.Key == "user_id" {
			t.Fatalf("expected %s to be dropped", attr.Key)
		}
	}
}
