package service

import (
	"go.opentelemetry.io/otel/attribute"

	id "onboarding/pkg/domain"
)

func workflowAttr(workflowID id.WorkflowID) attribute.KeyValue {
	return attribute.String("workflow.id", workflowID.String())
}
