package common

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Condition types following kstatus conventions.
// See: https://github.com/kubernetes-sigs/cli-utils/tree/master/pkg/kstatus
const (
	// TypeReady indicates the resource is reconciled with the directory.
	TypeReady = "Ready"

	// TypeStalled indicates reconciliation cannot progress without a
	// spec change.
	TypeStalled = "Stalled"
)

// Condition reasons.
const (
	// ReasonReconcileSuccess indicates successful reconciliation.
	ReasonReconcileSuccess = "ReconcileSuccess"

	// ReasonReconcileError indicates a reconciliation error.
	ReasonReconcileError = "ReconcileError"

	// ReasonInvalidSpec indicates the spec is invalid.
	ReasonInvalidSpec = "InvalidSpec"

	// ReasonUnauthorized indicates the directory rejected the operator
	// credentials.
	ReasonUnauthorized = "Unauthorized"
)

// SetCondition adds or updates a condition in the conditions slice.
// LastTransitionTime is refreshed only when the status flips.
func SetCondition(conditions *[]metav1.Condition, conditionType string, status metav1.ConditionStatus, reason, message string) {
	now := metav1.NewTime(time.Now())
	newCondition := metav1.Condition{
		Type:               conditionType,
		Status:             status,
		Reason:             reason,
		Message:            message,
		LastTransitionTime: now,
	}

	for i, condition := range *conditions {
		if condition.Type != conditionType {
			continue
		}
		if condition.Status == status {
			newCondition.LastTransitionTime = condition.LastTransitionTime
		}
		(*conditions)[i] = newCondition
		return
	}

	*conditions = append(*conditions, newCondition)
}

// GetCondition returns the condition of the given type, or nil when absent.
func GetCondition(conditions []metav1.Condition, conditionType string) *metav1.Condition {
	for _, condition := range conditions {
		if condition.Type == conditionType {
			return &condition
		}
	}
	return nil
}

// SetReadyCondition sets the Ready condition.
func SetReadyCondition(conditions *[]metav1.Condition, ready bool, reason, message string) {
	status := metav1.ConditionTrue
	if !ready {
		status = metav1.ConditionFalse
	}
	SetCondition(conditions, TypeReady, status, reason, message)
}

// SetStalledCondition sets the Stalled condition.
func SetStalledCondition(conditions *[]metav1.Condition, stalled bool, reason, message string) {
	status := metav1.ConditionTrue
	if !stalled {
		status = metav1.ConditionFalse
	}
	SetCondition(conditions, TypeStalled, status, reason, message)
}
