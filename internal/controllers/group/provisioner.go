package group

import (
	"context"
	"fmt"
	"strings"

	"github.com/opdev/subreconciler"
	corev1 "k8s.io/api/core/v1"
	apiequality "k8s.io/apimachinery/pkg/api/equality"
	genericregistry "k8s.io/apiserver/pkg/registry/generic/registry"
	"k8s.io/utils/pointer"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/snapp-incubator/lldap-operator/internal/controllers/common"
	"github.com/snapp-incubator/lldap-operator/internal/lldap"
	"github.com/snapp-incubator/lldap-operator/pkg/consts"
)

// Provision converges the directory with the group object.
func (r *Reconciler) Provision(ctx context.Context) (ctrl.Result, error) {
	// Do the actual reconcile work
	subrecs := []subreconciler.Fn{
		r.addCleanupFinalizer,
		r.ensureDirectoryGroup,
		r.updateGroupStatus,
	}
	for _, subrec := range subrecs {
		result, err := subrec(ctx)
		if subreconciler.ShouldHaltOrRequeue(result, err) {
			return subreconciler.Evaluate(result, err)
		}
	}

	return subreconciler.Evaluate(subreconciler.RequeueWithDelay(r.resyncInterval))
}

// addCleanupFinalizer persists the finalizer before the first directory
// write. The pass restarts once the finalizer is committed.
func (r *Reconciler) addCleanupFinalizer(ctx context.Context) (*ctrl.Result, error) {
	if objUpdated := controllerutil.AddFinalizer(r.group, consts.GroupCleanupFinalizer); objUpdated {
		if err := r.Update(ctx, r.group); err != nil {
			r.logger.Error(err, "failed to add finalizer to the group")
		}
		return subreconciler.Requeue()
	}
	return subreconciler.ContinueReconciling()
}

// ensureDirectoryGroup adopts an existing directory group by display name or
// creates a missing one.
func (r *Reconciler) ensureDirectoryGroup(ctx context.Context) (*ctrl.Result, error) {
	groups, err := r.lldapClient.GetGroups(ctx)
	if err != nil {
		return r.directoryFailure(ctx, err, "failed to list directory groups")
	}
	for _, group := range groups {
		if group.DisplayName == r.displayName {
			existing := group
			r.directoryGroup = &existing
			return subreconciler.ContinueReconciling()
		}
	}

	created, err := r.lldapClient.CreateGroup(ctx, r.displayName)
	if err != nil {
		if lldap.IsConflict(err) {
			// Someone created it between our list and create. The next pass
			// reads it back.
			return subreconciler.Requeue()
		}
		return r.directoryFailure(ctx, err, "failed to create directory group")
	}
	r.recorder.Event(r.group, corev1.EventTypeNormal, consts.EventGroupCreated,
		fmt.Sprintf("Created group '%s'", r.displayName))
	r.directoryGroup = created
	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) updateGroupStatus(ctx context.Context) (*ctrl.Result, error) {
	status := *r.group.Status.DeepCopy()
	if r.directoryGroup != nil {
		status.ID = pointer.Int(r.directoryGroup.ID)
	}
	common.SetReadyCondition(&status.Conditions, true, common.ReasonReconcileSuccess, "directory group in sync")

	if !apiequality.Semantic.DeepEqual(r.group.Status, status) {
		r.group.Status = status
		if err := r.Status().Update(ctx, r.group); err != nil {
			if strings.Contains(err.Error(), genericregistry.OptimisticLockErrorMsg) {
				r.logger.Info("re-queuing item due to optimistic locking on resource", "error", err.Error())
			} else {
				r.logger.Error(err, "failed to update group status")
			}
			return subreconciler.Requeue()
		}
	}

	return subreconciler.ContinueReconciling()
}
