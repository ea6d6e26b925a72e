package group

import (
	"context"
	"fmt"

	"github.com/opdev/subreconciler"
	corev1 "k8s.io/api/core/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/snapp-incubator/lldap-operator/internal/lldap"
	"github.com/snapp-incubator/lldap-operator/pkg/consts"
)

// Cleanup removes the directory group and releases the group object.
func (r *Reconciler) Cleanup(ctx context.Context) (ctrl.Result, error) {
	// Do the actual reconcile work
	subrecs := []subreconciler.Fn{
		r.skipIfNeverProvisioned,
		r.removeDirectoryGroup,
		r.removeCleanupFinalizer,
	}
	for _, subrec := range subrecs {
		result, err := subrec(ctx)
		if subreconciler.ShouldHaltOrRequeue(result, err) {
			return subreconciler.Evaluate(result, err)
		}
	}

	return subreconciler.Evaluate(subreconciler.DoNotRequeue())
}

// skipIfNeverProvisioned stops the cleanup when the finalizer is absent:
// without it no directory group was created on this object's behalf.
func (r *Reconciler) skipIfNeverProvisioned(context.Context) (*ctrl.Result, error) {
	if !controllerutil.ContainsFinalizer(r.group, consts.GroupCleanupFinalizer) {
		return subreconciler.DoNotRequeue()
	}
	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) removeDirectoryGroup(ctx context.Context) (*ctrl.Result, error) {
	if isBuiltinGroup(r.displayName) {
		// Deleting a stock group would break the directory for everyone, no
		// matter who created the object that adopted it.
		r.logger.Info("builtin directory group is left in place", "group", r.displayName)
		return subreconciler.ContinueReconciling()
	}

	id := 0
	if r.group.Status.ID != nil {
		id = *r.group.Status.ID
	} else {
		groups, err := r.lldapClient.GetGroups(ctx)
		if err != nil {
			return r.directoryFailure(ctx, err, "failed to list directory groups")
		}
		found := false
		for _, group := range groups {
			if group.DisplayName == r.displayName {
				id = group.ID
				found = true
				break
			}
		}
		if !found {
			r.logger.Info("directory group already gone", "group", r.displayName)
			r.recorder.Event(r.group, corev1.EventTypeNormal, consts.EventGroupNotFound,
				fmt.Sprintf("Group '%s' not found", r.displayName))
			return subreconciler.ContinueReconciling()
		}
	}

	switch err := r.lldapClient.DeleteGroup(ctx, id); {
	case lldap.IsNotFound(err):
		r.logger.Info("directory group already gone", "group", r.displayName)
		r.recorder.Event(r.group, corev1.EventTypeNormal, consts.EventGroupNotFound,
			fmt.Sprintf("Group '%s' not found", r.displayName))
		return subreconciler.ContinueReconciling()
	case err != nil:
		return r.directoryFailure(ctx, err, "failed to delete directory group")
	default:
		r.recorder.Event(r.group, corev1.EventTypeNormal, consts.EventGroupDeleted,
			fmt.Sprintf("Deleted group '%s'", r.displayName))
		return subreconciler.ContinueReconciling()
	}
}

// removeCleanupFinalizer releases the object.
func (r *Reconciler) removeCleanupFinalizer(ctx context.Context) (*ctrl.Result, error) {
	if objUpdated := controllerutil.RemoveFinalizer(r.group, consts.GroupCleanupFinalizer); objUpdated {
		if err := r.Update(ctx, r.group); err != nil {
			r.logger.Error(err, "failed to update group")
			return subreconciler.Requeue()
		}
	}
	return subreconciler.ContinueReconciling()
}

func isBuiltinGroup(name string) bool {
	switch name {
	case consts.GroupAdmin, consts.GroupPasswordManager, consts.GroupStrictReadonly:
		return true
	}
	return false
}
