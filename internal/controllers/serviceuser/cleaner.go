package serviceuser

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

// Cleanup removes the directory user and releases the serviceUser object.
func (r *Reconciler) Cleanup(ctx context.Context) (ctrl.Result, error) {
	// Do the actual reconcile work
	subrecs := []subreconciler.Fn{
		r.skipIfNeverProvisioned,
		r.removeDirectoryUser,
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
// without it no directory user was created on this object's behalf.
func (r *Reconciler) skipIfNeverProvisioned(context.Context) (*ctrl.Result, error) {
	if !controllerutil.ContainsFinalizer(r.serviceUser, consts.ServiceUserCleanupFinalizer) {
		return subreconciler.DoNotRequeue()
	}
	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) removeDirectoryUser(ctx context.Context) (*ctrl.Result, error) {
	switch err := r.lldapClient.DeleteUser(ctx, r.username); {
	case lldap.IsNotFound(err):
		r.logger.Info("directory user already gone", "username", r.username)
		r.recorder.Event(r.serviceUser, corev1.EventTypeNormal, consts.EventUserNotFound,
			fmt.Sprintf("User '%s' not found", r.username))
		return subreconciler.ContinueReconciling()
	case err != nil:
		return r.directoryFailure(ctx, err, "failed to delete directory user")
	default:
		r.recorder.Event(r.serviceUser, corev1.EventTypeNormal, consts.EventUserDeleted,
			fmt.Sprintf("Deleted user '%s'", r.username))
		return subreconciler.ContinueReconciling()
	}
}

// removeCleanupFinalizer releases the object; the owned Secret follows
// through garbage collection.
func (r *Reconciler) removeCleanupFinalizer(ctx context.Context) (*ctrl.Result, error) {
	if objUpdated := controllerutil.RemoveFinalizer(r.serviceUser, consts.ServiceUserCleanupFinalizer); objUpdated {
		if err := r.Update(ctx, r.serviceUser); err != nil {
			r.logger.Error(err, "failed to update serviceUser")
			return subreconciler.Requeue()
		}
	}
	return subreconciler.ContinueReconciling()
}
