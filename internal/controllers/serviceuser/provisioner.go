package serviceuser

import (
	"context"
	"fmt"
	"strings"

	"github.com/opdev/subreconciler"
	corev1 "k8s.io/api/core/v1"
	apiequality "k8s.io/apimachinery/pkg/api/equality"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	genericregistry "k8s.io/apiserver/pkg/registry/generic/registry"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/snapp-incubator/lldap-operator/internal/controllers/common"
	"github.com/snapp-incubator/lldap-operator/internal/lldap"
	"github.com/snapp-incubator/lldap-operator/internal/membership"
	"github.com/snapp-incubator/lldap-operator/pkg/consts"
)

// Provision converges the directory and the credential Secret with the
// serviceUser object.
func (r *Reconciler) Provision(ctx context.Context) (ctrl.Result, error) {
	// Do the actual reconcile work
	subrecs := []subreconciler.Fn{
		r.addCleanupFinalizer,
		r.validateSpec,
		r.ensureDirectoryUser,
		r.ensureGroupMemberships,
		r.ensureCredentialsSecret,
		r.updateServiceUserStatus,
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
// write, so a half-provisioned directory user can never outlive its
// serviceUser. The pass restarts once the finalizer is committed.
func (r *Reconciler) addCleanupFinalizer(ctx context.Context) (*ctrl.Result, error) {
	if objUpdated := controllerutil.AddFinalizer(r.serviceUser, consts.ServiceUserCleanupFinalizer); objUpdated {
		if err := r.Update(ctx, r.serviceUser); err != nil {
			r.logger.Error(err, "failed to add finalizer to the serviceUser")
		}
		return subreconciler.Requeue()
	}
	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) validateSpec(ctx context.Context) (*ctrl.Result, error) {
	err := r.serviceUser.ValidateSpec()
	if err == nil {
		return subreconciler.ContinueReconciling()
	}

	r.logger.Info("invalid spec", "error", err.Error())
	r.recorder.Event(r.serviceUser, corev1.EventTypeWarning, consts.EventInvalidSpec, err.Error())
	common.SetReadyCondition(&r.serviceUser.Status.Conditions, false, common.ReasonInvalidSpec, err.Error())
	common.SetStalledCondition(&r.serviceUser.Status.Conditions, true, common.ReasonInvalidSpec, err.Error())
	if updateErr := r.Status().Update(ctx, r.serviceUser); updateErr != nil {
		r.logger.Error(updateErr, "failed to update serviceUser status")
		return subreconciler.Requeue()
	}

	// Retrying cannot help until the spec changes.
	return subreconciler.DoNotRequeue()
}

func (r *Reconciler) ensureDirectoryUser(ctx context.Context) (*ctrl.Result, error) {
	switch user, err := r.lldapClient.GetUser(ctx, r.username); {
	case err == nil:
		r.directoryUser = user
		return subreconciler.ContinueReconciling()
	case lldap.IsNotFound(err):
		user, err := r.lldapClient.CreateUser(ctx, r.username)
		if err != nil {
			if lldap.IsConflict(err) {
				// Someone created it between our get and create. The next
				// pass reads it back.
				return subreconciler.Requeue()
			}
			return r.directoryFailure(ctx, err, "failed to create directory user")
		}
		r.recorder.Event(r.serviceUser, corev1.EventTypeNormal, consts.EventUserCreated,
			fmt.Sprintf("Created user '%s'", r.username))
		r.directoryUser = user
		r.userCreated = true
		return subreconciler.ContinueReconciling()
	default:
		return r.directoryFailure(ctx, err, "failed to get directory user")
	}
}

// ensureGroupMemberships grants the baseline group and every requested
// additional group. Grants are best effort: all of them are attempted even
// when one fails, and the first error decides the requeue.
func (r *Reconciler) ensureGroupMemberships(ctx context.Context) (*ctrl.Result, error) {
	delta := membership.Diff(
		r.serviceUser.Spec.AdditionalGroups,
		[]string{r.baselineGroup},
		r.directoryUser.GroupNames(),
		nil,
	)
	if len(delta.ToAdd) == 0 {
		return subreconciler.ContinueReconciling()
	}

	groups, err := r.lldapClient.GetGroups(ctx)
	if err != nil {
		return r.directoryFailure(ctx, err, "failed to list directory groups")
	}
	groupIDs := make(map[string]int, len(groups))
	for _, group := range groups {
		groupIDs[group.DisplayName] = group.ID
	}

	var firstErr error
	for _, name := range delta.ToAdd {
		groupID, found := groupIDs[name]
		if !found {
			r.logger.Info("directory group does not exist", "group", name)
			r.recorder.Event(r.serviceUser, corev1.EventTypeWarning, consts.EventGroupNotFound,
				fmt.Sprintf("Group '%s' does not exist in the directory", name))
			if firstErr == nil {
				firstErr = fmt.Errorf("group %q not found in the directory", name)
			}
			continue
		}
		if err := r.lldapClient.AddUserToGroup(ctx, r.username, groupID); err != nil && !lldap.IsConflict(err) {
			r.logger.Error(err, "failed to add user to group", "group", name)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return r.directoryFailure(ctx, firstErr, "failed to sync group memberships")
	}

	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) updateServiceUserStatus(ctx context.Context) (*ctrl.Result, error) {
	status := *r.serviceUser.Status.DeepCopy()
	if r.credentialSet && status.SecretCreated == nil {
		now := metav1.Now()
		status.SecretCreated = &now
	}
	common.SetReadyCondition(&status.Conditions, true, common.ReasonReconcileSuccess, "directory user in sync")
	if common.GetCondition(status.Conditions, common.TypeStalled) != nil {
		common.SetStalledCondition(&status.Conditions, false, common.ReasonReconcileSuccess, "")
	}

	if !apiequality.Semantic.DeepEqual(r.serviceUser.Status, status) {
		r.serviceUser.Status = status
		if err := r.Status().Update(ctx, r.serviceUser); err != nil {
			if strings.Contains(err.Error(), genericregistry.OptimisticLockErrorMsg) {
				r.logger.Info("re-queuing item due to optimistic locking on resource", "error", err.Error())
			} else {
				r.logger.Error(err, "failed to update serviceUser status")
			}
			return subreconciler.Requeue()
		}
	}

	return subreconciler.ContinueReconciling()
}
