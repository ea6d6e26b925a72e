/*
Copyright 2023.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package serviceuser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/opdev/subreconciler"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	lldapv1alpha1 "github.com/snapp-incubator/lldap-operator/api/v1alpha1"
	"github.com/snapp-incubator/lldap-operator/internal/config"
	"github.com/snapp-incubator/lldap-operator/internal/controllers/common"
	"github.com/snapp-incubator/lldap-operator/internal/lldap"
	"github.com/snapp-incubator/lldap-operator/pkg/consts"
)

type Reconciler struct {
	client.Client
	scheme      *runtime.Scheme
	logger      logr.Logger
	recorder    record.EventRecorder
	lldapClient lldap.Client

	// reconcile specific variables
	serviceUser   *lldapv1alpha1.ServiceUser
	directoryUser *lldap.User
	username      string
	secretName    string
	baselineGroup string
	userCreated   bool
	credentialSet bool

	// configurations
	resyncInterval    time.Duration
	authRetryInterval time.Duration
}

func NewReconciler(mgr manager.Manager, cfg *config.Config, lldapClient lldap.Client) *Reconciler {
	return &Reconciler{
		Client:      mgr.GetClient(),
		scheme:      mgr.GetScheme(),
		recorder:    mgr.GetEventRecorderFor("serviceuser-controller"),
		lldapClient: lldapClient,

		resyncInterval:    cfg.Controller.ResyncInterval,
		authRetryInterval: cfg.Controller.AuthRetryInterval,
	}
}

//+kubebuilder:rbac:groups=lldap.snappcloud.io,resources=serviceusers,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups=lldap.snappcloud.io,resources=serviceusers/status,verbs=get;update;patch
//+kubebuilder:rbac:groups=lldap.snappcloud.io,resources=serviceusers/finalizers,verbs=update
//+kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch;create;delete
//+kubebuilder:rbac:groups="",resources=events,verbs=create;patch

func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	r.logger = log.FromContext(ctx)
	r.serviceUser = &lldapv1alpha1.ServiceUser{}

	// Fetch the object
	switch err := r.Get(ctx, req.NamespacedName, r.serviceUser); {
	case apierrors.IsNotFound(err):
		return subreconciler.Evaluate(subreconciler.DoNotRequeue())
	case err != nil:
		r.logger.Error(err, "failed to fetch object")
		return subreconciler.Evaluate(subreconciler.Requeue())
	}

	r.initVars()

	if r.serviceUser.ObjectMeta.DeletionTimestamp != nil {
		return r.Cleanup(ctx)
	}
	return r.Provision(ctx)
}

func (r *Reconciler) initVars() {
	r.username = r.serviceUser.Username()
	r.secretName = common.CredentialSecretName(r.serviceUser.Name)
	r.baselineGroup = common.BaselineGroup(r.serviceUser.Spec.PasswordManager)
	r.directoryUser = nil
	r.userCreated = false
	r.credentialSet = false
}

// directoryFailure maps a failed directory call onto the requeue behavior of
// its error class and records the failure on the object.
func (r *Reconciler) directoryFailure(ctx context.Context, err error, msg string) (*ctrl.Result, error) {
	r.logger.Error(err, msg)

	if lldap.IsUnauthorized(err) {
		r.recorder.Event(r.serviceUser, corev1.EventTypeWarning, consts.EventUnauthorized,
			"The directory rejected the operator credentials")
		r.markNotReady(ctx, common.ReasonUnauthorized, "the directory rejected the operator credentials")
		return subreconciler.RequeueWithDelay(r.authRetryInterval)
	}

	r.markNotReady(ctx, common.ReasonReconcileError, fmt.Sprintf("%s: %s", msg, err))
	return subreconciler.RequeueWithError(err)
}

// markNotReady records a failure condition on the status. A conflicting
// write only delays the condition until the next pass.
func (r *Reconciler) markNotReady(ctx context.Context, reason, message string) {
	common.SetReadyCondition(&r.serviceUser.Status.Conditions, false, reason, message)
	if err := r.Status().Update(ctx, r.serviceUser); err != nil {
		r.logger.Info("failed to record failure condition", "error", err.Error())
	}
}
