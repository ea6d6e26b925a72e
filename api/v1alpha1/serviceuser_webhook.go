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

package v1alpha1

import (
	"errors"

	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/webhook"

	"github.com/snapp-incubator/lldap-operator/pkg/consts"
)

const maxUsernameLength = 255

var serviceuserlog = logf.Log.WithName("serviceuser-resource")

func (su *ServiceUser) SetupWebhookWithManager(mgr ctrl.Manager) error {
	return ctrl.NewWebhookManagedBy(mgr).
		For(su).
		Complete()
}

//+kubebuilder:webhook:path=/validate-lldap-snappcloud-io-v1alpha1-serviceuser,mutating=false,failurePolicy=fail,sideEffects=None,groups=lldap.snappcloud.io,resources=serviceusers,verbs=create;update,versions=v1alpha1,name=vserviceuser.kb.io,admissionReviewVersions=v1

var _ webhook.Validator = &ServiceUser{}

func (su *ServiceUser) ValidateCreate() error {
	serviceuserlog.Info("validate create", "name", su.Name)
	return su.ValidateSpec()
}

func (su *ServiceUser) ValidateUpdate(old runtime.Object) error {
	serviceuserlog.Info("validate update", "name", su.Name)
	return su.ValidateSpec()
}

func (su *ServiceUser) ValidateDelete() error {
	return nil
}

// ValidateSpec checks the rules the directory imposes on a service user.
// The controller re-runs it for resources admitted before the webhook was
// installed.
func (su *ServiceUser) ValidateSpec() error {
	if len(su.Username()) > maxUsernameLength {
		return errors.New(consts.UsernameTooLongErrMessage)
	}

	seen := make(map[string]struct{}, len(su.Spec.AdditionalGroups))
	for _, group := range su.Spec.AdditionalGroups {
		switch group {
		case "":
			return errors.New(consts.EmptyGroupErrMessage)
		case consts.GroupPasswordManager, consts.GroupStrictReadonly:
			return errors.New(consts.BaselineGroupErrMessage)
		}
		if _, duplicate := seen[group]; duplicate {
			return errors.New(consts.DuplicateGroupErrMessage)
		}
		seen[group] = struct{}{}
	}

	return nil
}
