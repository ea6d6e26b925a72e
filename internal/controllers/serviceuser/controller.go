package serviceuser

import (
	corev1 "k8s.io/api/core/v1"
	ctrl "sigs.k8s.io/controller-runtime"

	lldapv1alpha1 "github.com/snapp-incubator/lldap-operator/api/v1alpha1"
)

// SetupWithManager sets up the controller with the Manager.
func (r *Reconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&lldapv1alpha1.ServiceUser{}).
		Owns(&corev1.Secret{}).
		Complete(r)
}
