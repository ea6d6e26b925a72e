package serviceuser

import (
	"context"
	"fmt"

	"github.com/opdev/subreconciler"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/snapp-incubator/lldap-operator/internal/passwords"
	"github.com/snapp-incubator/lldap-operator/pkg/consts"
)

// ensureCredentialsSecret manages the one-time credential of a password
// manager user.
//
// The directory password is set strictly before the Secret is created, so a
// crash after SetPassword leaves no Secret and the next pass mints a fresh
// credential over the orphaned one. A credential is generated only while no
// Secret exists and an existing Secret is never overwritten; when the Secret
// survived but the directory user had to be recreated, the stored password
// is registered again instead.
func (r *Reconciler) ensureCredentialsSecret(ctx context.Context) (*ctrl.Result, error) {
	if !r.serviceUser.Spec.PasswordManager {
		// No credential management requested. An already minted Secret is
		// deliberately left alone.
		return subreconciler.ContinueReconciling()
	}

	existing := &corev1.Secret{}
	switch err := r.Get(
		ctx,
		types.NamespacedName{Namespace: r.serviceUser.Namespace, Name: r.secretName},
		existing,
	); {
	case apierrors.IsNotFound(err):
		return r.mintCredentials(ctx)
	case err != nil:
		r.logger.Error(err, "failed to get credentials secret")
		return subreconciler.Requeue()
	default:
		return r.alignStoredCredential(ctx, existing)
	}
}

// alignStoredCredential re-registers the Secret's stored password when the
// directory might not hold it: this pass recreated the user, or the status
// stamp is still missing so an earlier repair may have been cut short. In
// the steady state it makes no directory call.
func (r *Reconciler) alignStoredCredential(ctx context.Context, secret *corev1.Secret) (*ctrl.Result, error) {
	if r.userCreated || r.serviceUser.Status.SecretCreated == nil {
		stored := secret.Data[consts.DataKeyPassword]
		if len(stored) == 0 {
			// A tampered Secret. Regenerating would overwrite it, so leave
			// both sides as they are.
			r.logger.Info("credentials secret holds no password", "secret", r.secretName)
		} else if err := r.lldapClient.SetPassword(ctx, r.username, string(stored)); err != nil {
			return r.directoryFailure(ctx, err, "failed to restore directory password")
		}
	}
	r.credentialSet = true
	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) mintCredentials(ctx context.Context) (*ctrl.Result, error) {
	password := passwords.Generate()

	if err := r.lldapClient.SetPassword(ctx, r.username, password); err != nil {
		return r.directoryFailure(ctx, err, "failed to set directory password")
	}

	secret, err := r.assembleCredentialsSecret(password)
	if err != nil {
		r.logger.Error(err, "failed to assemble credentials secret")
		return subreconciler.Requeue()
	}
	switch err := r.Create(ctx, secret); {
	case apierrors.IsAlreadyExists(err):
		// Lost a race with a concurrent pass. The winner's Secret is
		// authoritative; read it back on the next pass.
		return subreconciler.Requeue()
	case err != nil:
		r.logger.Error(err, "failed to create credentials secret")
		return subreconciler.Requeue()
	}

	r.recorder.Event(r.serviceUser, corev1.EventTypeNormal, consts.EventSecretCreated,
		fmt.Sprintf("Created secret '%s'", r.secretName))
	r.credentialSet = true
	return subreconciler.ContinueReconciling()
}

// assembleCredentialsSecret builds the Secret holding the directory
// credentials, owned by the serviceUser for garbage collection.
func (r *Reconciler) assembleCredentialsSecret(password string) (*corev1.Secret, error) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: r.serviceUser.Namespace,
			Name:      r.secretName,
		},
		Type: corev1.SecretTypeOpaque,
		Data: map[string][]byte{
			consts.DataKeyUsername: []byte(r.username),
			consts.DataKeyPassword: []byte(password),
		},
	}

	if err := ctrl.SetControllerReference(r.serviceUser, secret, r.scheme); err != nil {
		return nil, err
	}

	return secret, nil
}
