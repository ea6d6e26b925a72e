package common

import (
	"github.com/snapp-incubator/lldap-operator/pkg/consts"
)

// CredentialSecretName returns the name of the Secret holding the
// directory credentials of the named ServiceUser.
func CredentialSecretName(serviceUserName string) string {
	return serviceUserName + consts.CredentialSecretSuffix
}

// BaselineGroup returns the built-in directory group every service user
// is enrolled in, picked by the requested access level.
func BaselineGroup(passwordManager bool) string {
	if passwordManager {
		return consts.GroupPasswordManager
	}
	return consts.GroupStrictReadonly
}
