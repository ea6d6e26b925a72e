package consts

const (
	// Directory groups granted to every managed user. Password-manager users
	// may change their own password; everyone else is read-only.
	GroupPasswordManager = "lldap_password_manager"
	GroupStrictReadonly  = "lldap_strict_readonly"

	// GroupAdmin is LLDAP's own administrator group. The operator never
	// grants or deletes it.
	GroupAdmin = "lldap_admin"

	// AttributeManaged marks directory users owned by this operator.
	AttributeManaged = "managed"

	DataKeyUsername = "username"
	DataKeyPassword = "password"

	CredentialSecretSuffix = "-lldap-credentials"

	BaselineGroupErrMessage   = "baseline groups are granted implicitly and must not be listed"
	EmptyGroupErrMessage      = "additionalGroups entries must not be empty"
	DuplicateGroupErrMessage  = "additionalGroups entries must be unique"
	UsernameTooLongErrMessage = "derived username exceeds 255 characters"

	FinalizerPrefix             = "lldap.snappcloud.io/"
	ServiceUserCleanupFinalizer = FinalizerPrefix + "cleanup-serviceuser"
	GroupCleanupFinalizer       = FinalizerPrefix + "cleanup-group"

	// Event reasons.
	EventUserCreated   = "UserCreated"
	EventUserDeleted   = "UserDeleted"
	EventUserNotFound  = "UserNotFound"
	EventSecretCreated = "SecretCreated"
	EventGroupCreated  = "GroupCreated"
	EventGroupDeleted  = "GroupDeleted"
	EventGroupNotFound = "GroupNotFound"
	EventInvalidSpec   = "InvalidSpec"
	EventUnauthorized  = "Unauthorized"
)
