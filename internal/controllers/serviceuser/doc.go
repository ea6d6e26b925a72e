package serviceuser

// This package contains the controller for provisioning and cleaning LLDAP
// service users.
//
// controller.go just sets up the controller with the manager and ensures proper
// tracking of the owned credential Secret.
//
// handler.go is the entrypoint for the reconciliation logic. It decides to
// provision the required resources or to clean up the already provisioned
// resources. The key for this decision is the deletionTimestamp of the
// ServiceUser being reconciled.

// Overall provisioning flow:
//
// 1. Add the cleanup finalizer to the ServiceUser
// 2. Validate the spec against the directory's rules
// 3. Create the user in LLDAP if it doesn't exist
// 4. Add the user to the baseline group and every additional group
// 5. For password manager users, generate a password once, set it in LLDAP and
//    store it in the credentials Secret
// 6. Update the status of the ServiceUser

// Overall cleanup flow:
//
// 1. Stop if the cleanup finalizer is absent
// 2. Remove the user from LLDAP, tolerating an already deleted user
// 3. Remove the cleanup finalizer from the ServiceUser; the credentials Secret
//    is garbage collected with the object
