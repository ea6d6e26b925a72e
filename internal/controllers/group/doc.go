package group

// This package contains the controller for provisioning and cleaning LLDAP
// groups.
//
// controller.go just sets up the controller with the manager.
//
// handler.go is the entrypoint for the reconciliation logic. It decides to
// provision the required resources or to clean up the already provisioned
// resources. The key for this decision is the deletionTimestamp of the Group
// being reconciled.

// Overall provisioning flow:
//
// 1. Add the cleanup finalizer to the Group
// 2. Create the group in LLDAP if no group carries its display name,
//    adopting an existing one otherwise
// 3. Record the directory id in the status

// Overall cleanup flow:
//
// 1. Stop if the cleanup finalizer is absent
// 2. Delete the group from LLDAP by its recorded id, falling back to a name
//    lookup; builtin groups and already deleted groups are left as they are
// 3. Remove the cleanup finalizer from the Group
