// Copyright (c) 2018, Postgres Professional

// Typed error kinds for the logical replication control plane, grounded
// on the teacher's MasterUnavailableError shape: small structs
// implementing error, queryable with errors.As instead of string
// sniffing.
package lrerrors

import "fmt"

// InvalidConnectionString is returned by connectioninfo.Parse for a
// malformed URL or an option outside the recognized set.
type InvalidConnectionString struct {
	Reason string
}

func (e InvalidConnectionString) Error() string {
	return fmt.Sprintf("invalid connection string: %s", e.Reason)
}

// RelationAlreadyExists is returned by the restore pre-flight check.
type RelationAlreadyExists struct {
	RelationName string
}

func (e RelationAlreadyExists) Error() string {
	return fmt.Sprintf("relation %q already exists", e.RelationName)
}

// RemoteConnectFailed wraps a transient failure to reach the publisher.
type RemoteConnectFailed struct {
	ClusterName string
	Cause       error
}

func (e RemoteConnectFailed) Error() string {
	return fmt.Sprintf("failed to connect to remote cluster %q: %v", e.ClusterName, e.Cause)
}

func (e RemoteConnectFailed) Unwrap() error { return e.Cause }

// PublicationStateFailed wraps a failure of the PublicationsStateAction
// RPC after the connection itself succeeded.
type PublicationStateFailed struct {
	SubscriptionName string
	Cause            error
}

func (e PublicationStateFailed) Error() string {
	return fmt.Sprintf("failed to request the publications state for subscription %q: %v",
		e.SubscriptionName, e.Cause)
}

func (e PublicationStateFailed) Unwrap() error { return e.Cause }

// RestoreRejected is returned when the snapshot pool refuses to accept a
// restore submission (queue full / shutting down). The restore never
// started; relation state is left untouched.
type RestoreRejected struct {
	SubscriptionName string
	Cause            error
}

func (e RestoreRejected) Error() string {
	return fmt.Sprintf("restore submission for subscription %q was rejected: %v",
		e.SubscriptionName, e.Cause)
}

func (e RestoreRejected) Unwrap() error { return e.Cause }

// RestorePartial is returned when 0 < failedShards < totalShards.
type RestorePartial struct {
	SubscriptionName         string
	FailedShards, TotalShards int
}

func (e RestorePartial) Error() string {
	return fmt.Sprintf("restore of subscription %q failed partially: %d/%d shards failed",
		e.SubscriptionName, e.FailedShards, e.TotalShards)
}

// RestoreTotal is returned when failedShards == totalShards.
type RestoreTotal struct {
	SubscriptionName string
}

func (e RestoreTotal) Error() string {
	return fmt.Sprintf("restore of subscription %q failed: all shards failed", e.SubscriptionName)
}

// RestoreMasterLost is returned when the restore completion carries no
// RestoreInfo, which the spec attributes to a master failover mid-restore.
type RestoreMasterLost struct {
	SubscriptionName string
}

func (e RestoreMasterLost) Error() string {
	return fmt.Sprintf("error while initial restoring the subscription relations of %q",
		e.SubscriptionName)
}

// SubscriptionMissing is not actually surfaced as an error to callers
// (SubscriptionStateMachine.update returns false, no error) but is kept
// here as a sentinel so internal callers can errors.As against it if
// they choose to treat the condition as exceptional.
type SubscriptionMissing struct {
	SubscriptionName string
}

func (e SubscriptionMissing) Error() string {
	return fmt.Sprintf("subscription %q does not exist", e.SubscriptionName)
}

// DropSuperuser and AlterSuperuserPrivileges gate access-control-adjacent
// DDL against a replicated relation's owner. Role management itself is
// out of scope; these sentinels are what the (external) DDL layer is
// expected to surface when Supervisor.CheckDDLAllowed rejects a request.
type DropSuperuser struct {
	UserName string
}

func (e DropSuperuser) Error() string {
	return fmt.Sprintf("cannot drop superuser %q while logical replication is active", e.UserName)
}

type AlterSuperuserPrivileges struct {
	UserName string
}

func (e AlterSuperuserPrivileges) Error() string {
	return fmt.Sprintf("cannot alter privileges of superuser %q while logical replication is active", e.UserName)
}
