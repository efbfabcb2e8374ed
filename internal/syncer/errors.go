package syncer

import "errors"

// Expected outcomes of synchronizer operations. Callers branch with
// errors.Is; anything not wrapping one of these is an unexpected internal
// failure.
var (
	// ErrPolicyViolation: the label, type, or content failed validation.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrOwnerNotFound: the caller's owner ID is unknown to the ledger.
	ErrOwnerNotFound = errors.New("owner not found")

	// ErrNotOwner: the full domain is leased by someone else.
	ErrNotOwner = errors.New("not the owner of this domain")

	// ErrQuotaExceeded: the owner is at their distinct-domain quota.
	ErrQuotaExceeded = errors.New("domain quota exceeded")

	// ErrBusy: another mutation of the same name is in flight. Transient;
	// retry after backoff.
	ErrBusy = errors.New("domain is busy")

	// ErrNotFound: no lease exists for the owner and domain.
	ErrNotFound = errors.New("no lease found")

	// ErrNotRenewable: the lease is not yet within its renewal window.
	ErrNotRenewable = errors.New("lease is not renewable yet")

	// ErrRemoteRejected: the authoritative service refused the change. No
	// local state changed; safe to retry blindly.
	ErrRemoteRejected = errors.New("authoritative service rejected the change")

	// ErrLedgerWrite: the ledger write failed after the remote change was
	// applied. The two stores may diverge; never swallowed silently.
	ErrLedgerWrite = errors.New("ledger write failed")
)
