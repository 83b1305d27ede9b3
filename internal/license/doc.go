// Package license decides whether the installation is entitled to run.
//
// # Verdict Flow
//
// Validate computes a fresh Verdict on every call:
//
//	1. Resolve the license artifact from an ordered candidate list
//	2. Check that the validation delegate is usable (capability probe)
//	3. Invoke the delegate with the artifact path and pass its answer through
//	4. Otherwise fall back to the trial clock over the persisted trial record
//
// Every failure on the way (missing artifact, missing interpreter, timeout,
// non-zero exit, unparseable output, corrupt trial record) degrades to the
// next step. Validate always returns a well-formed Verdict.
//
// # Trial Activation
//
// ActivateTrial is a one-shot transition. The record is written with an
// exclusive create through the storage package, so concurrent activations
// produce exactly one winner and every loser reports the winner's start date.
// ResetTrial deletes the record and its mirror, returning the installation to
// the never-started state.
//
// # Delegate
//
// The cryptographic check itself is out of process. ProcessDelegate runs the
// configured script through the first interpreter whose capability probe
// passes; tests substitute any Delegate implementation.
package license
