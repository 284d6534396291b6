// Package interrupt is the backpressure control plane. It translates
// pause, resume, drain, throttle, and isolate intents into lattice-valued
// state on interrupt scopes, and into binder plan ops that install the
// matching shims.
//
// Every signal composes through a join: a pause can only tighten the
// scope's level, a throttle can only tighten the rate, a drain can only
// extend the fence. Loosening is never a join; it is source-aware
// removal. Each source's contributions are tracked in a ledger, and a
// resume removes exactly one source's contribution, recomputing the
// effective value as the join over whatever remains. Resuming one of two
// outstanding pauses therefore never drops the scope below the other
// source's level, and a resume never touches throttles.
package interrupt
