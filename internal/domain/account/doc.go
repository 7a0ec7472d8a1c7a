// Package account provides the domain model for metered accounts.
//
// An Account carries a monthly allotment and a running consumption counter.
// The counter is mutated only through two conditional writes exposed by
// AccountRepository: an increment that succeeds only while room remains in
// the current billing period, and a reset that succeeds only when the stored
// period has fallen behind the current calendar month.
//
// Billing periods are calendar months in UTC.
package account
