// Package authority is an embeddable identity and session authority: account
// signup with email validation, credential verification, an optional second
// factor (authenticator codes or phone verification), password recovery, and
// stateless JWT session minting.
//
// The package is the public surface. It exposes [Engine], [Builder],
// [Config], the [AccountStore], [Mailer] and [SMSVerifier] collaborator
// interfaces, and plain value types. Challenge bookkeeping, audit dispatch,
// and record encoding live under internal/ and are never exported.
//
// Engine methods are safe for concurrent use after construction through
// [Builder.Build]. Every blocking operation takes a context and every
// failure is one of the package's sentinel errors, possibly wrapped; match
// with errors.Is.
//
// Persistence is injected: store/memory suits tests and single-process use,
// store/postgres is the production backend, and any AccountStore
// implementation honoring the documented atomicity of ConsumeToken works.
// Two-factor challenges are the one piece of engine-owned state and live in
// Redis with their own TTLs.
package authority
