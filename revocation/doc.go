// Package revocation tracks issued token ids so they can be revoked before
// their natural expiry.
//
// Three backends implement [Store]: [MemoryStore] for development and tests,
// [RedisStore] and [MetadataStore] for production. All of them make Revoke a
// compare-and-set, so of several concurrent revocations of one id exactly one
// reports true.
package revocation
