// Package token provides the keyed-hash primitives shared by chatgate.
//
// It is the single source of truth for:
// - hashing opaque invite-session tokens before they touch storage
// - deriving purpose-bound subkeys (share tokens, session hashing) from CHATGATE_SECRET
//
// Environment:
// - CHATGATE_SECRET: master secret. Required, minimum 32 bytes.
package token
