// Package keycustody manages the device's asymmetric signing keys.
//
// Keys are generated, stored, and used inside the keystore; private
// key material is addressed only by key id and never crosses the
// package boundary. Signing is exposed as a capability (Sign over a
// signing input), never as an extractable key value. The public half
// of a key pair can be exported as a single-entry JWKS document for
// Dynamic Client Registration.
//
// The software keystore persists PKCS#8-encoded private keys sealed
// with ChaCha20-Poly1305 in 0600 files. On platforms with a hardware
// secure element a hardware-backed implementation of Keystore can be
// swapped in; the engines only see the interface.
package keycustody
