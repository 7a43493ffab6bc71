// Package p11 declares the subset of the PKCS#11 interface used for read-only
// token and certificate discovery.
//
// The package mirrors the native contract: every call of a Module returns a
// Status (CK_RV) that the caller must check, and structures such as TokenInfo
// keep the fixed-width, space-padded byte arrays of the native ABI.
// No business logic lives here.
//
// Library is the Module implementation backed by github.com/miekg/pkcs11.
package p11
