// Package crypto11 opens a PKCS#11 token as a keystore with the user PIN,
// using github.com/ThalesGroup/crypto11, and lists the certificates
// that have a private key on the token.
//
// The package registers nothing by itself, the owner of the registration
// calls cryptoprov.Register with LoadProvider.
package crypto11
