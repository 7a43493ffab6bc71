// Package cryptoprov configures PKCS#11 tokens and keeps the registry
// of keystore providers that open them.
//
// A provider loader is registered by manufacturer, and LoadProvider opens
// the token described by a TokenConfig with the loader registered for its
// manufacturer. The configuration is loaded from JSON or YAML files:
//
//	manufacturer: Athena
//	path: /usr/lib/x64-athena/libASEP11.so
//	token_label: ACME ID
//	pin: file:token.pin
//	pkcs12_files:
//	  - /home/jane/firma.p12
package cryptoprov
