//go:build debug

package config

import "github.com/go-acme/lego/v4/lego"

// acmeDirectoryURL resolves to the Let's Encrypt staging directory in debug
// builds (built with `-tags debug`), matching spec.md §6's debug-build selector.
func acmeDirectoryURL() string {
	return lego.LEDirectoryStaging
}
