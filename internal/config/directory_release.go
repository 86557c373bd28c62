//go:build !debug

package config

import "github.com/go-acme/lego/v4/lego"

// acmeDirectoryURL resolves to the Let's Encrypt production directory unless
// the binary was built with `-tags debug`.
func acmeDirectoryURL() string {
	return lego.LEDirectoryProduction
}
