// ABOUTME: Version and product identification constants
// ABOUTME: Used for the user agent, mDNS text records and the TUI header
package version

// Version is the application version
const Version = "0.3.0"

// Product is the product name
const Product = "trackdeck"

// Manufacturer identifies the publisher
const Manufacturer = "Resonate Protocol"

// UserAgent returns the HTTP user agent sent to catalog and media servers
func UserAgent() string {
	return Product + "/" + Version
}
