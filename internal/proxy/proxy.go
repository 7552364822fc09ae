// Package proxy normalizes the VPN_PROXY_URL setting into the environment
// variables Go's net/http (and any subprocess) reads for outbound proxying.
// Ported from the behavior of kawaiicassie/kiro-openai-gateway's proxy setup,
// which the distilled spec only partially states (it mentions NO_PROXY but
// the original also mirrors the URL onto HTTP_PROXY/HTTPS_PROXY/ALL_PROXY).
package proxy

import (
	"os"
	"strings"
)

const localHosts = "127.0.0.1,localhost"

// Normalize returns the proxy URL the gateway should use for vpnURL: if it
// already names a scheme ("://" present) it is returned unchanged, otherwise
// "http://" is prefixed. An empty vpnURL normalizes to "".
func Normalize(vpnURL string) string {
	if vpnURL == "" {
		return ""
	}
	if strings.Contains(vpnURL, "://") {
		return vpnURL
	}
	return "http://" + vpnURL
}

// MergeNoProxy appends 127.0.0.1 and localhost to an existing NO_PROXY value,
// preserving whatever entries were already present and skipping either host
// that is already listed, so calling it repeatedly with its own prior output
// is a no-op rather than growing the value without bound.
func MergeNoProxy(existing string) string {
	if existing == "" {
		return localHosts
	}
	present := map[string]bool{}
	for _, entry := range strings.Split(existing, ",") {
		present[strings.TrimSpace(entry)] = true
	}
	out := existing
	for _, host := range strings.Split(localHosts, ",") {
		if !present[host] {
			out += "," + host
		}
	}
	return out
}

// Apply sets HTTP_PROXY, HTTPS_PROXY, ALL_PROXY and NO_PROXY in the process
// environment from vpnURL. An empty vpnURL is a no-op: none of the four
// variables are touched. Apply is idempotent to call repeatedly as config is
// reloaded (spec Design Note: configuration is observed, not captured).
func Apply(vpnURL string) {
	normalized := Normalize(vpnURL)
	if normalized == "" {
		return
	}
	os.Setenv("HTTP_PROXY", normalized)
	os.Setenv("HTTPS_PROXY", normalized)
	os.Setenv("ALL_PROXY", normalized)
	os.Setenv("NO_PROXY", MergeNoProxy(os.Getenv("NO_PROXY")))
}
