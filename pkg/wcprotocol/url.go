package wcprotocol

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"
)

const (
	alphanumerical  = "abcdefghijklmnopqrstuvwxyz0123456789"
	bridgeURLFormat = "https://%v.bridge.walletconnect.org"

	Protocol = "wc"
	Version  = "1"
)

var bridgeRand = rand.New(rand.NewSource(time.Now().UnixNano()))

// RandomBridgeURL picks one of the public v1 bridges.
func RandomBridgeURL() string {
	c := alphanumerical[bridgeRand.Intn(len(alphanumerical))]
	return fmt.Sprintf(bridgeURLFormat, string(c))
}

// WebSocketURL turns a bridge url into the socket endpoint the bridge serves.
func WebSocketURL(bridge string) string {
	switch {
	case strings.HasPrefix(bridge, "https"):
		bridge = strings.Replace(bridge, "https", "wss", 1)
	case strings.HasPrefix(bridge, "http"):
		bridge = strings.Replace(bridge, "http", "ws", 1)
	}
	sep := "?"
	if strings.Contains(bridge, "?") {
		sep = "&"
	}
	return bridge + sep + "protocol=" + Protocol + "&version=" + Version
}

// ConnectionURI is the wc: link a wallet scans or opens.
func ConnectionURI(handshakeTopic, bridge string, key []byte) string {
	return fmt.Sprintf("wc:%s@%s?bridge=%s&key=%s",
		handshakeTopic, Version, url.QueryEscape(bridge), hex.EncodeToString(key))
}

// ExtractRootDomain returns the last two labels of the url's host.
func ExtractRootDomain(rawURL string) string {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
