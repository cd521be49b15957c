package manager

import (
	"moff.io/moff-wallet/internal/config"
	"moff.io/moff-wallet/internal/walletconnect"
)

// OptionsFromConfig builds client options for the configured bridge and dapp metadata,
// dialling bridges over websockets.
func OptionsFromConfig(conf *config.WalletConnect) walletconnect.Options {
	return walletconnect.Options{
		Description: conf.Description,
		URL:         conf.URL,
		Icons:       append([]string{}, conf.Icons...),
		Name:        conf.Name,
		ChainID:     conf.ChainID,
		Bridge:      conf.Bridge,
		Dialer: walletconnect.NewWebsocketDialer(walletconnect.WebsocketDialerConfig{
			PingInterval:     conf.PingInterval,
			PublishPerSecond: conf.PublishPerSecond,
		}),
		RequestTimeout: conf.RequestTimeout,
	}
}
