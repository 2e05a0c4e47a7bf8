package model

// PairingLink is a wallet-specific connect link safe to hand to the delivery
// channel. HTTPSURL always uses an http(s) scheme; chat-message buttons
// silently reject anything else.
type PairingLink struct {
	DisplayName string `json:"name"`
	IconURL     string `json:"iconUrl,omitempty"`
	HTTPSURL    string `json:"url"`
}

// ConnectionOffer is everything a caller needs to present a pairing prompt:
// the raw protocol URI (QR flow), the rendered QR PNG, and ranked per-wallet
// HTTPS links (button flow).
type ConnectionOffer struct {
	PairingURI string        `json:"pairingUri"`
	QRImage    []byte        `json:"qrImage"`
	Links      []PairingLink `json:"links"`
}

// ConnectionStatus is the caller-facing view of a user's wallet session.
type ConnectionStatus struct {
	Connected  bool   `json:"connected"`
	Address    string `json:"address,omitempty"`
	WalletName string `json:"walletName,omitempty"`
	IconURL    string `json:"iconUrl,omitempty"`
}

// ReconfirmLink points the user back into their already-connected wallet app
// to approve a pending request. Link may be empty when the wallet advertises
// no usable HTTPS entry point.
type ReconfirmLink struct {
	WalletName string `json:"walletName"`
	Link       string `json:"link,omitempty"`
}
