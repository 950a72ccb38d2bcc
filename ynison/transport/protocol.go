package transport

import (
	"fmt"

	"github.com/goccy/go-json"
)

// DeviceInfo is the descriptor embedded, as a JSON string, into the protocol
// blob.
type DeviceInfo struct {
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	Type       int    `json:"type"`
}

// Protocol carries everything Ynison expects in the third sub-protocol value.
type Protocol struct {
	DeviceID       string
	RedirectTicket string
	SessionID      string
	Device         DeviceInfo
	Token          string
	UserID         string
}

type protocolBlob struct {
	DeviceID       string `json:"Ynison-Device-Id"`
	RedirectTicket string `json:"Ynison-Redirect-Ticket,omitempty"`
	SessionID      string `json:"Ynison-Session-Id,omitempty"`
	DeviceInfo     string `json:"Ynison-Device-Info"`
	Authorization  string `json:"authorization"`
	UserID         string `json:"X-Yandex-Music-Multi-Auth-User-Id"`
}

func (p Protocol) Encode() (string, error) {
	info, err := json.Marshal(p.Device)
	if nil != err {
		return "", fmt.Errorf("failed to marshal device info: %v", err)
	}
	blob := protocolBlob{
		DeviceID:       p.DeviceID,
		RedirectTicket: p.RedirectTicket,
		SessionID:      p.SessionID,
		DeviceInfo:     string(info),
		Authorization:  "OAuth " + p.Token,
		UserID:         p.UserID,
	}
	b, err := json.MarshalWithOption(blob, json.DisableHTMLEscape())
	if nil != err {
		return "", fmt.Errorf("failed to marshal protocol blob: %v", err)
	}
	return string(b), nil
}

// Subprotocols returns the sub-protocol triple sent during the handshake.
func (p Protocol) Subprotocols() ([]string, error) {
	blob, err := p.Encode()
	if nil != err {
		return nil, err
	}
	return []string{"Bearer", "v2", blob}, nil
}
