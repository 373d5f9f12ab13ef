package twilio

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect struct {
		Stream struct {
			URL string `xml:"url,attr"`
		} `xml:"Stream"`
	} `xml:"Connect"`
}

// StreamTwiML answers a call by connecting it to a bidirectional media
// stream at streamURL.
func StreamTwiML(streamURL string) ([]byte, error) {
	var response twimlResponse
	response.Connect.Stream.URL = streamURL

	body, err := xml.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to render twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// MediaStreamURL turns the public base URL of the server into the websocket
// URL Twilio should connect to.
func MediaStreamURL(publicURL, path string) (string, error) {
	if !strings.Contains(publicURL, "://") {
		publicURL = "https://" + publicURL
	}
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", fmt.Errorf("invalid public url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}
