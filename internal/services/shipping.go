package services

import (
	"net/url"
	"strings"
)

type carrier struct {
	name        string
	trackingURL string
}

var knownCarriers = map[string]carrier{
	"aramex":    {name: "Aramex", trackingURL: "https://www.aramex.com/us/en/track/results?ShipmentNumber="},
	"dhl":       {name: "DHL", trackingURL: "https://www.dhl.com/global-en/home/tracking/tracking-express.html?tracking-id="},
	"fedex":     {name: "FedEx", trackingURL: "https://www.fedex.com/fedextrack/?trknbr="},
	"ups":       {name: "UPS", trackingURL: "https://www.ups.com/track?tracknum="},
	"libanpost": {name: "LibanPost", trackingURL: "https://www.libanpost.com/track?number="},
}

var carrierAliases = map[string]string{
	"federalexpress":      "fedex",
	"unitedparcelservice": "ups",
	"dhlexpress":          "dhl",
	"liban":               "libanpost",
}

func carrierKey(value string) string {
	key := strings.NewReplacer(" ", "", "-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(value)))
	if alias, ok := carrierAliases[key]; ok {
		return alias
	}
	return key
}

// NormalizeCarrierName returns the display name for known carriers and keeps
// custom carriers as entered.
func NormalizeCarrierName(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if known, ok := knownCarriers[carrierKey(trimmed)]; ok {
		return known.name
	}
	return trimmed
}

// BuildTrackingURL returns a carrier tracking link. Unknown carriers return empty.
func BuildTrackingURL(carrierName, trackingNumber string) string {
	number := strings.TrimSpace(trackingNumber)
	if number == "" {
		return ""
	}
	known, ok := knownCarriers[carrierKey(carrierName)]
	if !ok {
		return ""
	}
	return known.trackingURL + url.QueryEscape(number)
}
