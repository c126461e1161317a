package session

import (
	"strings"

	"github.com/mssola/useragent"
)

// ParseDevice derives a device descriptor from a User-Agent header. Unknown
// or empty agents yield "Unknown" browser and OS so same-device matching
// still groups them together.
func ParseDevice(userAgent string) Device {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return Device{Browser: "Unknown", OS: "Unknown", DeviceType: DeviceUnknown}
	}

	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown"
	}
	os := ua.OSInfo().Name
	if os == "" {
		os = "Unknown"
	}

	return Device{Browser: browser, OS: os, DeviceType: deviceClass(ua, userAgent)}
}

func deviceClass(ua *useragent.UserAgent, raw string) string {
	switch {
	case ua.Bot():
		return DeviceBot
	case ua.Platform() == "iPad" || strings.Contains(raw, "Tablet"):
		return DeviceTablet
	case ua.Mobile():
		return DeviceMobile
	case ua.OS() != "":
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}
