package session

import (
	"testing"
	"time"
)

func TestExpiryPolicies(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Session{
		CreatedAt:         created,
		ExpiresAt:         created.Add(7 * 24 * time.Hour),
		OriginalExpiresAt: created.Add(7 * 24 * time.Hour),
	}
	now := created.Add(6 * 24 * time.Hour)

	if got := PolicyFixed.NextExpiry(s, now, 7*24*time.Hour); !got.Equal(s.ExpiresAt) {
		t.Fatalf("fixed policy moved expiry to %v", got)
	}
	if got := PolicyFixed.Deadline(s); !got.Equal(s.OriginalExpiresAt) {
		t.Fatalf("fixed deadline = %v", got)
	}
	if got := PolicySliding.NextExpiry(s, now, 7*24*time.Hour); !got.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("sliding policy expiry = %v", got)
	}
}

func TestParseUserID(t *testing.T) {
	if _, err := ParseUserID("  "); err == nil {
		t.Fatal("expected blank id to be rejected")
	}
	id, err := ParseUserID(" 65f1c2 ")
	if err != nil || id != "65f1c2" {
		t.Fatalf("ParseUserID = %q, %v", id, err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	at := time.Now()
	s := &Session{ID: "s", UserID: "u", Location: &Location{City: "Oslo"}, LoggedOutAt: &at}
	c := s.Clone()
	c.Location.City = "Bergen"
	*c.LoggedOutAt = at.Add(time.Hour)
	if s.Location.City != "Oslo" || !s.LoggedOutAt.Equal(at) {
		t.Fatal("clone shares pointers with original")
	}
}

func TestParseDevice(t *testing.T) {
	cases := []struct {
		name string
		ua   string
		want Device
	}{
		{
			name: "desktop chrome",
			ua:   "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			want: Device{Browser: "Chrome", OS: "Mac OS X", DeviceType: DeviceDesktop},
		},
		{
			name: "iphone safari",
			ua:   "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			want: Device{Browser: "Safari", DeviceType: DeviceMobile},
		},
		{
			name: "empty",
			ua:   "",
			want: Device{Browser: "Unknown", OS: "Unknown", DeviceType: DeviceUnknown},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseDevice(tc.ua)
			if got.Browser != tc.want.Browser || got.DeviceType != tc.want.DeviceType {
				t.Fatalf("ParseDevice = %+v, want %+v", got, tc.want)
			}
			if tc.want.OS != "" && got.OS != tc.want.OS {
				t.Fatalf("OS = %q, want %q", got.OS, tc.want.OS)
			}
		})
	}
}

func TestDeviceSameAsIgnoresCaseAndClass(t *testing.T) {
	a := Device{Browser: "Firefox", OS: "Linux", DeviceType: DeviceDesktop}
	b := Device{Browser: "firefox", OS: "LINUX", DeviceType: DeviceUnknown}
	if !a.SameAs(b) {
		t.Fatal("expected same device")
	}
	if a.SameAs(Device{Browser: "Firefox", OS: "Windows"}) {
		t.Fatal("different OS must not match")
	}
}
