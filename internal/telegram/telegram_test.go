package telegram

import "testing"

func TestCanonicalChatKeys_PrefersHandle(t *testing.T) {
	primary, alt := CanonicalChatKeys("PhysicsBatch", ChannelKey(1234567890))
	if primary != "@physicsbatch" {
		t.Fatalf("unexpected primary key: %q", primary)
	}
	if alt != "-1001234567890" {
		t.Fatalf("unexpected alternate key: %q", alt)
	}
}

func TestCanonicalChatKeys_FallsBackToNumericID(t *testing.T) {
	primary, alt := CanonicalChatKeys("", ChannelKey(42))
	if primary != "-10042" || alt != "" {
		t.Fatalf("unexpected keys: %q %q", primary, alt)
	}
}

func TestNormalizeChatKey(t *testing.T) {
	cases := map[string]ChatKey{
		"@MyChannel":          "@mychannel",
		" mychannel ":         "@mychannel",
		"https://t.me/MyChan": "@mychan",
		"-1001234":            "-1001234",
		"777":                 "777",
		"":                    "",
	}
	for in, want := range cases {
		if got := NormalizeChatKey(in); got != want {
			t.Errorf("NormalizeChatKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in      string
		command string
		args    string
		ok      bool
	}{
		{in: "/check", command: "check", ok: true},
		{in: "/Check@relaybot now", command: "check", args: "now", ok: true},
		{in: "check", ok: false},
		{in: "/", ok: false},
	}
	for _, tc := range cases {
		command, args, ok := ParseCommand(tc.in)
		if command != tc.command || args != tc.args || ok != tc.ok {
			t.Errorf("ParseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)", tc.in, command, args, ok, tc.command, tc.args, tc.ok)
		}
	}
}
