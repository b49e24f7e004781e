package browser

import (
	"strconv"
	"testing"

	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

func TestLauncherFlags(t *testing.T) {
	m := NewManager(Config{DebugPort: 23456, ExecutablePath: "/opt/chrome/chrome"})
	l := m.launcher(t.Context())

	if got := l.Get(flags.RemoteDebuggingPort); got != strconv.Itoa(23456) {
		t.Errorf("remote-debugging-port = %q", got)
	}
	if got := l.Get(flags.Bin); got != "/opt/chrome/chrome" {
		t.Errorf("bin = %q", got)
	}
	if l.Has(flags.Headless) {
		t.Error("launcher is headless")
	}
	if l.Has(flags.UserDataDir) {
		t.Error("launcher overrides the user profile")
	}
}

func TestHasTab(t *testing.T) {
	const entry = "https://x.com/i/grok"
	tests := []struct {
		name  string
		infos []*proto.TargetTargetInfo
		want  bool
	}{
		{"none", nil, false},
		{"grok page", []*proto.TargetTargetInfo{{Type: proto.TargetTargetInfoTypePage, URL: entry + "?conversation=1"}}, true},
		{"other page", []*proto.TargetTargetInfo{{Type: proto.TargetTargetInfoTypePage, URL: "https://x.com/home"}}, false},
		{"worker on grok", []*proto.TargetTargetInfo{{Type: proto.TargetTargetInfoTypeServiceWorker, URL: entry}}, false},
		{"nil entry", []*proto.TargetTargetInfo{nil, {Type: proto.TargetTargetInfoTypePage, URL: entry}}, true},
	}
	for _, tt := range tests {
		if got := hasTab(tt.infos, entry); got != tt.want {
			t.Errorf("%s: hasTab = %v, want %v", tt.name, got, tt.want)
		}
	}
}
