package remoterelay

import (
	"slices"
	"testing"
	"time"
)

func TestBuildViewBeforeFirstPoll(t *testing.T) {
	v := BuildView("entry-1", testConfig(), Snapshot{})

	if v.State != MediaOff {
		t.Errorf("State = %q, want off", v.State)
	}
	if !v.Available || !v.Remote.Available {
		t.Error("media player and remote should stay available")
	}
	if v.Select.Available {
		t.Error("select should be unavailable before a successful poll")
	}
	if v.Name != "Office PC" || v.Remote.Name != "Office PC Remote" {
		t.Errorf("Name = %q Remote.Name = %q", v.Name, v.Remote.Name)
	}
	if !slices.Equal(v.SourceList, []string{"HDMI 1"}) {
		t.Errorf("SourceList = %v, want persisted names", v.SourceList)
	}
	if v.LastSuccessAt != nil {
		t.Error("LastSuccessAt set before any success")
	}
	if len(v.Buttons) != len(Buttons) {
		t.Errorf("buttons = %d, want %d", len(v.Buttons), len(Buttons))
	}
	for _, b := range v.Buttons {
		if b.Available {
			t.Errorf("button %s available before poll", b.Key)
		}
	}
}

func TestBuildViewStates(t *testing.T) {
	on := testProfile()
	off := testProfile()
	off.PowerState = PowerOff
	unknown := testProfile()
	unknown.PowerState = PowerUnknown

	tests := []struct {
		name string
		snap Snapshot
		want MediaState
	}{
		{"on", Snapshot{Profile: &on, LastUpdateSuccess: true}, MediaOn},
		{"off", Snapshot{Profile: &off, LastUpdateSuccess: true}, MediaOff},
		{"unknown treated as on", Snapshot{Profile: &unknown, LastUpdateSuccess: true}, MediaOn},
		{"failed poll", Snapshot{Profile: &on, LastUpdateSuccess: false}, MediaOff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildView("e", testConfig(), tt.snap).State; got != tt.want {
				t.Errorf("State = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildViewSource(t *testing.T) {
	profile := testProfile()
	profile.SelectedSourceID = "dp"
	now := time.Now()

	v := BuildView("e", testConfig(), Snapshot{Profile: &profile, LastUpdateSuccess: true, LastSuccessAt: now})
	if v.Source != "DisplayPort" || v.Select.Current != "DisplayPort" {
		t.Errorf("Source = %q Select.Current = %q", v.Source, v.Select.Current)
	}
	if !slices.Equal(v.Select.Options, []string{"HDMI 1", "DisplayPort"}) {
		t.Errorf("Options = %v", v.Select.Options)
	}
	if v.LastSuccessAt == nil || !v.LastSuccessAt.Equal(now) {
		t.Errorf("LastSuccessAt = %v", v.LastSuccessAt)
	}

	profile.SelectedSourceID = "missing"
	v = BuildView("e", testConfig(), Snapshot{Profile: &profile, LastUpdateSuccess: true})
	if v.Source != "" {
		t.Errorf("Source = %q, want empty for unknown id", v.Source)
	}
}

func TestBuildViewNameFallback(t *testing.T) {
	cfg := testConfig()
	cfg.DisplayName = " "
	if got := BuildView("e", cfg, Snapshot{}).Name; got != DefaultName {
		t.Errorf("Name = %q, want %q", got, DefaultName)
	}
}

func TestButtonCatalogue(t *testing.T) {
	if _, ok := LookupButton(CmdSelectSource); ok {
		t.Error("select_source should not be a button")
	}
	for _, key := range NavigateKeys {
		if _, ok := LookupButton(key); !ok {
			t.Errorf("missing navigate button %s", key)
		}
	}
	for _, cmd := range DirectCommands {
		if cmd == CmdSelectSource {
			continue
		}
		if _, ok := LookupButton(cmd); !ok {
			t.Errorf("missing command button %s", cmd)
		}
	}
}
