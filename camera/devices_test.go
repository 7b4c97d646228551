package camera

import "testing"

func TestGuessFacing(t *testing.T) {
	tests := []struct {
		name string
		want Facing
	}{
		{"Integrated Camera: Integrated C", FacingUser},
		{"FaceTime HD Camera", FacingUser},
		{"HD Webcam C270", FacingUser},
		{"Rear Camera", FacingEnvironment},
		{"Document Camera", FacingEnvironment},
		{"USB Camera", FacingEnvironment},
		{"Elgato Cam Link 4K", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GuessFacing(tt.name); got != tt.want {
				t.Errorf("GuessFacing(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestPickDevice(t *testing.T) {
	devs := []DeviceInfo{
		{ID: "/dev/video0", Name: "Integrated Camera", Facing: FacingUser},
		{ID: "/dev/video2", Name: "USB Camera", Facing: FacingEnvironment},
		{ID: "/dev/video4", Name: "Capture Card"},
	}
	tests := []struct {
		name string
		c    Constraints
		want string
	}{
		{"environment", Constraints{Facing: FacingEnvironment}, "/dev/video2"},
		{"user", Constraints{Facing: FacingUser}, "/dev/video0"},
		{"id wins over facing", Constraints{Facing: FacingUser, DeviceID: "/dev/video4"}, "/dev/video4"},
		{"by name", Constraints{DeviceID: "USB Camera"}, "/dev/video2"},
		{"unknown id falls back", Constraints{DeviceID: "nope", Facing: FacingEnvironment}, "/dev/video2"},
		{"no hints", Constraints{}, "/dev/video0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickDevice(devs, tt.c).ID; got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	if _, ok := FindDevice(devs, "Capture Card"); !ok {
		t.Error("FindDevice by name failed")
	}
	if _, ok := FindDevice(devs, "/dev/video9"); ok {
		t.Error("FindDevice found a missing device")
	}
}

func TestParseFacing(t *testing.T) {
	for in, want := range map[string]Facing{
		"user":        FacingUser,
		" Front ":     FacingUser,
		"environment": FacingEnvironment,
		"back":        FacingEnvironment,
		"":            FacingEnvironment,
	} {
		if got := ParseFacing(in); got != want {
			t.Errorf("ParseFacing(%q) = %s, want %s", in, got, want)
		}
	}
	if FacingUser.Flip() != FacingEnvironment || FacingEnvironment.Flip() != FacingUser {
		t.Error("Flip is not symmetric")
	}
}
