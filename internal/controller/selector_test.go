package controller

import (
	"errors"
	"testing"
)

func info(name string, state LifecycleState, joints ...string) Info {
	js := make(map[string]struct{}, len(joints))
	for _, j := range joints {
		js[j] = struct{}{}
	}
	return Info{Name: name, Joints: js, State: state}
}

func TestSelectCoveringPair(t *testing.T) {
	cands := []Info{
		info("arm", StateInactive, "j1", "j2"),
		info("gripper", StateInactive, "j3"),
	}

	got, err := SelectControllers([]string{"j1", "j2", "j3"}, cands)
	if err != nil {
		t.Fatalf("SelectControllers: %v", err)
	}
	if len(got) != 2 || got[0] != "arm" || got[1] != "gripper" {
		t.Errorf("selected %v, want [arm gripper]", got)
	}
}

func TestSelectMinimalNeverOverselects(t *testing.T) {
	cands := []Info{
		info("arm", StateInactive, "j1", "j2"),
		info("gripper", StateInactive, "j3"),
	}

	got, err := SelectControllers([]string{"j1", "j2"}, cands)
	if err != nil {
		t.Fatalf("SelectControllers: %v", err)
	}
	if len(got) != 1 || got[0] != "arm" {
		t.Errorf("selected %v, want [arm] only", got)
	}
}

func TestSelectPrefersActiveControllers(t *testing.T) {
	// Two size-2 covers for {j1,j2,j3,j4}: {left,right} and {upper,lower}.
	// upper+lower contains more active controllers, so it must win even
	// though left+right sorts first.
	cands := []Info{
		info("left", StateInactive, "j1", "j2"),
		info("lower", StateActive, "j3", "j4"),
		info("right", StateInactive, "j3", "j4"),
		info("upper", StateActive, "j1", "j2"),
	}

	got, err := SelectControllers([]string{"j1", "j2", "j3", "j4"}, cands)
	if err != nil {
		t.Fatalf("SelectControllers: %v", err)
	}
	if len(got) != 2 || got[0] != "lower" || got[1] != "upper" {
		t.Errorf("selected %v, want [lower upper]", got)
	}
}

func TestSelectLexicalTieBreak(t *testing.T) {
	// Equally sized, equally active covers; the lexically first combination
	// wins deterministically.
	cands := []Info{
		info("alpha", StateInactive, "j1", "j2"),
		info("beta", StateInactive, "j1", "j2"),
	}

	for i := 0; i < 5; i++ {
		got, err := SelectControllers([]string{"j1", "j2"}, cands)
		if err != nil {
			t.Fatalf("SelectControllers: %v", err)
		}
		if len(got) != 1 || got[0] != "alpha" {
			t.Errorf("selected %v, want [alpha]", got)
		}
	}
}

func TestSelectNoCover(t *testing.T) {
	cands := []Info{
		info("arm", StateActive, "j1", "j2"),
	}

	_, err := SelectControllers([]string{"j1", "j9"}, cands)
	if !errors.Is(err, ErrNoCoveringCombination) {
		t.Errorf("err = %v, want ErrNoCoveringCombination", err)
	}
}

func TestSelectRejectsDoubleCoverage(t *testing.T) {
	// Both controllers actuate j2, so no combination can cover {j1,j2,j3}
	// without commanding j2 through two controllers at once.
	cands := []Info{
		info("a", StateActive, "j1", "j2"),
		info("b", StateActive, "j2", "j3"),
	}

	_, err := SelectControllers([]string{"j1", "j2", "j3"}, cands)
	if !errors.Is(err, ErrNoCoveringCombination) {
		t.Errorf("err = %v, want ErrNoCoveringCombination", err)
	}
}

func TestSelectPrefersExactCover(t *testing.T) {
	// "wide" covers j1 with an extraneous joint; "narrow" covers it exactly.
	// The exact cover wins even though wide is active.
	cands := []Info{
		info("narrow", StateInactive, "j1"),
		info("wide", StateActive, "j1", "j2"),
	}

	got, err := SelectControllers([]string{"j1"}, cands)
	if err != nil {
		t.Fatalf("SelectControllers: %v", err)
	}
	if len(got) != 1 || got[0] != "narrow" {
		t.Errorf("selected %v, want [narrow]", got)
	}
}

func TestSelectAcceptsLooseCoverWhenNoExact(t *testing.T) {
	cands := []Info{
		info("wide", StateInactive, "j1", "j2"),
	}

	got, err := SelectControllers([]string{"j1"}, cands)
	if err != nil {
		t.Fatalf("SelectControllers: %v", err)
	}
	if len(got) != 1 || got[0] != "wide" {
		t.Errorf("selected %v, want [wide]", got)
	}
}
