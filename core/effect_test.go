package core

import "testing"

func TestCategoryOrderFollowsLightPath(t *testing.T) {
	order := []Category{CategoryATMO, CategoryTEL, CategoryRO, CategoryINST, CategoryINSTMode, CategoryDET}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Errorf("category %s does not precede %s", order[i-1], order[i])
		}
	}
}

func TestParseCategoryRoundTrip(t *testing.T) {
	for _, c := range []Category{CategoryATMO, CategoryTEL, CategoryRO, CategoryINST, CategoryINSTMode, CategoryDET} {
		got, err := ParseCategory(c.String())
		if err != nil {
			t.Fatalf("ParseCategory(%q): %v", c.String(), err)
		}
		if got != c {
			t.Errorf("ParseCategory(%q) = %v, want %v", c.String(), got, c)
		}
	}
	if _, err := ParseCategory("FOCAL_PLANE"); err == nil {
		t.Error("unknown category keyword accepted")
	}
}

func TestParseStatus(t *testing.T) {
	cases := []struct {
		in   string
		want Status
		ok   bool
	}{
		{"", StatusActive, true},
		{"active", StatusActive, true},
		{"deprecated", StatusDeprecated, true},
		{"planned", StatusPlanned, true},
		{"retired", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseStatus(tc.in)
		if tc.ok && err != nil {
			t.Errorf("ParseStatus(%q): %v", tc.in, err)
			continue
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("ParseStatus(%q) accepted", tc.in)
			}
			continue
		}
		if got != tc.want {
			t.Errorf("ParseStatus(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
