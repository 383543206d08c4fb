package rules

import (
	"strings"
	"testing"
)

func TestClassifyChange(t *testing.T) {
	cases := []struct {
		name string
		old  string
		new  string
		want []string
	}{
		{
			"link added",
			"check this out",
			"check this out https://sketchy.example/drop",
			[]string{"+1 link(s)"},
		},
		{
			"mentions and length",
			"hi",
			"hi <@1> <@2> <@3>",
			[]string{"+3 mention(s)", "length +"},
		},
		{
			"caps increase",
			"please stop doing that now",
			"PLEASE STOP DOING THAT NOW",
			[]string{"caps increase"},
		},
		{
			"keyword slipped in",
			"message about games",
			"message about free nitro games",
			[]string{`added keyword "free"`, `added keyword "nitro"`},
		},
		{
			"typo fix",
			"helo there",
			"hello there",
			[]string{"length +1"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyChange(tc.old, tc.new)
			for _, want := range tc.want {
				if !strings.Contains(got, want) {
					t.Fatalf("ClassifyChange(%q, %q) = %q, missing %q", tc.old, tc.new, got, want)
				}
			}
		})
	}
}

func TestClassifyChangeMinorEdit(t *testing.T) {
	if got := ClassifyChange("same text", "same text"); got != "minor edit" {
		t.Fatalf("identical content classified as %q", got)
	}
}
