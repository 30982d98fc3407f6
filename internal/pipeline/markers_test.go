package pipeline

import "testing"

func TestExtractPage_NoMarker(t *testing.T) {
	stripped, page := ExtractPage("Hello world.")
	if stripped != "Hello world." || page != 1 {
		t.Errorf("got (%q, %d), want (%q, 1)", stripped, page, "Hello world.")
	}
}

func TestExtractPage_SingleMarker(t *testing.T) {
	stripped, page := ExtractPage("[PAGE][3][PAGE]Some text here.")
	if stripped != "Some text here." {
		t.Errorf("stripped = %q, want marker removed", stripped)
	}
	if page != 3 {
		t.Errorf("page = %d, want 3", page)
	}
}

func TestExtractPage_LastMarkerWins(t *testing.T) {
	stripped, page := ExtractPage("[PAGE][1][PAGE]foo[PAGE][2][PAGE]bar")
	if stripped != "foobar" {
		t.Errorf("stripped = %q, want %q", stripped, "foobar")
	}
	if page != 2 {
		t.Errorf("page = %d, want 2 (last marker)", page)
	}
}

func TestExtractPage_PreservesLayoutMarkers(t *testing.T) {
	chunk := "[PAGE][5][PAGE]text [/table][7][/table] more text"
	stripped, page := ExtractPage(chunk)
	want := "text [/table][7][/table] more text"
	if stripped != want {
		t.Errorf("stripped = %q, want %q (layout marker must survive)", stripped, want)
	}
	if page != 5 {
		t.Errorf("page = %d, want 5", page)
	}
}
