package ingest

import "testing"

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("2026-03-12 09:00:00 camera=cam0 count=4")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Timestamp != "2026-03-12 09:00:00" {
		t.Fatalf("timestamp: %q", fields.Timestamp)
	}
	if fields.Count != "4" || fields.Extras["camera"] != "cam0" {
		t.Fatalf("fields: %+v", fields)
	}
}

func TestParseBareCount(t *testing.T) {
	fields, err := NewParser().ParseLine("7\n")
	if err != nil || fields.Count != "7" {
		t.Fatalf("bare count: %+v err=%v", fields, err)
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	if fields, _ := p.ParseLine("timestamp,count"); fields != nil {
		t.Fatalf("expected header to return nil")
	}
	fields, err := p.ParseLine("2026-03-12T09:00:00Z,3")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Count != "3" || fields.Timestamp != "2026-03-12T09:00:00Z" {
		t.Fatalf("csv parse mismatch: %+v", fields)
	}
}

func TestParseCSVWithoutHeader(t *testing.T) {
	fields, err := NewParser().ParseLine("1700000000.5, 2")
	if err != nil || fields.Count != "2" || fields.Timestamp != "1700000000.5" {
		t.Fatalf("positional csv: %+v err=%v", fields, err)
	}
}

func TestParseJSON(t *testing.T) {
	line := `{"timestamp":1700000000.25,"count":2,"boxes":[{"x":1,"y":2,"w":30,"h":20,"area":600,"aspect_ratio":1.5},{"x":40,"y":2,"w":30,"h":20}]}`
	fields, err := NewParser().ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Count != "2" || len(fields.Boxes) != 2 {
		t.Fatalf("json parse mismatch: %+v", fields)
	}
	if fields.Timestamp != "1700000000.25" {
		t.Fatalf("timestamp: %q", fields.Timestamp)
	}
	if fields.Boxes[0].AspectRatio != 1.5 {
		t.Fatalf("box: %+v", fields.Boxes[0])
	}
}

func TestParseJSONBadBoxes(t *testing.T) {
	if _, err := ParseJSONBytes([]byte(`{"count":1,"boxes":"nope"}`)); err == nil {
		t.Fatalf("expected boxes error")
	}
}
