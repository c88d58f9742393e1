package progress

import (
	"testing"
	"time"
)

// TestParseLineExplicitMarker verifies the canonical step marker form.
func TestParseLineExplicitMarker(t *testing.T) {
	p := NewParser()

	ev, ok := p.ParseLine("Step 3 of 10: Running segmentation inference")
	if !ok {
		t.Fatal("expected marker line to parse")
	}
	if ev.Step != 3 || ev.TotalSteps != 10 {
		t.Fatalf("step = %d/%d, want 3/10", ev.Step, ev.TotalSteps)
	}
	if ev.StepName != "Running segmentation inference" {
		t.Fatalf("step name = %q", ev.StepName)
	}
	if ev.Percent != 30 {
		t.Fatalf("percent = %d, want 30", ev.Percent)
	}
}

// TestParseLineBracketMarker verifies the [PROGRESS] marker variant.
func TestParseLineBracketMarker(t *testing.T) {
	p := NewParser()

	ev, ok := p.ParseLine("[PROGRESS] 4/10: Postprocessing results")
	if !ok {
		t.Fatal("expected bracket marker to parse")
	}
	if ev.Step != 4 || ev.StepName != "Postprocessing results" {
		t.Fatalf("got step %d name %q", ev.Step, ev.StepName)
	}
}

// TestParseLinePhaseTable verifies free-text lines map onto fixed steps.
func TestParseLinePhaseTable(t *testing.T) {
	p := NewParser()

	cases := []struct {
		line string
		step int
		name string
	}{
		{"INFO loading the model weights from disk", 1, "Loading segmentation model"},
		{"preprocessing volume for inference", 2, "Preprocessing image"},
		{"now running segmentation on scan", 3, "Running segmentation"},
		{"Neural Shape Model fitting started", 7, "Running Neural Shape Model"},
		{"computing bscore for femur", 8, "Computing BScore"},
		{"all done", 10, "Complete"},
	}
	for _, tc := range cases {
		ev, ok := p.ParseLine(tc.line)
		if !ok {
			t.Fatalf("line %q did not parse", tc.line)
		}
		if ev.Step != tc.step || ev.StepName != tc.name {
			t.Fatalf("line %q = step %d %q, want %d %q", tc.line, ev.Step, ev.StepName, tc.step, tc.name)
		}
	}
}

// TestParseLineMarkerOutranksPercent checks precedence when a line carries
// both a marker and a percentage token.
func TestParseLineMarkerOutranksPercent(t *testing.T) {
	p := NewParser()

	ev, ok := p.ParseLine("Step 5 of 10: Generating 3D meshes (80%)")
	if !ok {
		t.Fatal("expected line to parse")
	}
	if ev.Step != 5 || ev.Percent != 50 {
		t.Fatalf("got step %d percent %d, want marker-derived 5/50", ev.Step, ev.Percent)
	}
}

// TestParseLinePercentFallback verifies the last-resort percentage tier.
func TestParseLinePercentFallback(t *testing.T) {
	p := NewParser()

	ev, ok := p.ParseLine("inference 45% ETA 2m")
	if !ok {
		t.Fatal("expected percent line to parse")
	}
	if ev.Percent != 45 {
		t.Fatalf("percent = %d, want 45", ev.Percent)
	}
	if ev.Step != 4 {
		t.Fatalf("step = %d, want 4", ev.Step)
	}
}

// TestParseLineRejectsNoise verifies non-progress lines yield no event.
func TestParseLineRejectsNoise(t *testing.T) {
	p := NewParser()

	for _, line := range []string{
		"",
		"   ",
		"tensorflow device initialization",
		"Step 12 of 10: impossible",
		"Step 0 of 10: impossible",
	} {
		if _, ok := p.ParseLine(line); ok {
			t.Fatalf("line %q should not parse", line)
		}
	}
}

// TestEstimateByTimeNeverReachesTerminal verifies the estimate cap.
func TestEstimateByTimeNeverReachesTerminal(t *testing.T) {
	p := NewParser()

	ev := p.EstimateByTime(2*time.Hour, 5*time.Minute)
	if ev.Percent != 95 {
		t.Fatalf("percent = %d, want capped 95", ev.Percent)
	}
	if ev.Step >= TotalSteps {
		t.Fatalf("step = %d, must stay below %d", ev.Step, TotalSteps)
	}
}

// TestEstimateByTimeEarly verifies a fresh job starts at the first step.
func TestEstimateByTimeEarly(t *testing.T) {
	p := NewParser()

	ev := p.EstimateByTime(0, 5*time.Minute)
	if ev.Step != 1 {
		t.Fatalf("step = %d, want 1", ev.Step)
	}
}

// TestEstimateByTimeDefaultExpectation verifies the zero-expectation default.
func TestEstimateByTimeDefaultExpectation(t *testing.T) {
	p := NewParser()

	ev := p.EstimateByTime(150*time.Second, 0)
	if ev.Percent != 50 {
		t.Fatalf("percent = %d, want 50 against the 5 minute default", ev.Percent)
	}
}
