package types

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeRunnerLine(t *testing.T) {
	line, err := EncodeRunnerLine(RunnerMessage{Type: EventTypeStage, StepID: "A", Status: "done"})
	if err != nil {
		t.Fatalf("EncodeRunnerLine failed: %v", err)
	}
	if !strings.HasPrefix(line, "EVENT/1 ") {
		t.Errorf("expected EVENT/1 marker, got %q", line)
	}
	if strings.Contains(line, "\n") {
		t.Errorf("line must not contain a newline: %q", line)
	}
}

func TestParseRunnerLine(t *testing.T) {
	t.Run("stage event", func(t *testing.T) {
		evt, err := ParseRunnerLine("job-1", `EVENT/1 {"type":"stage","stepId":"B","status":"failed","exitCode":3}`)
		if err != nil {
			t.Fatalf("ParseRunnerLine failed: %v", err)
		}
		stage, err := evt.Stage()
		if err != nil {
			t.Fatalf("Stage failed: %v", err)
		}
		if stage.JobID != "job-1" || stage.StepID != "B" || stage.Status != StageStatusFailed {
			t.Errorf("unexpected stage payload: %+v", stage)
		}
		if stage.ExitCode == nil || *stage.ExitCode != 3 {
			t.Errorf("expected exit code 3, got %v", stage.ExitCode)
		}
	})

	t.Run("done event", func(t *testing.T) {
		evt, err := ParseRunnerLine("job-1", `EVENT/1 {"type":"done","status":"succeeded"}`)
		if err != nil {
			t.Fatalf("ParseRunnerLine failed: %v", err)
		}
		if !evt.IsTerminal() {
			t.Fatal("expected terminal event")
		}
		done, _ := evt.Done()
		if done.Status != RunStatusSucceeded {
			t.Errorf("expected succeeded, got %s", done.Status)
		}
	})

	t.Run("round trip through encoder", func(t *testing.T) {
		line, _ := EncodeRunnerLine(RunnerMessage{Type: EventTypeDone, Status: string(RunStatusFailed), ExitCode: IntPtr(2)})
		evt, err := ParseRunnerLine("j", line)
		if err != nil {
			t.Fatalf("ParseRunnerLine failed: %v", err)
		}
		done, _ := evt.Done()
		if done.Status != RunStatusFailed || done.ExitCode == nil || *done.ExitCode != 2 {
			t.Errorf("unexpected done payload: %+v", done)
		}
	})

	tests := []struct {
		name string
		line string
		want error
	}{
		{"invalid json", `EVENT/1 {not json`, ErrMalformedEvent},
		{"unknown type", `EVENT/1 {"type":"progress","status":"done"}`, ErrMalformedEvent},
		{"stage without step", `EVENT/1 {"type":"stage","status":"done"}`, ErrMalformedEvent},
		{"bad stage status", `EVENT/1 {"type":"stage","stepId":"A","status":"running"}`, ErrMalformedEvent},
		{"bad done status", `EVENT/1 {"type":"done","status":"cancelled"}`, ErrMalformedEvent},
		{"future version", `EVENT/2 {"type":"done","status":"succeeded"}`, ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRunnerLine("j", tt.line)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestIsStructuredLine(t *testing.T) {
	if !IsStructuredLine(`EVENT/1 {}`) {
		t.Error("expected EVENT/1 line to be structured")
	}
	if !IsStructuredLine(`EVENT/9 {}`) {
		t.Error("expected any EVENT/ version to be structured")
	}
	if IsStructuredLine("Running ValidateClosestPoint") {
		t.Error("plain output must not be structured")
	}
}

func TestEventToSSE(t *testing.T) {
	got := string(NewLogEvent("hello", "").ToSSE())
	want := "event: log\ndata: {\"line\":\"hello\"}\n\n"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestFlowNodeKind(t *testing.T) {
	tests := []struct {
		name string
		node FlowNode
		want string
	}{
		{"top-level label", FlowNode{ID: "a", Label: "CollectInstances"}, "CollectInstances"},
		{"nested label", FlowNode{ID: "a", Data: &FlowNodeData{Label: "TestCreateCube"}}, "TestCreateCube"},
		{"top-level wins", FlowNode{ID: "a", Label: "X", Data: &FlowNodeData{Label: "Y"}}, "X"},
		{"no label", FlowNode{ID: "a"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.node.Kind(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
