package guardrail

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMaxArgumentBytes(t *testing.T) {
	guard := MaxArgumentBytes(10)

	result, err := guard.CheckInput(context.Background(), InputData{
		ToolName:  "upload",
		Arguments: json.RawMessage(`{"a":1}`),
	})
	if err != nil || result.Blocked {
		t.Fatalf("small arguments blocked: %+v, err %v", result, err)
	}

	result, err = guard.CheckInput(context.Background(), InputData{
		ToolName:  "upload",
		Arguments: json.RawMessage(`{"payload":"0123456789abcdef"}`),
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.Blocked || result.ModelMessage == "" {
		t.Fatalf("oversized arguments passed: %+v", result)
	}
}

func TestMaxArgumentBytesZeroLimitDisabled(t *testing.T) {
	guard := MaxArgumentBytes(0)
	result, _ := guard.CheckInput(context.Background(), InputData{
		Arguments: json.RawMessage(`{"payload":"anything goes"}`),
	})
	if result.Blocked {
		t.Fatal("zero limit should not block")
	}
}

func TestSecretArguments(t *testing.T) {
	guard := SecretArguments()

	cases := []struct {
		name    string
		args    string
		blocked bool
	}{
		{"api key", `{"api_key": "sk-123"}`, true},
		{"password", `{"password": "hunter2"}`, true},
		{"mixed case token", `{"Token": "abc"}`, true},
		{"plain", `{"city": "Oslo"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := guard.CheckInput(context.Background(), InputData{
				ToolName:  "fetch",
				Arguments: json.RawMessage(tc.args),
			})
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if result.Blocked != tc.blocked {
				t.Fatalf("blocked = %v, want %v for %s", result.Blocked, tc.blocked, tc.args)
			}
		})
	}
}

func TestDenySubstrings(t *testing.T) {
	guard := DenySubstrings("ssn:", "credit card")

	result, _ := guard.CheckOutput(context.Background(), OutputData{
		InputData: InputData{ToolName: "lookup"},
		Output:    "record found, ssn: 123-45-6789",
	})
	if !result.Blocked {
		t.Fatal("denied substring passed")
	}

	result, _ = guard.CheckOutput(context.Background(), OutputData{
		InputData: InputData{ToolName: "lookup"},
		Output:    "record found, no sensitive fields",
	})
	if result.Blocked {
		t.Fatal("clean output blocked")
	}
}

func TestFuncAdaptersWithNilFnPass(t *testing.T) {
	in := InputFunc{GuardName: "noop"}
	if result, err := in.CheckInput(context.Background(), InputData{}); err != nil || result.Blocked {
		t.Fatalf("nil input fn: %+v, err %v", result, err)
	}

	out := OutputFunc{GuardName: "noop"}
	if result, err := out.CheckOutput(context.Background(), OutputData{}); err != nil || result.Blocked {
		t.Fatalf("nil output fn: %+v, err %v", result, err)
	}
}
